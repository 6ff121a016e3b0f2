package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid or inconsistent values.
//
// Struct tags cover the field-level rules; cross-field rules that tags
// cannot express are checked explicitly afterwards.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid value for %s: failed %q constraint", e.Namespace(), e.Tag())
		}
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.Upload.MinChunkSize > cfg.Upload.MaxChunkSize {
		return fmt.Errorf("upload: min_chunk_size (%s) exceeds max_chunk_size (%s)",
			cfg.Upload.MinChunkSize, cfg.Upload.MaxChunkSize)
	}
	if cfg.Upload.SessionTTL < 0 {
		return fmt.Errorf("upload: session_ttl must not be negative")
	}
	if cfg.Upload.SweepInterval < 0 {
		return fmt.Errorf("upload: sweep_interval must not be negative")
	}
	if cfg.Import.FetchTimeout < 0 {
		return fmt.Errorf("import: fetch_timeout must not be negative")
	}

	return nil
}
