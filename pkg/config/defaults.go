package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skuforge/catalogd/internal/bytesize"
	"github.com/skuforge/catalogd/pkg/catalog/store"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyDatabaseDefaults(&cfg.Database)
	applyStorageDefaults(&cfg.Storage)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(cfg)
	applyUploadDefaults(&cfg.Upload)
	applyImportDefaults(&cfg.Import)
	applyQueueDefaults(&cfg.Queue)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyDatabaseDefaults sets catalogue database defaults.
func applyDatabaseDefaults(cfg *store.Config) {
	cfg.ApplyDefaults()
}

// applyStorageDefaults sets the blob storage root default.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Path == "" {
		cfg.Path = defaultStorageDir()
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyAPIDefaults sets API server defaults.
// The API is always enabled; it is the only surface of the service.
func applyAPIDefaults(cfg *Config) {
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = 120 * time.Second
	}
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = 120 * time.Second
	}
	if cfg.API.IdleTimeout == 0 {
		cfg.API.IdleTimeout = 60 * time.Second
	}
	if cfg.API.RequestTimeout == 0 {
		cfg.API.RequestTimeout = 300 * time.Second
	}
	if cfg.API.MaxBodySize == 0 {
		cfg.API.MaxBodySize = 192 * bytesize.MiB
	}
}

// applyUploadDefaults sets chunked upload session defaults.
func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.MaxTotalSize == 0 {
		cfg.MaxTotalSize = 5 * bytesize.GiB
	}
	if cfg.MaxChunks == 0 {
		cfg.MaxChunks = 10000
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = 5 * bytesize.KiB
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = 100 * bytesize.MiB
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour
	}
}

// applyImportDefaults sets CSV import defaults.
func applyImportDefaults(cfg *ImportConfig) {
	// LocalFileRoot has no default: local-path ingestion is opt-in.
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.MaxErrorDetails == 0 {
		cfg.MaxErrorDetails = 1000
	}
}

// applyQueueDefaults sets background worker defaults.
func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 256
	}
}

// defaultStorageDir returns the default blob storage root.
//
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share, or falls back
// to ./data if home directory cannot be determined.
func defaultStorageDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "catalogd", "blobs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("data", "blobs")
	}

	return filepath.Join(home, ".local", "share", "catalogd", "blobs")
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite, // Default to SQLite for single-node
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
