package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/skuforge/catalogd/internal/api"
	"github.com/skuforge/catalogd/internal/bytesize"
	"github.com/skuforge/catalogd/pkg/catalog/store"
)

// Config represents the catalogd configuration.
//
// This structure captures the static configuration of the server:
//   - Logging configuration
//   - Server settings (shutdown timeout, metrics, API)
//   - Database connection (catalogue persistence)
//   - Blob storage location (chunks, assembled files, image variants)
//   - Upload session limits and expiry
//   - CSV import behavior
//   - Background job workers
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (CATALOGD_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the catalogue database (SQLite or PostgreSQL).
	// This is the persistent store for uploads, images, products, and
	// import logs.
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Storage configures the blob store for chunks, assembled files,
	// and generated image variants.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains HTTP API server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Upload contains chunked upload session limits
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Import contains CSV import behavior
	Import ImportConfig `mapstructure:"import" yaml:"import"`

	// Queue contains background job worker configuration
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// StorageConfig configures the filesystem blob store.
type StorageConfig struct {
	// Path is the root directory for blob storage (required).
	// Chunks live under chunks/<upload_id>/, assembled files under
	// uploads/, image variants under images/<variant>/.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics server is started.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP server is started
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// UploadConfig contains chunked upload session limits.
type UploadConfig struct {
	// MaxTotalSize is the largest accepted declared file size.
	// Default: 5GiB
	MaxTotalSize bytesize.ByteSize `mapstructure:"max_total_size" yaml:"max_total_size"`

	// MaxChunks is the largest accepted chunk count per upload.
	// Default: 10000
	MaxChunks int `mapstructure:"max_chunks" validate:"omitempty,min=1" yaml:"max_chunks"`

	// MinChunkSize is the smallest accepted implied chunk size
	// (total_size / total_chunks).
	// Default: 5KiB
	MinChunkSize bytesize.ByteSize `mapstructure:"min_chunk_size" yaml:"min_chunk_size"`

	// MaxChunkSize is the largest accepted implied chunk size.
	// Default: 100MiB
	MaxChunkSize bytesize.ByteSize `mapstructure:"max_chunk_size" yaml:"max_chunk_size"`

	// SessionTTL is how long a non-terminal upload session may stay
	// idle before the expiry sweep marks it failed and removes its
	// chunks.
	// Default: 24h
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`

	// SweepInterval is how often the expiry sweep runs.
	// Default: 1h
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// ImportConfig contains CSV import behavior.
type ImportConfig struct {
	// LocalFileRoot restricts which local paths an image reference may
	// point at. Empty disables local-path ingestion.
	LocalFileRoot string `mapstructure:"local_file_root" yaml:"local_file_root"`

	// FetchTimeout bounds a single remote image fetch.
	// Default: 30s
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`

	// MaxErrorDetails caps how many per-row error records are kept on
	// an import log. Counters stay accurate beyond the cap.
	// Default: 1000
	MaxErrorDetails int `mapstructure:"max_error_details" validate:"omitempty,min=1" yaml:"max_error_details"`

	// S3 configures access for s3:// image references.
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures the client for s3:// image references. All
// fields are optional; empty values fall back to the ambient AWS
// environment (shared config, environment variables, instance roles).
type S3Config struct {
	// Endpoint overrides the S3 endpoint, for S3-compatible stores
	// like MinIO.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Region is the AWS region.
	Region string `mapstructure:"region" yaml:"region"`

	// AccessKeyID and SecretAccessKey set static credentials.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`

	// ForcePathStyle uses path-style addressing, required by most
	// S3-compatible stores.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// QueueConfig contains background job worker configuration.
type QueueConfig struct {
	// Workers is the number of concurrent job workers.
	// Default: 4
	Workers int `mapstructure:"workers" validate:"omitempty,min=1" yaml:"workers"`

	// Capacity is the size of the pending job buffer.
	// Default: 256
	Capacity int `mapstructure:"capacity" validate:"omitempty,min=1" yaml:"capacity"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CATALOGD_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  catalogd init\n\n"+
				"Or specify a custom config file:\n"+
				"  catalogd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  catalogd init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Restricted permissions: the file may carry database credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use CATALOGD_ prefix and underscores
	// Example: CATALOGD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CATALOGD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/catalogd/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use
// human-readable sizes like "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "catalogd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "catalogd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
