package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/mcpcreds/internal/observability"
	"github.com/florianilch/mcpcreds/internal/tokenstore"
	"github.com/florianilch/mcpcreds/internal/trust"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Default configuration values
const (
	DefaultConfigLogFormat          = LogFormatText
	DefaultConfigLogExporter        = observability.ExporterNone
	DefaultConfigStorageService     = tokenstore.DefaultService
	DefaultConfigStorageFileName    = "mcp-oauth-tokens.enc"
	DefaultConfigTrustInheritance   = trust.InheritExplicit
	DefaultConfigTrustRelaunchDelay = trust.DefaultRelaunchDelay
	DefaultConfigCompanionHost      = "127.0.0.1"
	DefaultConfigCompanionPort      = 4180
	DefaultConfigShutdownTimeout    = 5 * time.Second
)

// configDirName is the directory below os.UserConfigDir holding mcpcreds state.
const configDirName = "mcpcreds"

// StorageConfig describes where credentials are stored.
type StorageConfig struct {
	// Service namespaces keyring entries and seeds the file encryption key.
	Service string `json:"service" validate:"required"`
	// File is the encrypted fallback file.
	File string `json:"file" validate:"required"`
	// ForceFile skips the keyring probe, like MCPCREDS_FORCE_FILE_STORAGE=true.
	ForceFile bool `json:"force_file"`
	// JSONRefresh sends token refresh requests JSON-encoded.
	JSONRefresh bool `json:"json_refresh"`
}

// TrustConfig describes folder trust.
type TrustConfig struct {
	Enabled       bool                  `json:"enabled"`
	File          string                `json:"file" validate:"required"`
	Inheritance   trust.InheritanceMode `json:"inheritance" validate:"oneof=explicit ancestor"`
	RelaunchDelay time.Duration         `json:"relaunch_delay" validate:"gte=0"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level             `json:"log_level"`
	LogFormat   LogFormat              `json:"log_format" validate:"oneof=text json"`
	LogExporter observability.Exporter `json:"log_exporter" validate:"oneof=none stdout otlp-grpc otlp-http"`
	Storage     StorageConfig          `json:"storage"`
	Trust       TrustConfig            `json:"trust"`
	Companion   ServerConfig           `json:"companion"`
	Shutdown    ShutdownConfig         `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.LogExporter == "" {
		c.LogExporter = DefaultConfigLogExporter
	}
	if c.Storage.Service == "" {
		c.Storage.Service = DefaultConfigStorageService
	}
	if c.Trust.Inheritance == "" {
		c.Trust.Inheritance = DefaultConfigTrustInheritance
	}
	if c.Trust.RelaunchDelay == 0 {
		c.Trust.RelaunchDelay = DefaultConfigTrustRelaunchDelay
	}
	if c.Companion.Host == "" {
		c.Companion.Host = DefaultConfigCompanionHost
	}
	if c.Companion.Port == 0 {
		c.Companion.Port = DefaultConfigCompanionPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	// Paths default below the user config directory
	if c.Storage.File == "" || c.Trust.File == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("storage.file and trust.file required (auto-detect failed: %w)", err)
		}
		if c.Storage.File == "" {
			c.Storage.File = filepath.Join(configDir, configDirName, DefaultConfigStorageFileName)
		}
		if c.Trust.File == "" {
			c.Trust.File = filepath.Join(configDir, configDirName, trust.DefaultFoldersFile)
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Storage.File == c.Trust.File {
		return errors.New("storage.file and trust.file must differ")
	}

	return nil
}
