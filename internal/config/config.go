package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ATTACHD_STORAGE_PATH.
const EnvPrefix = "ATTACHD"

// Config holds all runtime configuration for the attachment service.
type Config struct {
	Port                 string         `mapstructure:"port"`
	StoragePath          string         `mapstructure:"storage_path"`
	ServiceToken         string         `mapstructure:"service_token"`
	MaxConcurrentUploads int            `mapstructure:"max_concurrent_uploads"`
	MaxUploadBytes       int64          `mapstructure:"max_upload_bytes"`
	MinFreeBytes         int64          `mapstructure:"min_free_bytes"`
	Compress             CompressConfig `mapstructure:"compress"`
	Cleanup              CleanupConfig  `mapstructure:"cleanup"`
	Log                  LogConfig      `mapstructure:"log"`
}

// CompressConfig toggles the post-upload compression pipeline.
type CompressConfig struct {
	Enabled bool `mapstructure:"enabled"`
	PDF     bool `mapstructure:"pdf"`
}

// CleanupConfig controls the stale temp-file sweeper.
type CleanupConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from defaults, an optional file and ATTACHD_*
// environment variables, in increasing order of precedence.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "5000")
	v.SetDefault("storage_path", "/data/attachments")
	v.SetDefault("service_token", "")
	v.SetDefault("max_concurrent_uploads", 64)
	v.SetDefault("max_upload_bytes", 50<<20) // 50 MB
	v.SetDefault("min_free_bytes", 512<<20)  // 512 MB
	v.SetDefault("compress.enabled", true)
	v.SetDefault("compress.pdf", true)
	v.SetDefault("cleanup.ttl", 24*time.Hour)
	v.SetDefault("cleanup.interval", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StoragePath) == "" {
		errs = append(errs, errors.New("storage_path must not be empty"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port must not be empty"))
	}
	if c.MaxConcurrentUploads <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_uploads must be positive, got %d", c.MaxConcurrentUploads))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.Cleanup.TTL <= 0 || c.Cleanup.Interval <= 0 {
		errs = append(errs, errors.New("cleanup.ttl and cleanup.interval must be positive"))
	}
	return errors.Join(errs...)
}
