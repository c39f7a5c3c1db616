package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// HTTP
	ListenAddr string `mapstructure:"listen-addr"`
	ServerURL  string `mapstructure:"server-url"`

	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Working directory
	WorkDir string `mapstructure:"work-dir"`

	// IIIF source
	IIIFBaseURL string `mapstructure:"iiif-base-url"`

	// Client-side tracking
	PollInterval   time.Duration `mapstructure:"poll-interval"`
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// How long finished sessions stay visible to pollers before the
	// progress store drops them
	ProgressRetention time.Duration `mapstructure:"progress-retention"`

	// Resource limits
	MaxWidth  int `mapstructure:"max-width"`
	MaxHeight int `mapstructure:"max-height"`
	MaxTiles  int `mapstructure:"max-tiles"`

	// Artifact archive (disabled when bucket is empty)
	ArchiveBucket string `mapstructure:"archive-bucket"`
	ArchiveRegion string `mapstructure:"archive-region"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	viper.SetDefault("listen-addr", ":5000")
	viper.SetDefault("server-url", "http://localhost:5000")
	viper.SetDefault("sqlite-path", ".artifacts/sessions.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	viper.SetDefault("work-dir", "/tmp/tilestitch")
	viper.SetDefault("iiif-base-url", "https://iiif-antenati.cultura.gov.it/iiif/2")
	viper.SetDefault("poll-interval", "1s")
	viper.SetDefault("request-timeout", "10s")
	viper.SetDefault("progress-retention", "1h")
	viper.SetDefault("max-width", 60000)
	viper.SetDefault("max-height", 60000)
	viper.SetDefault("max-tiles", 4096)
	viper.SetDefault("archive-bucket", "")
	viper.SetDefault("archive-region", "us-east-1")
	viper.SetDefault("fsm-max-retries", 5)

	// Environment variables (will be TILESTITCH_LISTEN_ADDR, etc.)
	viper.SetEnvPrefix("TILESTITCH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.tilestitch")

	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen-addr cannot be empty")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server-url cannot be empty")
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.IIIFBaseURL == "" {
		return fmt.Errorf("iiif-base-url cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be positive")
	}
	if c.ProgressRetention <= 0 {
		return fmt.Errorf("progress-retention must be positive")
	}
	if c.MaxWidth <= 0 || c.MaxHeight <= 0 {
		return fmt.Errorf("max-width and max-height must be positive")
	}
	if c.MaxTiles <= 0 {
		return fmt.Errorf("max-tiles must be positive")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}
