package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smartpneu/label-engine/internal/dispatch"
	"github.com/smartpneu/label-engine/internal/printer"
)

type Config struct {
	Server  ServerConfig     `yaml:"server"`
	Storage StorageConfig    `yaml:"storage"`
	Shop    ShopConfig       `yaml:"shop"`
	Queue   QueueConfig      `yaml:"queue"`
	Devices []printer.Device `yaml:"devices"`
	Logging LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ArtifactDir  string `yaml:"artifact_dir"`
	FontPath     string `yaml:"font_path"`
	FontBoldPath string `yaml:"font_bold_path"`

	// JobRetention bounds how long finished print jobs stay in the
	// database. Zero disables pruning.
	JobRetention time.Duration `yaml:"job_retention"`
}

// ShopConfig carries storefront identity baked into every label.
type ShopConfig struct {
	BaseURL string `yaml:"base_url"`
}

type QueueConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Workers        int           `yaml:"workers"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			DatabasePath: "./data/labels.db",
			ArtifactDir:  "./data/labels",
			JobRetention: 30 * 24 * time.Hour,
		},
		Shop: ShopConfig{
			BaseURL: "https://smartpneu.com",
		},
		Queue: QueueConfig{
			MaxAttempts:    dispatch.DefaultPolicy.MaxAttempts,
			BaseBackoff:    dispatch.DefaultPolicy.BaseBackoff,
			MaxBackoff:     dispatch.DefaultPolicy.MaxBackoff,
			AttemptTimeout: dispatch.DefaultPolicy.AttemptTimeout,
			Workers:        dispatch.DefaultPolicy.Workers,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at configPath on top of built-in defaults, then
// applies LABELD_* environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LABELD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LABELD_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("LABELD_ARTIFACT_DIR"); v != "" {
		c.Storage.ArtifactDir = v
	}
	if v := os.Getenv("LABELD_BASE_URL"); v != "" {
		c.Shop.BaseURL = v
	}
	if v := os.Getenv("LABELD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Policy maps the queue section onto the dispatcher's retry policy.
func (c *Config) Policy() dispatch.Policy {
	return dispatch.Policy{
		MaxAttempts:    c.Queue.MaxAttempts,
		BaseBackoff:    c.Queue.BaseBackoff,
		MaxBackoff:     c.Queue.MaxBackoff,
		AttemptTimeout: c.Queue.AttemptTimeout,
		Workers:        c.Queue.Workers,
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database path is required")
	}

	if c.Storage.ArtifactDir == "" {
		return fmt.Errorf("storage artifact dir is required")
	}

	if c.Storage.JobRetention < 0 {
		return fmt.Errorf("storage job retention must be non-negative")
	}

	if c.Shop.BaseURL == "" {
		return fmt.Errorf("shop base URL is required")
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max attempts must be at least 1")
	}

	if c.Queue.BaseBackoff < 0 || c.Queue.MaxBackoff < 0 || c.Queue.AttemptTimeout < 0 {
		return fmt.Errorf("queue durations must be non-negative")
	}

	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue worker count must be at least 1")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}
