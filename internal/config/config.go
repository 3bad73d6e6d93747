// Package config loads and validates engine configuration.
//
// Config file locations (priority order):
//  1. $INFRAPULSE_CONFIG
//  2. ./infrapulse.yaml
//  3. /etc/infrapulse/config.yaml
//
// Values of the form ${VAR} are expanded from the environment, so the
// vault key and API tokens can stay out of the file itself.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"infrapulse/internal/logging"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Config is the root configuration structure.
type Config struct {
	Listen string         `yaml:"listen"`
	DBPath string         `yaml:"db_path"`
	Log    logging.Config `yaml:"log"`

	// VaultKey is the base64-encoded 32-byte symmetric key protecting
	// endpoint secrets at rest. Read once at startup, immutable after.
	VaultKey string `yaml:"vault_key"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Auth      AuthConfig      `yaml:"auth"`
}

// SchedulerConfig tunes the poll orchestrator.
type SchedulerConfig struct {
	Tick           Duration `yaml:"tick"`
	WorkerPoolSize int      `yaml:"worker_pool_size"`
	BackoffInitial Duration `yaml:"backoff_initial"`
	BackoffMax     Duration `yaml:"backoff_max"`
	StaleAfter     Duration `yaml:"stale_after"`
}

// AuthConfig holds the static bearer tokens accepted while the real
// authentication subsystem lives outside this engine. Empty tokens
// disable the corresponding access level.
type AuthConfig struct {
	AdminToken  string `yaml:"admin_token"`
	ViewerToken string `yaml:"viewer_token"`
}

// Load finds and loads the config file, or returns defaults if none found.
func Load() (*Config, string, error) {
	path := findConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		return cfg, "", cfg.validate()
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "./infrapulse.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.VaultKey == "" {
		c.VaultKey = os.Getenv("INFRAPULSE_VAULT_KEY")
	}
	if c.Scheduler.Tick == 0 {
		c.Scheduler.Tick = Duration(5 * time.Second)
	}
	if c.Scheduler.WorkerPoolSize == 0 {
		c.Scheduler.WorkerPoolSize = 8
	}
	if c.Scheduler.BackoffInitial == 0 {
		c.Scheduler.BackoffInitial = Duration(30 * time.Second)
	}
	if c.Scheduler.BackoffMax == 0 {
		c.Scheduler.BackoffMax = Duration(15 * time.Minute)
	}
	if c.Scheduler.StaleAfter == 0 {
		c.Scheduler.StaleAfter = Duration(1 * time.Hour)
	}
}

func (c *Config) validate() error {
	if c.VaultKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.VaultKey)
		if err != nil {
			return fmt.Errorf("vault_key is not valid base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("vault_key must decode to 32 bytes, got %d", len(key))
		}
	}
	if c.Scheduler.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be at least 1")
	}
	return nil
}

// VaultKeyBytes decodes the configured vault key.
func (c *Config) VaultKeyBytes() ([]byte, error) {
	if c.VaultKey == "" {
		return nil, fmt.Errorf("vault_key is not configured")
	}
	return base64.StdEncoding.DecodeString(c.VaultKey)
}

func findConfigPath() string {
	if path := os.Getenv("INFRAPULSE_CONFIG"); path != "" {
		return path
	}
	for _, candidate := range []string{"./infrapulse.yaml", "/etc/infrapulse/config.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
