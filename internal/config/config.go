// Package config loads application configuration from an optional YAML file
// plus environment variables, with a .env file picked up automatically.
// Environment variables win over the file.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names the storage technology a process runs against.
const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// Config is the composition root's view of the environment.
type Config struct {
	// Store selects the backend: "sqlite" or "firestore".
	Store string `yaml:"store"`

	// Owner is the resolved identity all data is scoped to. It comes from
	// the external auth bootstrap; this layer only carries it.
	Owner string `yaml:"owner"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	Firestore struct {
		ProjectID string `yaml:"project_id"`
	} `yaml:"firestore"`

	// Listen is the HTTP façade's bind address.
	Listen string `yaml:"listen"`
}

// Load reads configuration. A .env in the working directory is applied if
// present; path, when non-empty, names a YAML file to start from.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Load: reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("Load: parsing config file: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONTO_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("CONTO_OWNER"); v != "" {
		cfg.Owner = v
	}
	if v := os.Getenv("CONTO_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("CONTO_FIRESTORE_PROJECT"); v != "" {
		cfg.Firestore.ProjectID = v
	}
	if v := os.Getenv("CONTO_LISTEN"); v != "" {
		cfg.Listen = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Store == "" {
		cfg.Store = BackendSQLite
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "conto.db"
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
}

// Validate checks the loaded configuration for consistency.
func (c *Config) Validate() error {
	switch c.Store {
	case BackendSQLite:
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("Validate: firestore backend requires a project id")
		}
	default:
		return fmt.Errorf("Validate: unknown store backend %q", c.Store)
	}
	return nil
}
