// Package config handles Parley configuration loading.
//
// Configuration comes from two layers: an optional YAML file for
// operational settings (listen address, limits, log level) and
// environment variables for credentials and endpoints. A .env file in
// the working directory is loaded first when present, so local
// development matches production env-sourcing.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names for required and optional settings.
const (
	EnvEndpoint    = "AZURE_OPENAI_ENDPOINT"
	EnvAPIKey      = "AZURE_OPENAI_API_KEY"
	EnvAPIVersion  = "AZURE_OPENAI_API_VERSION"
	EnvDeployment  = "AZURE_OPENAI_DEPLOYMENT_NAME"
	EnvStorePath   = "PARLEY_STORE_PATH"
	EnvStoreDBName = "PARLEY_STORE_DATABASE"
)

// Config holds all Parley configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Completion CompletionConfig `yaml:"completion"`
	Store      StoreConfig      `yaml:"store"`
	Agent      AgentConfig      `yaml:"agent"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// CompletionConfig defines the hosted completion service settings.
// Endpoint, APIKey, APIVersion, and Deployment are required and are
// normally sourced from the environment (see Env* constants).
type CompletionConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	APIVersion  string  `yaml:"api_version"`
	Deployment  string  `yaml:"deployment"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// StoreConfig defines the conversation store settings. Both values
// have local defaults and are never required.
type StoreConfig struct {
	Path     string `yaml:"path"`     // Directory for the database file
	Database string `yaml:"database"` // Database name (file stem)
}

// AgentConfig defines control loop settings.
type AgentConfig struct {
	MaxIterations  int `yaml:"max_iterations"`
	HistoryContext int `yaml:"history_context"` // Records folded into the prompt
}

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/parley/config.yaml, /etc/parley/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "parley", "config.yaml"))
	}

	paths = append(paths, "/etc/parley/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// An empty return with nil error means no file was found; env-only
// configuration applies.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", nil
}

// Load builds the effective configuration. A .env file is applied to the
// process environment first (missing file is fine), then the YAML file at
// path is parsed when path is non-empty, and finally environment variables
// override the completion and store settings. Validate is the caller's
// responsibility.
func Load(path string) (*Config, error) {
	// Optional for local development, same as the production env path.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// Expand ${VAR} references so secrets can stay in the environment.
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		Completion: CompletionConfig{
			Temperature: 0.7,
			MaxTokens:   1024,
		},
		Store: StoreConfig{
			Path:     "data",
			Database: "parley",
		},
		Agent: AgentConfig{
			MaxIterations:  10,
			HistoryContext: 3,
		},
	}
}

// applyEnv overlays environment variables onto the config. Environment
// values win over file values so deployments can override without
// editing the file.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvEndpoint); v != "" {
		c.Completion.Endpoint = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Completion.APIKey = v
	}
	if v := os.Getenv(EnvAPIVersion); v != "" {
		c.Completion.APIVersion = v
	}
	if v := os.Getenv(EnvDeployment); v != "" {
		c.Completion.Deployment = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvStoreDBName); v != "" {
		c.Store.Database = v
	}
}

// Validate checks that all required settings are present and sane.
// The process should fail fast at startup when this returns an error.
func (c *Config) Validate() error {
	if c.Completion.Endpoint == "" {
		return fmt.Errorf("%s is not set", EnvEndpoint)
	}
	if c.Completion.APIKey == "" {
		return fmt.Errorf("%s is not set", EnvAPIKey)
	}
	if c.Completion.APIVersion == "" {
		return fmt.Errorf("%s is not set", EnvAPIVersion)
	}
	if c.Completion.Deployment == "" {
		return fmt.Errorf("%s is not set", EnvDeployment)
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen port: %d", c.Listen.Port)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// DatabaseFile returns the full path of the SQLite database file.
func (c *StoreConfig) DatabaseFile() string {
	return filepath.Join(c.Path, c.Database+".db")
}
