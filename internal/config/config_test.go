package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvEndpoint, EnvAPIKey, EnvAPIVersion, EnvDeployment, EnvStorePath, EnvStoreDBName} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Port != 8000 {
		t.Errorf("default port = %d, want 8000", cfg.Listen.Port)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("default max_iterations = %d, want 10", cfg.Agent.MaxIterations)
	}
	if cfg.Store.Database != "parley" {
		t.Errorf("default store database = %q, want parley", cfg.Store.Database)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
listen:
  port: 9000
agent:
  max_iterations: 5
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Listen.Port)
	}
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("max_iterations = %d, want 5", cfg.Agent.MaxIterations)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEndpoint, "https://env.openai.azure.com")
	t.Setenv(EnvStoreDBName, "envdb")

	path := writeConfig(t, `
completion:
  endpoint: https://file.openai.azure.com
store:
  database: filedb
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Completion.Endpoint != "https://env.openai.azure.com" {
		t.Errorf("endpoint = %q, want env value", cfg.Completion.Endpoint)
	}
	if cfg.Store.Database != "envdb" {
		t.Errorf("store database = %q, want envdb", cfg.Store.Database)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Completion.Endpoint = "https://example.openai.azure.com"
		cfg.Completion.APIKey = "key"
		cfg.Completion.APIVersion = "2024-02-01"
		cfg.Completion.Deployment = "gpt-4.1"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "complete", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing endpoint", mutate: func(c *Config) { c.Completion.Endpoint = "" }, wantErr: true},
		{name: "missing api key", mutate: func(c *Config) { c.Completion.APIKey = "" }, wantErr: true},
		{name: "missing api version", mutate: func(c *Config) { c.Completion.APIVersion = "" }, wantErr: true},
		{name: "missing deployment", mutate: func(c *Config) { c.Completion.Deployment = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Listen.Port = -1 }, wantErr: true},
		{name: "zero iterations", mutate: func(c *Config) { c.Agent.MaxIterations = 0 }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: true},
		{name: "store defaults are optional", mutate: func(c *Config) { c.Store = StoreConfig{Path: "data", Database: "parley"} }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "info", want: slog.LevelInfo},
		{in: "trace", want: LevelTrace},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: " warn ", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDatabaseFile(t *testing.T) {
	sc := StoreConfig{Path: "/var/lib/parley", Database: "chatbot"}
	want := filepath.Join("/var/lib/parley", "chatbot.db")
	if got := sc.DatabaseFile(); got != want {
		t.Errorf("DatabaseFile() = %q, want %q", got, want)
	}
}
