// Package config loads the operator-facing bootstrap document that selects
// an LLM provider, a store backend, and the default RunConfig a coordinator
// applies to new runs. Loading follows the teacher's own convention:
// defaults, then a YAML file, then environment variable overrides (env
// wins), with TOML as a secondary file format for operators who prefer it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ulifeai/agentb/model"
)

// LLMConfig selects and configures the llm.Client backing a coordinator.
type LLMConfig struct {
	Provider     string  `yaml:"provider" toml:"provider"` // "anthropic" | "openai"
	Model        string  `yaml:"model" toml:"model"`
	APIKey       string  `yaml:"api_key" toml:"api_key"`
	MaxTokens    int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature  float64 `yaml:"temperature" toml:"temperature"`
}

// StoreConfig selects the persistence backend for threads/messages/runs.
type StoreConfig struct {
	Backend    string `yaml:"backend" toml:"backend"` // "inmem" | "redis" | "postgres"
	RedisAddr  string `yaml:"redis_addr" toml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db" toml:"redis_db"`
	PostgresDSN string `yaml:"postgres_dsn" toml:"postgres_dsn"`
	KeyPrefix  string `yaml:"key_prefix" toml:"key_prefix"`
}

// TelemetryConfig selects the logging/metrics/tracing backends.
type TelemetryConfig struct {
	Logger  string `yaml:"logger" toml:"logger"`   // "zap" | "noop"
	Metrics string `yaml:"metrics" toml:"metrics"` // "otel" | "prometheus" | "noop"
	Tracer  string `yaml:"tracer" toml:"tracer"`   // "otel" | "noop"
}

// JanitorConfig configures the orphaned-run reaper.
type JanitorConfig struct {
	Schedule string `yaml:"schedule" toml:"schedule"` // cron expression, e.g. "*/1 * * * *"
}

// Config is the top-level bootstrap document.
type Config struct {
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Janitor   JanitorConfig   `yaml:"janitor" toml:"janitor"`
	RunDefaults model.RunConfig `yaml:"run_defaults" toml:"run_defaults"`
}

// Default returns a Config usable against the in-memory store with no
// external services configured; callers still must supply an API key.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Store: StoreConfig{Backend: "inmem"},
		Telemetry: TelemetryConfig{
			Logger:  "zap",
			Metrics: "otel",
			Tracer:  "otel",
		},
		Janitor:     JanitorConfig{Schedule: "*/1 * * * *"},
		RunDefaults: model.RunConfig{}.WithDefaults(),
	}
}

// Load reads config: defaults -> file (YAML or TOML, by extension) -> env
// vars (env wins). A missing path is not an error; Load returns Default()
// with only env overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := decode(path, data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTB_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("AGENTB_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AGENTB_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("AGENTB_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("AGENTB_STORE_REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := os.Getenv("AGENTB_STORE_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("AGENTB_TELEMETRY_METRICS"); v != "" {
		cfg.Telemetry.Metrics = v
	}
	if v := os.Getenv("AGENTB_JANITOR_SCHEDULE"); v != "" {
		cfg.Janitor.Schedule = v
	}
	if v := os.Getenv("AGENTB_LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxTokens = n
		}
	}
}
