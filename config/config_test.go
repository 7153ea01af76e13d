package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "inmem", cfg.Store.Backend)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentb.yaml")
	yaml := "llm:\n  provider: openai\n  model: gpt-4o\nstore:\n  backend: redis\n  redis_addr: localhost:6379\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentb.toml")
	doc := "[llm]\nprovider = \"anthropic\"\nmodel = \"claude-opus-4\"\n\n[store]\nbackend = \"postgres\"\npostgres_dsn = \"postgres://localhost/agentb\"\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", cfg.LLM.Model)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/agentb", cfg.Store.PostgresDSN)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: anthropic\n"), 0o644))
	t.Setenv("AGENTB_LLM_PROVIDER", "openai")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestDefaultRunConfigHasWithDefaultsApplied(t *testing.T) {
	cfg := config.Default()
	assert.NotZero(t, cfg.RunDefaults.ContextManager.SummaryTriggerRatio)
	assert.NotZero(t, cfg.RunDefaults.ToolExecutor.MaxConcurrency)
}
