package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

const baseYAML = `
server:
  port: ":8000"
db:
  host: localhost
  port: 5432
  user: pm
  password: pm
  name: pm
redis:
  addr: localhost:6379
  idempotency_ttl: 1h
llm:
  provider: deepseek
  api_key: ${PMB_CFG_TEST_LLM_KEY}
  generator_timeout: 45s
store:
  driver: postgres
  commit_timeout: 5s
outbox:
  enabled: true
  interval: 500ms
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", baseYAML)
	writeConfig(t, dir, "local.yaml", "store:\n  driver: memory\noutbox:\n  enabled: false\nllm:\n  provider: mock\n")
	t.Setenv("PMB_CFG_TEST_LLM_KEY", "sk-test")

	t.Run("base", func(t *testing.T) {
		cfg, err := Load("base", dir)
		require.NoError(t, err)

		assert.Equal(t, ":8000", cfg.Server.Port)
		assert.Equal(t, 5432, cfg.DB.Port)
		assert.Equal(t, time.Hour, cfg.Redis.IdempotencyTTL)
		assert.Equal(t, "sk-test", cfg.LLM.APIKey)
		assert.Equal(t, 45*time.Second, cfg.LLM.GeneratorTimeout)
		assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
		assert.Equal(t, 5*time.Second, cfg.Store.CommitTimeout)
		assert.True(t, cfg.Outbox.Enabled)
		assert.Equal(t, 500*time.Millisecond, cfg.Outbox.Interval)

		// 默认值
		require.NotNil(t, cfg.LLM.Temperature)
		assert.Equal(t, 0.7, *cfg.LLM.Temperature)
		assert.Equal(t, 4096, cfg.LLM.MaxTokens)
		assert.Equal(t, 50000, cfg.RAG.MaxContextLength)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	})

	t.Run("environment overlay", func(t *testing.T) {
		cfg, err := Load("local", dir)
		require.NoError(t, err)
		assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
		assert.Equal(t, ProviderMock, cfg.LLM.Provider)
		assert.False(t, cfg.Outbox.Enabled)
	})

	t.Run("zero temperature is kept", func(t *testing.T) {
		writeConfig(t, dir, "deterministic.yaml", "llm:\n  temperature: 0\n")
		cfg, err := Load("deterministic", dir)
		require.NoError(t, err)
		require.NotNil(t, cfg.LLM.Temperature)
		assert.Equal(t, 0.0, *cfg.LLM.Temperature)
	})

	t.Run("environment variables win", func(t *testing.T) {
		t.Setenv("SUPER_SECRET_API_KEY", "plain-key")
		t.Setenv("DEEPSEEK_API_KEY", "sk-env")
		t.Setenv("SERVER_PORT", ":9000")
		t.Setenv("AUTH_ENABLED", "true")

		cfg, err := Load("base", dir)
		require.NoError(t, err)
		assert.Equal(t, "plain-key", cfg.Auth.APIKey)
		assert.True(t, cfg.Auth.Enabled)
		assert.Equal(t, "sk-env", cfg.LLM.APIKey)
		assert.Equal(t, ":9000", cfg.Server.Port)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.LLM.Provider = ProviderMock
		c.applyDefaults()
		return c
	}

	require.NoError(t, valid().Validate())

	c := valid()
	c.Store.Driver = "sqlite"
	assert.ErrorContains(t, c.Validate(), "store.driver")

	c = valid()
	c.LLM.Provider = ProviderDeepSeek
	assert.ErrorContains(t, c.Validate(), "llm.api_key")

	c = valid()
	c.LLM.Provider = "gemini"
	assert.ErrorContains(t, c.Validate(), "unknown llm.provider")

	c = valid()
	hot := 2.5
	c.LLM.Temperature = &hot
	assert.ErrorContains(t, c.Validate(), "llm.temperature")

	c = valid()
	c.Store.Driver = StoreDriverMemory
	c.Outbox.Enabled = true
	assert.ErrorContains(t, c.Validate(), "outbox.enabled")
}
