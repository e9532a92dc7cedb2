package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("APP_ENV", "development")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.BatchResultTTL)
	assert.Equal(t, 120, cfg.GlobalRateLimit)
	assert.Equal(t, ":9091", cfg.WorkerMetricsAddr)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRequiresLLMKeyInProduction(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("APP_ENV", "production")
	t.Setenv("LLM_API_KEY", "")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "llm api key")

	t.Setenv("LLM_API_KEY", "k")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json", AppEnv: "staging"}, &buf).Info("hello")
	assert.Contains(t, buf.String(), `"service":"loomtale"`)
	assert.Contains(t, buf.String(), `"env":"staging"`)

	buf.Reset()
	newLogger(&Config{AppEnv: "production"}, &buf).Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
}
