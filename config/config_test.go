package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/polyforecast/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Trading.MinEdge)
	assert.Equal(t, 0.25, cfg.Trading.KellyFraction)
	assert.Equal(t, 0.05, cfg.Trading.MaxPositionPct)
	assert.Equal(t, 20, cfg.Trading.MaxOpenPositions)
	assert.Equal(t, 10_000.0, cfg.Trading.VirtualBankroll)
	assert.True(t, cfg.Trading.Paper())

	assert.Equal(t, 60*time.Second, cfg.ModelTimeout())
	assert.Equal(t, 24*time.Hour, cfg.RestaleAfter())
	assert.Equal(t, "min", cfg.Forecast.ConfidenceAggregate)
	assert.Equal(t, []string{"claude-sonnet-4-6", "gpt-4.1", "deepseek-chat"}, cfg.Models.Ensemble)

	assert.Equal(t, 0.28, cfg.Learning.KillBrier)
	assert.Equal(t, 0.25, cfg.Learning.EntropyStep)
	assert.Equal(t, 20, cfg.Learning.PromptMinTrials)

	assert.Equal(t, []string{"entertainment", "technology"}, cfg.News.DisabledDomains)
	assert.Equal(t, "0 15 */4 * * *", cfg.Schedule.Forecast)
	assert.Equal(t, "polyforecast.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParse_YAMLValues(t *testing.T) {
	cfg, err := config.Parse([]byte(`
trading:
  min_edge: 0.08
  paper_mode: false
models:
  ensemble: [gpt-4.1]
news:
  disabled_domains: []
schedule:
  forecast: "0 0 * * * *"
`))
	require.NoError(t, err)
	assert.Equal(t, 0.08, cfg.Trading.MinEdge)
	assert.False(t, cfg.Trading.Paper())
	assert.Equal(t, []string{"gpt-4.1"}, cfg.Models.Ensemble)
	assert.Empty(t, cfg.News.DisabledDomains)
	assert.Equal(t, "0 0 * * * *", cfg.Schedule.Forecast)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("PAPER_MODE", "false")
	t.Setenv("VIRTUAL_BANKROLL", "2500")
	t.Setenv("NEWS_SEARCH_PROVIDER", "Brave")
	t.Setenv("CLASSIFIER_MODEL", "gpt-4o-mini")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := config.Parse([]byte("log:\n  level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.False(t, cfg.Trading.Paper())
	assert.Equal(t, 2500.0, cfg.Trading.VirtualBankroll)
	assert.Equal(t, "brave", cfg.News.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Models.Classifier)
	assert.Equal(t, "sk-test", cfg.API.OpenAIKey)
}

func TestParse_BadEnv(t *testing.T) {
	t.Setenv("PAPER_MODE", "maybe")
	_, err := config.Parse([]byte("{}"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  dsn: test.db\n"), 0o600))
	t.Setenv("DB_PATH", "")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test.db", cfg.Storage.DSN)
}
