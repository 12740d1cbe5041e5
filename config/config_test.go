package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DIRSCRAPE_LLM_API_KEY", "")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Scraper.MaxPages)
	assert.Equal(t, 5, cfg.Scraper.MaxConcurrent)
	assert.Equal(t, "auto", cfg.Scraper.FetchMode)
	assert.Equal(t, []time.Duration{0, 2 * time.Second, 5 * time.Second}, cfg.Engine.EscalationDelays)
	assert.Empty(t, cfg.LLM.APIKey)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DIRSCRAPE_MAX_PAGES", "7")
	t.Setenv("DIRSCRAPE_REQUEST_DELAY", "250ms")
	t.Setenv("DIRSCRAPE_API_KEYS", "a, b,,c")
	t.Setenv("DIRSCRAPE_ESCALATION_DELAYS", "0s,1s")
	t.Setenv("DIRSCRAPE_AUTH_ENABLED", "false")
	t.Setenv("DIRSCRAPE_PORT", "not-a-number")

	cfg := Load()
	assert.Equal(t, 7, cfg.Scraper.MaxPages)
	assert.Equal(t, 250*time.Millisecond, cfg.Scraper.RequestDelay)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.APIKeys)
	assert.Equal(t, []time.Duration{0, time.Second}, cfg.Engine.EscalationDelays)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestAPIKeyFallsBackToOpenAIVariable(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DIRSCRAPE_LLM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	assert.Equal(t, "sk-openai", Load().LLM.APIKey)

	t.Setenv("DIRSCRAPE_LLM_API_KEY", "sk-dirscrape")
	assert.Equal(t, "sk-dirscrape", Load().LLM.APIKey)
}

func TestLoadEnvFileDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DIRSCRAPE_LLM_MODEL=from-file\nDIRSCRAPE_MAX_CONCURRENT=9\n"), 0o600))

	t.Setenv("DIRSCRAPE_LLM_MODEL", "from-env")
	// Registers cleanup so the value loaded from the file is unset afterwards.
	t.Setenv("DIRSCRAPE_MAX_CONCURRENT", "")
	require.NoError(t, os.Unsetenv("DIRSCRAPE_MAX_CONCURRENT"))

	cfg := Load()
	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, 9, cfg.Scraper.MaxConcurrent)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
