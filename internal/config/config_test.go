package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "signal-sink.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Server.DrainIntervalSecs)
	assert.Equal(t, int64(4<<20), cfg.Server.MaxPayloadBytes)
	assert.Equal(t, 1000, cfg.Ingest.MaxRetention)
	assert.True(t, cfg.Ingest.AutoAnalyze)
	assert.Equal(t, 4096, cfg.Ingest.DedupCacheSize)
	assert.Equal(t, 500, cfg.Ingest.LogCap)
	assert.Equal(t, 100, cfg.Ingest.ClipboardCap)
	assert.True(t, cfg.Scanner.AutoScan)
	assert.Equal(t, 500, cfg.Scanner.PollIntervalMs)
	assert.Equal(t, "heuristic", cfg.Analyzer.Provider)
	assert.Equal(t, 30, cfg.Analyzer.RatePerMinute)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/sink
server:
  port: 9090
ingest:
  max_retention: 3
  auto_analyze: false
scanner:
  auto_scan: false
  filters_enabled: true
  denied_keys: [token]
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/sink", cfg.Store.DatabaseURL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Ingest.MaxRetention)
	assert.False(t, cfg.Ingest.AutoAnalyze)
	assert.False(t, cfg.Scanner.AutoScan)
	assert.Equal(t, []string{"token"}, cfg.Scanner.DeniedKeys)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestSeedSettings(t *testing.T) {
	cfg := &Config{}
	cfg.Ingest.MaxRetention = 50
	cfg.Ingest.AutoAnalyze = true
	cfg.Scanner.AutoScan = true
	cfg.Scanner.FiltersEnabled = true
	cfg.Scanner.DeniedKeys = []string{"secret"}

	s := cfg.SeedSettings()
	assert.Equal(t, 50, s.MaxRetention)
	assert.True(t, s.AutoAnalyze)
	assert.True(t, s.AutoScanParams)
	assert.True(t, s.FiltersEnabled)
	assert.Equal(t, []string{"secret"}, s.DeniedKeys)
	assert.NotNil(t, s.ParameterAliases)
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
