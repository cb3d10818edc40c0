package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfigFrom(filepath.Join(t.TempDir(), "missing.json"), envMap(nil))

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "best-effort", cfg.MigrationMode)
	assert.Equal(t, 1000, cfg.MaxSteps)
	assert.Equal(t, 5*time.Second, cfg.pollInterval())
	assert.Equal(t, 30*time.Second, cfg.syncInterval())
	assert.Empty(t, cfg.CloudAPIKey)
}

func TestLoadConfig_SettingsThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"db_path":"/tmp/a.db","log_level":"debug","poll_interval":"2s"}`), 0o644))

	cfg := loadConfigFrom(path, envMap(map[string]string{
		"STEPWISE_LOG_LEVEL": "warn",
		"CURSOR_API_KEY":     "key-1",
		"STEPWISE_REPO_DIR":  "/src/app",
	}))

	assert.Equal(t, "/tmp/a.db", cfg.DBPath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, slog.LevelWarn, cfg.slogLevel())
	assert.Equal(t, 2*time.Second, cfg.pollInterval())
	assert.Equal(t, "key-1", cfg.CloudAPIKey)
	assert.Equal(t, "/src/app", cfg.RepoDir)
}

func TestLoadConfig_BadSettingsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	cfg := loadConfigFrom(path, envMap(nil))
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestConfig_InvalidIntervalFallsBack(t *testing.T) {
	cfg := Config{PollInterval: "soon", SyncInterval: "-1s"}
	assert.Equal(t, 5*time.Second, cfg.pollInterval())
	assert.Equal(t, 30*time.Second, cfg.syncInterval())
}

func TestParseTriggers(t *testing.T) {
	got, err := parseTriggers([]string{"versionTag=v2", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"versionTag": "v2", "note": "a=b"}, got)

	_, err = parseTriggers([]string{"novalue"})
	assert.Error(t, err)
}
