package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all stepwise process configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	WorkflowsDir  string `json:"workflows_dir"`
	QueueLock     string `json:"queue_lock"`
	PollInterval  string `json:"poll_interval"`
	SyncInterval  string `json:"sync_interval"`
	MigrationMode string `json:"migration_mode"`
	CloudBaseURL  string `json:"cloud_base_url"`
	CloudAPIKey   string `json:"cloud_api_key"`
	ContextDir    string `json:"context_dir"`
	RepoDir       string `json:"repo_dir"`
	GitRemote     string `json:"git_remote"`
	MaxSteps      int    `json:"max_steps"`
}

func defaultConfig() Config {
	dir := stepwiseDir()
	return Config{
		DBPath:        filepath.Join(dir, "stepwise.db"),
		LogLevel:      "info",
		WorkflowsDir:  "workflows",
		QueueLock:     filepath.Join(dir, "queue.lock"),
		PollInterval:  "5s",
		SyncInterval:  "30s",
		MigrationMode: "best-effort",
		ContextDir:    filepath.Join(dir, "context"),
		RepoDir:       ".",
		MaxSteps:      1000,
	}
}

func stepwiseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepwise"
	}
	return filepath.Join(home, ".stepwise")
}

func settingsPath() string {
	return filepath.Join(stepwiseDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	overrides := map[string]*string{
		"STEPWISE_DB_PATH":        &cfg.DBPath,
		"STEPWISE_LOG_LEVEL":      &cfg.LogLevel,
		"STEPWISE_WORKFLOWS_DIR":  &cfg.WorkflowsDir,
		"STEPWISE_QUEUE_LOCK":     &cfg.QueueLock,
		"STEPWISE_POLL_INTERVAL":  &cfg.PollInterval,
		"STEPWISE_MIGRATION_MODE": &cfg.MigrationMode,
		"STEPWISE_CLOUD_BASE_URL": &cfg.CloudBaseURL,
		"STEPWISE_CONTEXT_DIR":    &cfg.ContextDir,
		"STEPWISE_REPO_DIR":       &cfg.RepoDir,
		"CURSOR_API_KEY":          &cfg.CloudAPIKey,
	}
	for key, field := range overrides {
		if v := getenv(key); v != "" {
			*field = v
		}
	}
	return cfg
}

// pollInterval parses PollInterval; unparseable or non-positive values fall
// back to the default.
func (c Config) pollInterval() time.Duration {
	return parseDuration(c.PollInterval, 5*time.Second)
}

func (c Config) syncInterval() time.Duration {
	return parseDuration(c.SyncInterval, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (c Config) slogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
