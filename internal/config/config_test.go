package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("USAGESTAT_STORAGE_PATH", filepath.Join(dir, "data", "usagestat.bolt"))

	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.BindAddress)
	assert.Equal(t, 8088, cfg.Server.APIPort)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, "bolt", cfg.Storage.Type)
	assert.Equal(t, "fd_analytics", cfg.Storage.Key)
	assert.Equal(t, 10, cfg.Analytics.TopLimit)
	assert.Equal(t, 7, cfg.Analytics.WindowDays)
	assert.Equal(t, "2s", cfg.Analytics.PersistTimeout)
	assert.Empty(t, cfg.Analytics.Catalog)

	// The bolt directory is created during validation.
	_, err = os.Stat(filepath.Join(dir, "data"))
	assert.NoError(t, err)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  api_port: 8100
  allowed_origins: ["http://localhost:3000"]
storage:
  type: redis
  key: custom_key
  redis:
    host: redis.internal
    port: 6380
logging:
  level: debug
  format: text
analytics:
  timezone: Europe/Moscow
  top_limit: 5
  catalog:
    - id: btn_archive
      name: Archive
    - id: file_open
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8100, cfg.Server.APIPort)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "custom_key", cfg.Storage.Key)
	assert.Equal(t, "redis.internal", cfg.Storage.Redis.Host)
	assert.Equal(t, 6380, cfg.Storage.Redis.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Analytics.TopLimit)
	assert.Equal(t, []CatalogEntry{{ID: "btn_archive", Name: "Archive"}, {ID: "file_open"}}, cfg.Analytics.Catalog)

	loc, err := cfg.Analytics.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", loc.String())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("USAGESTAT_STORAGE_TYPE", "memory")
	t.Setenv("USAGESTAT_ANALYTICS_WINDOW_DAYS", "14")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 14, cfg.Analytics.WindowDays)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad port", body: "storage:\n  type: memory\nserver:\n  api_port: 70000\n"},
		{name: "bad storage type", body: "storage:\n  type: sqlite\n"},
		{name: "empty key", body: "storage:\n  type: memory\n  key: \"\"\n"},
		{name: "bad timezone", body: "storage:\n  type: memory\nanalytics:\n  timezone: Mars/Olympus\n"},
		{name: "zero top limit", body: "storage:\n  type: memory\nanalytics:\n  top_limit: 0\n"},
		{name: "bad persist timeout", body: "storage:\n  type: memory\nanalytics:\n  persist_timeout: soon\n"},
		{name: "bad rate limit window", body: "storage:\n  type: memory\nserver:\n  rate_limit_window: often\n"},
		{name: "catalog without id", body: "storage:\n  type: memory\nanalytics:\n  catalog:\n    - name: Orphan\n"},
		{name: "duplicate catalog id", body: "storage:\n  type: memory\nanalytics:\n  catalog:\n    - id: a\n    - id: a\n"},
		{name: "malformed yaml", body: "storage: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLocationDefaultsToLocal(t *testing.T) {
	loc, err := AnalyticsConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	loc, err = AnalyticsConfig{Timezone: "Local"}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "bolt", cfg.Storage.Type)
	assert.Equal(t, "/var/lib/usagestat/usagestat.bolt", cfg.Storage.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
}
