package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/usagestat/internal/api"
	"github.com/goodtune/usagestat/internal/config"
	"github.com/goodtune/usagestat/internal/storage"
	"github.com/goodtune/usagestat/internal/storage/bolt"
	"github.com/goodtune/usagestat/internal/storage/memory"
	"github.com/goodtune/usagestat/internal/usage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func TestTrackAndReportCommands(t *testing.T) {
	boltPath := filepath.Join(t.TempDir(), "usagestat.bolt")
	path := writeTestConfig(t, "storage:\n  type: bolt\n  path: "+boltPath+"\nlogging:\n  level: error\n")

	out, err := runCommand(t, "", "--config", path, "track", "btn_archive", "btn_archive", "custom_action")
	require.NoError(t, err)
	assert.Contains(t, out, "Tracked 3 feature use(s)")

	reportJSON = true
	defer func() { reportJSON = false }()

	out, err = runCommand(t, "", "--config", path, "report", "--json")
	require.NoError(t, err)

	var report usage.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, int64(2), report.Summary.TotalSessions)
	require.NotEmpty(t, report.TopAllTime)
	assert.Equal(t, "btn_archive", report.TopAllTime[0].ID)
	assert.Equal(t, int64(2), report.TopAllTime[0].Clicks)
	assert.Equal(t, len(usage.DefaultCatalog)+1, report.Summary.TotalFeatures)
}

func TestResetCommandRequiresConfirmation(t *testing.T) {
	boltPath := filepath.Join(t.TempDir(), "usagestat.bolt")
	path := writeTestConfig(t, "storage:\n  type: bolt\n  path: "+boltPath+"\nlogging:\n  level: error\n")

	_, err := runCommand(t, "", "--config", path, "track", "btn_mail")
	require.NoError(t, err)

	resetYes = false
	out, err := runCommand(t, "n\n", "--config", path, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted")

	out, err = runCommand(t, "yes\n", "--config", path, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "reset")

	reportJSON = true
	defer func() { reportJSON = false }()
	out, err = runCommand(t, "", "--config", path, "report", "--json")
	require.NoError(t, err)

	var report usage.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 0, report.Summary.UsedFeatures)
}

func TestTrackCommandRejectsEmptyID(t *testing.T) {
	path := writeTestConfig(t, "storage:\n  type: memory\n")

	_, err := runCommand(t, "", "--config", path, "track", " ")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	path := writeTestConfig(t, "storage:\n  type: memory\n  colour: blue\nserver:\n  api_port: 8100\n")

	validateDump = true
	defer func() { validateDump = false }()

	out, err := runCommand(t, "", "--config", path, "validate", "--dump")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "storage.colour")
	assert.Contains(t, out, "api_port = 8100  (modified from default: 8088)")
}

func TestUnknownKeys(t *testing.T) {
	got := unknownKeys([]string{"server.api_port", "storage.redis.hots", "analytics.catalog", "extra"})
	assert.Equal(t, []string{"extra", "storage.redis.hots"}, got)
}

func TestNewTrackerConfig(t *testing.T) {
	cfg, err := newTrackerConfig(config.AnalyticsConfig{
		Timezone:       "UTC",
		TopLimit:       3,
		WindowDays:     14,
		PersistTimeout: "500ms",
		Catalog:        []config.CatalogEntry{{ID: "a", Name: "Alpha"}},
	})
	require.NoError(t, err)

	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, 3, cfg.TopLimit)
	assert.Equal(t, 14, cfg.WindowDays)
	assert.Equal(t, 500*time.Millisecond, cfg.PersistTimeout)
	assert.Equal(t, []usage.CatalogEntry{{ID: "a", Name: "Alpha"}}, cfg.Catalog)

	cfg, err = newTrackerConfig(config.AnalyticsConfig{PersistTimeout: "bogus"})
	require.NoError(t, err)
	assert.Nil(t, cfg.Catalog)
	assert.Equal(t, usage.DefaultPersistTimeout, cfg.PersistTimeout)

	_, err = newTrackerConfig(config.AnalyticsConfig{Timezone: "Nowhere/Special"})
	assert.Error(t, err)
}

func TestOpenStorage(t *testing.T) {
	store, err := openStorage(config.StorageConfig{Type: "memory", Key: "k"}, 0)
	require.NoError(t, err)
	_, ok := store.(*memory.Store)
	assert.True(t, ok)

	_, err = openStorage(config.StorageConfig{Type: "sqlite", Key: "k"}, 0)
	assert.Error(t, err)
}

func TestPrintReport(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	report := &usage.Report{
		Summary: usage.Summary{
			FirstUse:           now,
			TotalSessions:      4,
			TotalActiveMinutes: 12,
			TotalFeatures:      3,
			UsedFeatures:       1,
			UnusedFeatures:     2,
		},
		TopAllTime:         []usage.FeatureCount{{ID: "btn_mail", Name: "Почта", Clicks: 9}},
		UnusedFeatureNames: []string{"Архив", "MAX"},
	}

	var out bytes.Buffer
	printReport(&out, report, &storage.RecordMeta{SchemaVersion: 1, SavedAt: now, Size: 512})

	text := out.String()
	assert.Contains(t, text, "Sessions:       4")
	assert.Contains(t, text, "Last use:       never")
	assert.Contains(t, text, "Почта")
	assert.Contains(t, text, "Архив")
	assert.Contains(t, text, "512 bytes")
	assert.Contains(t, text, "(none)")
}

func TestCommandsUseServerWhenStoreIsHeld(t *testing.T) {
	boltPath := filepath.Join(t.TempDir(), "usagestat.bolt")

	// A running server holds the bolt file.
	store, err := bolt.Open(boltPath, "fd_analytics", 0)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	tracker := usage.NewTracker(store, usage.Config{Location: time.UTC}, zerolog.Nop())
	tracker.Initialize(nil)

	server, err := api.NewServer(api.Config{}, tracker, zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	port := ts.Listener.Addr().(*net.TCPAddr).Port
	path := writeTestConfig(t, fmt.Sprintf(
		"storage:\n  type: bolt\n  path: %s\nserver:\n  bind_address: 127.0.0.1\n  api_port: %d\nlogging:\n  level: error\n",
		boltPath, port))

	timeout := storeLockTimeout
	storeLockTimeout = 50 * time.Millisecond
	defer func() { storeLockTimeout = timeout }()

	out, err := runCommand(t, "", "--config", path, "track", "btn_mail", "btn_mail")
	require.NoError(t, err)
	assert.Contains(t, out, "Tracked 2 feature use(s)")

	stat, ok := tracker.Report().Raw.Features.Get("btn_mail")
	require.True(t, ok)
	assert.Equal(t, int64(2), stat.ClickCount)

	reportJSON = true
	out, err = runCommand(t, "", "--config", path, "report", "--json")
	reportJSON = false
	require.NoError(t, err)

	var report usage.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, int64(1), report.Summary.TotalSessions)
	require.Len(t, report.TopAllTime, 1)
	assert.Equal(t, int64(2), report.TopAllTime[0].Clicks)

	resetYes = true
	_, err = runCommand(t, "", "--config", path, "reset", "--yes")
	resetYes = false
	require.NoError(t, err)
	assert.Equal(t, 0, tracker.Report().Summary.UsedFeatures)
}

func TestAPIURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8088", apiURL(config.ServerConfig{BindAddress: "0.0.0.0", APIPort: 8088}))
	assert.Equal(t, "http://127.0.0.1:8088", apiURL(config.ServerConfig{APIPort: 8088}))
	assert.Equal(t, "http://10.0.0.5:9000", apiURL(config.ServerConfig{BindAddress: "10.0.0.5", APIPort: 9000}))
	assert.Equal(t, "http://[::1]:8088", apiURL(config.ServerConfig{BindAddress: "::1", APIPort: 8088}))
}
