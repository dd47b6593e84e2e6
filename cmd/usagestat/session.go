package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/goodtune/usagestat/internal/api"
	"github.com/goodtune/usagestat/internal/config"
	"github.com/goodtune/usagestat/internal/lifecycle"
	"github.com/goodtune/usagestat/internal/storage"
	"github.com/goodtune/usagestat/internal/usage"
	"github.com/rs/zerolog"
)

// storeLockTimeout is how long a command waits for a store held by a
// running server before switching to that server's API.
var storeLockTimeout = 500 * time.Millisecond

// usageBackend is what the track, report and reset commands run against.
type usageBackend interface {
	Track(ctx context.Context, featureID string) error
	Report(ctx context.Context) (*usage.Report, error)
	Reset(ctx context.Context) error
	Meta(ctx context.Context) *storage.RecordMeta
	Close()
}

// openBackend loads configuration and opens the store for a local session.
// When a running server holds the store, the command goes through the
// server's API instead. Logs go to stderr so command output stays clean.
func openBackend() (usageBackend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logging := cfg.Logging
	if logging.Level == "" || logging.Level == "info" {
		logging.Level = "warn"
	}
	logger := newLogger(logging, os.Stderr)

	store, err := openStorage(cfg.Storage, storeLockTimeout)
	if errors.Is(err, storage.ErrLocked) {
		url := apiURL(cfg.Server)
		logger.Info().
			Str("url", url).
			Msg("Store is held by a running server, using its API")
		return &remoteBackend{client: api.NewClient(url, api.DefaultClientTimeout)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	trackerConfig, err := newTrackerConfig(cfg.Analytics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	hooks := lifecycle.New(logger)
	tracker := usage.NewTracker(store, trackerConfig, logger)
	tracker.Initialize(hooks)

	return &localBackend{
		tracker: tracker,
		store:   store,
		hooks:   hooks,
		logger:  logger,
	}, nil
}

// apiURL is the address the local API server listens on.
func apiURL(cfg config.ServerConfig) string {
	host := cfg.BindAddress
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.APIPort))
}

// localBackend is one short-lived command invocation: an initialized
// tracker whose session ends when the command returns.
type localBackend struct {
	tracker *usage.Tracker
	store   storage.RecordStore
	hooks   *lifecycle.Hooks
	logger  zerolog.Logger
}

func (b *localBackend) Track(_ context.Context, featureID string) error {
	b.tracker.Track(featureID)
	return nil
}

func (b *localBackend) Report(context.Context) (*usage.Report, error) {
	return b.tracker.Report(), nil
}

func (b *localBackend) Reset(context.Context) error {
	b.tracker.Reset()
	return nil
}

func (b *localBackend) Meta(ctx context.Context) *storage.RecordMeta {
	reader, ok := b.store.(storage.MetaReader)
	if !ok {
		return nil
	}
	meta, err := reader.Meta(ctx)
	if err != nil {
		return nil
	}
	return meta
}

// Close ends the session and closes the store.
func (b *localBackend) Close() {
	b.hooks.Run()
	if err := b.store.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Failed to close storage")
	}
}

// remoteBackend runs commands through a running server. The uses count
// toward the server's session.
type remoteBackend struct {
	client *api.Client
}

func (b *remoteBackend) Track(ctx context.Context, featureID string) error {
	return b.client.Track(ctx, featureID)
}

func (b *remoteBackend) Report(ctx context.Context) (*usage.Report, error) {
	return b.client.Report(ctx)
}

func (b *remoteBackend) Reset(ctx context.Context) error {
	return b.client.Reset(ctx)
}

func (b *remoteBackend) Meta(context.Context) *storage.RecordMeta { return nil }

func (b *remoteBackend) Close() {}
