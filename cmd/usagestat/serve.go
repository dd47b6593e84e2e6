package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/goodtune/usagestat/internal/api"
	"github.com/goodtune/usagestat/internal/config"
	"github.com/goodtune/usagestat/internal/lifecycle"
	"github.com/goodtune/usagestat/internal/metrics"
	"github.com/goodtune/usagestat/internal/storage"
	"github.com/goodtune/usagestat/internal/storage/bolt"
	"github.com/goodtune/usagestat/internal/storage/memory"
	"github.com/goodtune/usagestat/internal/storage/redis"
	"github.com/goodtune/usagestat/internal/systemd"
	"github.com/goodtune/usagestat/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the graceful stop of each HTTP server.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the usagestat server",
	Long:  `Start the usage tracking HTTP API and the metrics endpoint. The process lifetime is one session.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting usagestat")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage, 0)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("key", cfg.Storage.Key).
		Msg("Storage initialized")

	// Initialize Usage Tracker
	trackerConfig, err := newTrackerConfig(cfg.Analytics)
	if err != nil {
		return err
	}

	hooks := lifecycle.New(logger)
	tracker := usage.NewTracker(store, trackerConfig, logger)
	tracker.Initialize(hooks)

	// Initialize API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer, err := api.NewServer(api.Config{
		ListenAddr:      apiAddr,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimit:       cfg.Server.RateLimit,
		RateLimitWindow: parseDuration(cfg.Server.RateLimitWindow, time.Minute),
	}, tracker, logger)
	if err != nil {
		hooks.Run()
		return fmt.Errorf("failed to initialize API Server: %w", err)
	}

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		hooks.Run()
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		hooks.Run()
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	// Log startup complete
	logger.Info().Msg("usagestat startup complete")
	logger.Info().Msgf("API: http://%s/api/v1", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Blocks until a shutdown signal, then flushes the session
	hooks.WaitForSignal(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	if err := metricsServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("usagestat stopped")

	return nil
}

// openStorage opens the configured store. lockTimeout applies to bolt,
// which admits one process at a time; zero means the bolt default.
func openStorage(cfg config.StorageConfig, lockTimeout time.Duration) (storage.RecordStore, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path, cfg.Key, lockTimeout)
	case "redis":
		return redis.Open(cfg.Redis, cfg.Key)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// newTrackerConfig maps the analytics section onto tracker settings. An
// empty catalog keeps the built-in one.
func newTrackerConfig(cfg config.AnalyticsConfig) (usage.Config, error) {
	location, err := cfg.Location()
	if err != nil {
		return usage.Config{}, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	var catalog []usage.CatalogEntry
	if len(cfg.Catalog) > 0 {
		catalog = make([]usage.CatalogEntry, 0, len(cfg.Catalog))
		for _, entry := range cfg.Catalog {
			catalog = append(catalog, usage.CatalogEntry{ID: entry.ID, Name: entry.Name})
		}
	}

	return usage.Config{
		Catalog:        catalog,
		Location:       location,
		TopLimit:       cfg.TopLimit,
		WindowDays:     cfg.WindowDays,
		PersistTimeout: parseDuration(cfg.PersistTimeout, usage.DefaultPersistTimeout),
	}, nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	return newLogger(cfg, os.Stdout)
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
