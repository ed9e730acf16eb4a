package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vigilsec/vigil/internal/api"
	"github.com/vigilsec/vigil/internal/auth"
	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/logging"
	"github.com/vigilsec/vigil/internal/metrics"
	"github.com/vigilsec/vigil/internal/notify"
	"github.com/vigilsec/vigil/internal/pipeline"
	"github.com/vigilsec/vigil/internal/rules"
	"github.com/vigilsec/vigil/internal/store"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var osExit = os.Exit

var rootCmd = &cobra.Command{
	Use:     "vigil",
	Short:   "Vigil - home security intelligence backend",
	Long:    `Vigil evaluates camera events against alert rules, deduplicates the alerts they raise, and delivers notifications over email and webhooks`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Vigil %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Run: func(cmd *cobra.Command, args []string) {
		runMigrations()
	},
}

var hashKeyCmd = &cobra.Command{
	Use:   "hashkey <key>",
	Short: "Hash an API key for use as API_KEY",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		if err := auth.ValidateKeyLength(key); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			osExit(1)
		}
		hash, err := auth.HashKey(key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			osExit(1)
		}
		fmt.Println(hash)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(hashKeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runMigrations() {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "vigil-migrate"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	st, err := store.Open(store.Options{
		URL:                cfg.DatabaseURL,
		PoolSize:           1,
		PoolTimeoutSeconds: cfg.DatabasePoolTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := store.Migrate(ctx, st.DB()); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	log.Info().Msg("Migrations applied")
}

func runServer() {
	// Baseline logger for early startup messages; reconfigured once the
	// configuration is loaded.
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "vigil"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "vigil",
		FilePath:  cfg.LogFile,
	})
	defer logging.Shutdown()

	api.Version = Version
	log.Info().Str("version", Version).Msg("Starting Vigil")

	st, err := store.Open(store.Options{
		URL:                cfg.DatabaseURL,
		PoolSize:           cfg.DatabasePoolSize,
		PoolOverflow:       cfg.DatabasePoolOverflow,
		PoolTimeoutSeconds: cfg.DatabasePoolTimeout,
		PoolRecycleSeconds: cfg.DatabasePoolRecycle,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() { _ = st.Close() }()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), time.Minute)
	err = store.Migrate(migrateCtx, st.DB())
	migrateCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	// Wire up Prometheus metrics for the alert lifecycle
	pipeline.SetMetricHooks(
		metrics.RecordAlertFired,
		metrics.RecordAlertSuppressed,
		metrics.PipelinePassStarted,
		metrics.PipelinePassFinished,
		metrics.RecordEventProcessed,
		metrics.SetUndeliveredCount,
	)
	notify.SetMetricHooks(metrics.RecordDelivery)
	log.Info().Msg("Alert metrics hooks registered")

	engine := rules.NewEngine(rules.SystemClock())
	gate := store.NewGate(st, nil)
	orchestrator := notify.NewOrchestrator(cfg.Notifications)
	coordinator := pipeline.NewCoordinator(st, gate, orchestrator, engine, cfg)

	reaper := pipeline.NewReaper(coordinator, time.Duration(cfg.ReaperIntervalSeconds)*time.Second)
	reaper.Start()

	router := api.NewRouter(cfg, st, engine)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Notification settings are hot-swappable; everything else requires a
	// restart.
	reload := func() {
		fresh, err := config.Load()
		if err != nil {
			log.Error().Err(err).Msg("Config reload failed, keeping previous settings")
			return
		}
		orchestrator.Reload(fresh.Notifications)
	}

	watcher, err := config.NewWatcher(cfg.DataDir, reload)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher, .env changes will require restart")
	} else if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
		watcher = nil
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// SIGTERM and SIGINT for shutdown, SIGHUP for config reload
	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)

	for {
		select {
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, reloading configuration...")
			reload()
			continue
		case <-sigChan:
			log.Info().Msg("Shutting down server...")
		}
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	reaper.Stop()
	if watcher != nil {
		watcher.Stop()
	}

	log.Info().Msg("Server stopped")
}
