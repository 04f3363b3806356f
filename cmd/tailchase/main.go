package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tailchase/tailchase/internal/config"
	"github.com/tailchase/tailchase/internal/creds"
	"github.com/tailchase/tailchase/internal/detect"
	"github.com/tailchase/tailchase/internal/event"
	"github.com/tailchase/tailchase/internal/geo"
	"github.com/tailchase/tailchase/internal/ignore"
	"github.com/tailchase/tailchase/internal/kismet"
	"github.com/tailchase/tailchase/internal/monitor"
	"github.com/tailchase/tailchase/internal/probe"
	"github.com/tailchase/tailchase/internal/server"
	"github.com/tailchase/tailchase/internal/store"
	"github.com/tailchase/tailchase/internal/track"
	"github.com/tailchase/tailchase/internal/version"
	"github.com/tailchase/tailchase/internal/webhook"
	"github.com/tailchase/tailchase/internal/wigle"
	"github.com/tailchase/tailchase/internal/ws"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "analyze":
			runAnalyze(os.Args[2:])
			return
		case "creds":
			runCreds(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("TailChase starting", zap.String("version", version.Short()))

	if f := cfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	// Open the sighting archive.
	archive, err := store.Open(cfg.GetString("database.path"))
	if err != nil {
		logger.Fatal("failed to open archive database", zap.Error(err))
	}
	defer archive.Close()
	logger.Info("archive initialized",
		zap.String("component", "database"),
		zap.String("path", cfg.GetString("database.path")),
	)

	// Locate and open the current Kismet capture.
	capturePath, err := kismet.NewestLog(cfg.GetString("capture.glob"))
	if err != nil {
		logger.Fatal("failed to locate capture database",
			zap.String("glob", cfg.GetString("capture.glob")),
			zap.Error(err),
		)
	}
	captureDB, err := kismet.Open(capturePath, logger.Named("kismet"))
	if err != nil {
		logger.Fatal("failed to open capture database", zap.Error(err))
	}
	defer captureDB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := captureDB.Validate(ctx); err != nil {
		logger.Fatal("capture database validation failed", zap.Error(err))
	}
	logger.Info("capture database opened",
		zap.String("component", "kismet"),
		zap.String("path", capturePath),
	)

	// Ignore lists.
	ignoreLists, err := ignore.Load(cfg.GetString("ignore.path"), logger.Named("ignore"))
	if err != nil {
		logger.Fatal("failed to load ignore lists", zap.Error(err))
	}

	// Core pipeline components.
	bus := event.NewBus(logger.Named("event"))
	sessions := geo.NewSessionManager(
		cfg.GetFloat64("geo.location_threshold_m"),
		cfg.GetDuration("geo.session_timeout"),
		logger.Named("geo"),
	)
	detector := detect.New(detect.Thresholds{
		MinAppearances:      cfg.GetInt("detect.min_appearances"),
		MinPersistenceScore: cfg.GetFloat64("detect.min_persistence_score"),
	}, logger.Named("detect"))
	tracker := track.NewWindowTracker(
		cfg.GetDuration("track.window"),
		cfg.GetDuration("track.active_slice"),
		ignoreLists,
		logger.Named("track"),
	)

	mon := monitor.New(monitor.Config{
		CheckInterval: cfg.GetDuration("monitor.check_interval"),
		RotateEvery:   cfg.GetInt("monitor.rotate_every"),
		CycleTimeout:  cfg.GetDuration("monitor.cycle_timeout"),
	}, captureDB, tracker, detector, sessions, archive, bus, logger.Named("monitor"))

	// Alert sinks.
	wsHandler := ws.NewHandler(cfg.GetString("server.ws_token"), bus, logger.Named("ws"))
	notifier := webhook.New(webhook.Config{
		URL:     cfg.GetString("webhook.url"),
		Timeout: cfg.GetDuration("webhook.timeout"),
	}, bus, logger.Named("webhook"))
	defer notifier.Close()

	// Probe analysis, optionally backed by WiGLE.
	analyzer := probe.NewAnalyzer(archive, wigleLocator(cfg, logger),
		wigleBounds(cfg), logger.Named("probe"))

	// HTTP server.
	addr := fmt.Sprintf("%s:%d", cfg.GetString("server.host"), cfg.GetInt("server.port"))
	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		return captureDB.Validate(ctx)
	})
	srv := server.New(addr, detector, sessions, archive, analyzer, readyCheck,
		logger.Named("server"), wsHandler)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	monDone := make(chan error, 1)
	go func() { monDone <- mon.Run(ctx) }()

	logger.Info("TailChase ready", zap.String("addr", addr))

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	if err := <-monDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("monitor stopped with error", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("TailChase stopped")
}

// wigleLocator builds a WiGLE client from stored or environment
// credentials. Returns nil when no token is available, which disables
// geolocation without breaking probe analysis.
func wigleLocator(cfg *viper.Viper, logger *zap.Logger) probe.Locator {
	token := os.Getenv("TAILCHASE_WIGLE_TOKEN")
	if token == "" {
		passphrase := os.Getenv("TAILCHASE_CREDS_PASSPHRASE")
		if passphrase == "" {
			logger.Info("no WiGLE credentials configured, geolocation disabled",
				zap.String("component", "wigle"),
			)
			return nil
		}
		var err error
		token, err = creds.Load(cfg.GetString("creds.path"), passphrase)
		if err != nil {
			logger.Warn("failed to load WiGLE credentials, geolocation disabled",
				zap.String("component", "wigle"),
				zap.Error(err),
			)
			return nil
		}
	}

	return wigle.NewClient(token, wigle.Options{
		BaseURL:           cfg.GetString("wigle.api_url"),
		Timeout:           cfg.GetDuration("wigle.timeout"),
		RequestsPerMinute: cfg.GetInt("wigle.requests_per_minute"),
	})
}

// wigleBounds reads the optional search bounding box. All four corners
// must be set for the box to apply.
func wigleBounds(cfg *viper.Viper) *wigle.SearchOptions {
	for _, key := range []string{"wigle.lat_min", "wigle.lat_max", "wigle.lon_min", "wigle.lon_max"} {
		if !cfg.IsSet(key) {
			return nil
		}
	}
	return &wigle.SearchOptions{
		LatRange1:  cfg.GetFloat64("wigle.lat_min"),
		LatRange2:  cfg.GetFloat64("wigle.lat_max"),
		LongRange1: cfg.GetFloat64("wigle.lon_min"),
		LongRange2: cfg.GetFloat64("wigle.lon_max"),
	}
}
