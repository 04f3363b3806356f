package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tailchase/tailchase/internal/config"
	"github.com/tailchase/tailchase/internal/detect"
	"github.com/tailchase/tailchase/internal/geo"
	"github.com/tailchase/tailchase/internal/kismet"
	"github.com/tailchase/tailchase/internal/store"
	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

// runAnalyze performs a one-shot batch analysis and writes a markdown
// report, preferring the archive database and falling back to the newest
// Kismet capture.
func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	out := fs.String("out", "tailchase-report.md", "report output path")
	kmlOut := fs.String("kml", "", "also write a KML file to this path")
	since := fs.Duration("since", 0, "only analyze sightings newer than this (0 = all)")
	_ = fs.Parse(args)

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

	ctx := context.Background()

	var start time.Time
	if *since > 0 {
		start = time.Now().Add(-*since)
	}

	sightings, sessionHistory, err := loadSightings(ctx, cfg, start, logger)
	if err != nil {
		logger.Fatal("failed to load sightings", zap.Error(err))
	}
	if len(sightings) == 0 {
		logger.Warn("no sightings found, report will be empty")
	}

	detector := detect.New(detect.Thresholds{
		MinAppearances:      cfg.GetInt("detect.min_appearances"),
		MinPersistenceScore: cfg.GetFloat64("detect.min_persistence_score"),
	}, logger.Named("detect"))
	for _, s := range sightings {
		detector.Record(s)
	}

	report := detector.Report(time.Now())
	if err := os.WriteFile(*out, []byte(report), 0o644); err != nil {
		logger.Fatal("failed to write report", zap.Error(err))
	}
	logger.Info("report written",
		zap.String("path", *out),
		zap.Int("sightings", len(sightings)),
		zap.Int("flagged_devices", len(detector.Analyze())),
	)

	if *kmlOut != "" {
		data, err := geo.ExportKML(sessionHistory, detector.Analyze(), time.Now())
		if err != nil {
			logger.Fatal("failed to render KML", zap.Error(err))
		}
		if err := os.WriteFile(*kmlOut, data, 0o644); err != nil {
			logger.Fatal("failed to write KML", zap.Error(err))
		}
		logger.Info("KML written", zap.String("path", *kmlOut))
	}
}

// loadSightings prefers the archive (which has location attribution) and
// falls back to reading the newest Kismet capture directly.
func loadSightings(ctx context.Context, cfg configSource, start time.Time, logger *zap.Logger) ([]models.Sighting, []models.LocationSession, error) {
	dbPath := cfg.GetString("database.path")
	if _, err := os.Stat(dbPath); err == nil {
		archive, err := store.Open(dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open archive: %w", err)
		}
		defer archive.Close()

		sightings, err := archive.FetchSightings(ctx, start, time.Time{})
		if err != nil {
			return nil, nil, err
		}
		if len(sightings) > 0 {
			sessions, err := archive.ListSessions(ctx)
			if err != nil {
				return nil, nil, err
			}
			logger.Info("analyzing archived sightings",
				zap.String("path", dbPath),
				zap.Int("sightings", len(sightings)),
			)
			return sightings, sessions, nil
		}
	}

	capturePath, err := kismet.NewestLog(cfg.GetString("capture.glob"))
	if err != nil {
		return nil, nil, err
	}
	captureDB, err := kismet.Open(capturePath, logger.Named("kismet"))
	if err != nil {
		return nil, nil, err
	}
	defer captureDB.Close()

	if err := captureDB.Validate(ctx); err != nil {
		return nil, nil, err
	}
	sightings, err := captureDB.FetchSightings(ctx, start, time.Time{})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("analyzing capture sightings",
		zap.String("path", capturePath),
		zap.Int("sightings", len(sightings)),
	)
	return sightings, nil, nil
}

// configSource is the slice of viper the analyze command needs.
type configSource interface {
	GetString(key string) string
	GetInt(key string) int
	GetFloat64(key string) float64
}
