package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/polyforecast/config"
	"github.com/alejandrodnm/polyforecast/internal/adapters/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one full cycle and exit")
	n := flag.Int("n", 0, "with -once: forecast at most N markets (0 = all due)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print run reports as tables")
	report := flag.Bool("report", false, "print portfolio, weights, calibration and LLM spend, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	slog.Info("polyforecast starting",
		"config", *configPath,
		"paper", cfg.Trading.Paper(),
		"once", *once,
		"n", *n,
		"models", cfg.Models.Ensemble,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.EnsurePortfolio(ctx, cfg.Trading.VirtualBankroll); err != nil {
		slog.Error("failed to initialize portfolio", "err", err)
		os.Exit(1)
	}

	app, err := wire(ctx, cfg, store, *table)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}

	switch {
	case *report:
		if err := printReport(ctx, cfg, store, app.console); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	case *once:
		if err := app.pipeline.RunCycle(ctx, *n); err != nil {
			slog.Error("cycle finished with errors", "err", err)
			os.Exit(1)
		}
	default:
		if err := runForever(ctx, cfg, app); err != nil {
			slog.Error("forecaster exited with error", "err", err)
			os.Exit(1)
		}
	}

	slog.Info("polyforecast stopped cleanly")
}
