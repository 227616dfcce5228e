package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/polyforecast/config"
	"github.com/alejandrodnm/polyforecast/internal/adapters/notify"
	"github.com/alejandrodnm/polyforecast/internal/adapters/storage"
	"github.com/alejandrodnm/polyforecast/internal/application/pipeline"
	"github.com/alejandrodnm/polyforecast/internal/application/scheduler"
)

const stopFile = "STOP"

// runForever programa los jobs con cron hasta recibir una señal o encontrar
// el archivo STOP en el directorio de trabajo.
func runForever(ctx context.Context, cfg *config.Config, a *app) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(scheduler.NewCronTrigger(), cfg.JobTimeout())
	specs := map[string]string{
		pipeline.JobScan:        cfg.Schedule.Scan,
		pipeline.JobPrice:       cfg.Schedule.Price,
		pipeline.JobResolution:  cfg.Schedule.Resolution,
		pipeline.JobForecast:    cfg.Schedule.Forecast,
		pipeline.JobCalibration: cfg.Schedule.Calibration,
		pipeline.JobTournament:  cfg.Schedule.Tournament,
	}
	jobs := a.pipeline.Jobs(0)
	for _, name := range pipeline.JobOrder {
		if err := sched.Register(name, specs[name], scheduler.Job(jobs[name])); err != nil {
			return fmt.Errorf("runForever: %w", err)
		}
	}

	// primer ciclo completo al arrancar, sin esperar al primer disparo
	for _, name := range []string{pipeline.JobScan, pipeline.JobResolution, pipeline.JobForecast} {
		if err := sched.RunNow(ctx, name); err != nil && ctx.Err() == nil {
			slog.Error("startup job failed", "job", name, "err", err)
		}
	}

	go watchStopFile(ctx, cancel)

	slog.Info("scheduler running, press Ctrl+C or create STOP file to exit")
	return sched.Run(ctx)
}

func watchStopFile(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(stopFile); err == nil {
				slog.Info("STOP file detected, shutting down")
				os.Remove(stopFile)
				cancel()
				return
			}
		}
	}
}

// printReport imprime el estado actual del sistema.
func printReport(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, console *notify.Console) error {
	pf, err := store.Portfolio(ctx)
	if err != nil {
		return err
	}
	open, err := store.OpenTrades(ctx)
	if err != nil {
		return err
	}
	weights, err := store.ModelWeights(ctx)
	if err != nil {
		return err
	}
	cal, err := store.CalibrationStates(ctx)
	if err != nil {
		return err
	}
	costs, err := store.CostSummary(ctx, time.Now().UTC().Add(-config.Days(30)))
	if err != nil {
		return err
	}
	console.PrintStatus(notify.StatusInput{
		Portfolio:   pf,
		Bankroll:    cfg.Trading.VirtualBankroll,
		OpenTrades:  open,
		Weights:     weights,
		Calibration: cal,
		Costs:       costs,
	})
	return nil
}
