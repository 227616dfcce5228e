package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polyforecast/internal/application/learning"
)

// Nombres de los jobs, en el orden en que corre un ciclo completo.
const (
	JobScan        = "scan"
	JobPrice       = "price"
	JobResolution  = "resolution"
	JobForecast    = "forecast"
	JobCalibration = "calibration"
	JobTournament  = "tournament"
)

// JobOrder es el orden de dependencias de un ciclo.
var JobOrder = []string{JobScan, JobPrice, JobResolution, JobForecast, JobCalibration, JobTournament}

// Job es una unidad que el scheduler puede disparar.
type Job func(ctx context.Context) error

// Jobs devuelve los jobs por nombre. forecastLimit acota cada run de forecast (0 = todos).
func (p *Pipeline) Jobs(forecastLimit int) map[string]Job {
	return map[string]Job{
		JobScan: func(ctx context.Context) error {
			_, err := p.Discover(ctx)
			return err
		},
		JobPrice: func(ctx context.Context) error {
			_, err := p.RefreshPrices(ctx)
			return err
		},
		JobResolution: func(ctx context.Context) error {
			_, err := p.PollResolutions(ctx)
			return err
		},
		JobForecast: func(ctx context.Context) error {
			_, err := p.RunForecasts(ctx, forecastLimit)
			return err
		},
		JobCalibration: p.Calibrate,
		JobTournament:  p.Tournament,
	}
}

// Calibrate ejecuta calibración de dominio, selección de modelos y adaptación de τ.
func (p *Pipeline) Calibrate(ctx context.Context) error {
	reports, err := p.learning.RunCalibration(ctx)
	logReports(reports)
	if err != nil {
		return fmt.Errorf("pipeline.Calibrate: %w", err)
	}
	return nil
}

// Tournament ejecuta el torneo de prompts.
func (p *Pipeline) Tournament(ctx context.Context) error {
	r, err := p.learning.RunTournament(ctx)
	if err != nil {
		return fmt.Errorf("pipeline.Tournament: %w", err)
	}
	logReports([]learning.Report{r})
	return nil
}

// RunCycle ejecuta todos los jobs una vez en orden. Un job que falla no
// impide los siguientes; se devuelve el primer error.
func (p *Pipeline) RunCycle(ctx context.Context, forecastLimit int) error {
	jobs := p.Jobs(forecastLimit)
	var first error
	for _, name := range JobOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := jobs[name](ctx); err != nil {
			slog.Error("cycle: job failed", "job", name, "err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func logReports(reports []learning.Report) {
	for _, r := range reports {
		slog.Info("learning step",
			"step", r.Name,
			"status", r.Status,
			"updated", r.Updated,
			"corrupt_rows", r.Skipped,
			"reason", r.Reason,
		)
	}
}
