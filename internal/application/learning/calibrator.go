package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

const calibrationWatermark = "calibration.last_run"

type cellKey struct {
	domain domain.Domain
	model  string
}

// Calibrate recalcula el Brier rolling por (dominio, modelo) y su domain_weight.
// Solo corre cuando desde la última ejecución hay al menos BatchSize outcomes nuevos.
func (l *Loop) Calibrate(ctx context.Context) (Report, error) {
	const name = "domain_calibration"
	now := l.now()

	since, err := l.watermark(ctx)
	if err != nil {
		return Report{Name: name}, fmt.Errorf("learning.Calibrate: %w", err)
	}
	fresh, err := l.store.CountOutcomesSince(ctx, since)
	if err != nil {
		return Report{Name: name}, fmt.Errorf("learning.Calibrate: %w", err)
	}
	if fresh < l.cfg.BatchSize {
		return skipped(name, fmt.Sprintf("%d new outcomes, need %d", fresh, l.cfg.BatchSize), 0), nil
	}

	outcomes, corrupt, err := l.store.OutcomesSince(ctx, now.Add(-l.cfg.CalibrationWindow))
	if err != nil {
		return Report{Name: name}, fmt.Errorf("learning.Calibrate: %w", err)
	}

	cells := make(map[cellKey][]float64)
	for _, o := range outcomes {
		if o.Domain == "" || o.Model == "" {
			continue
		}
		k := cellKey{o.Domain, o.Model}
		cells[k] = append(cells[k], o.Brier)
	}

	var states []domain.CalibrationState
	for k, briers := range cells {
		if len(briers) < l.cfg.MinCellSamples {
			continue
		}
		mean := domain.MeanBrier(briers)
		weight, alert := domain.DomainWeightFor(mean)
		states = append(states, domain.CalibrationState{
			Domain:        k.domain,
			Model:         k.model,
			BrierScore:    mean,
			ResolvedCount: len(briers),
			DomainWeight:  weight,
			Alert:         alert,
		})
		if alert {
			slog.Warn("ALERT: domain calibration worse than random",
				"domain", k.domain,
				"model", k.model,
				"brier", fmt.Sprintf("%.3f", mean),
				"weight", weight,
			)
		}
	}
	if len(states) == 0 {
		return skipped(name, "no (domain, model) cell with enough samples", corrupt), nil
	}

	if err := l.store.SaveCalibration(ctx, states); err != nil {
		return Report{Name: name}, fmt.Errorf("learning.Calibrate: %w", err)
	}
	if err := l.store.SetState(ctx, calibrationWatermark, now.Format(time.RFC3339Nano)); err != nil {
		return Report{Name: name}, fmt.Errorf("learning.Calibrate: watermark: %w", err)
	}
	slog.Info("learning: domain calibration updated", "cells", len(states), "outcomes", len(outcomes), "corrupt_rows", corrupt)
	return Report{Name: name, Status: StatusApplied, Updated: len(states), Skipped: corrupt}, nil
}

func (l *Loop) watermark(ctx context.Context) (time.Time, error) {
	v, ok, err := l.store.GetState(ctx, calibrationWatermark)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		slog.Warn("learning: bad calibration watermark, recalibrating from scratch", "value", v)
		return time.Time{}, nil
	}
	return t, nil
}
