package learning

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// brierFloor evita dividir por cero con un modelo perfecto.
const brierFloor = 1e-4

// SelectModels recalcula el peso de cada modelo con su Brier rolling:
//
//	weight = (1/brier) / Σ(1/brier_j)   sobre los modelos no eliminados
//
// Un modelo con Brier por encima de KillBrier queda a peso 0. Un modelo sin
// historial suficiente recibe la media de los inversos (peso neutro).
func (l *Loop) SelectModels(ctx context.Context) (Report, error) {
	const name = "model_selection"

	outcomes, corrupt, err := l.store.OutcomesSince(ctx, l.now().Add(-l.cfg.SelectionWindow))
	if err != nil {
		return Report{Name: name}, fmt.Errorf("learning.SelectModels: %w", err)
	}

	byModel := make(map[string][]float64)
	for _, m := range l.cfg.Models {
		byModel[m] = nil
	}
	for _, o := range outcomes {
		byModel[o.Model] = append(byModel[o.Model], o.Brier)
	}

	weights := ComputeWeights(byModel, l.cfg.MinModelSamples, l.cfg.KillBrier)
	if weights == nil {
		return skipped(name, "no model with enough resolved outcomes", corrupt), nil
	}
	if err := checkNormalized(weights); err != nil {
		return Report{Name: name}, fmt.Errorf("learning.SelectModels: %w", err)
	}

	if err := l.store.ReplaceModelWeights(ctx, weights); err != nil {
		return Report{Name: name}, fmt.Errorf("learning.SelectModels: %w", err)
	}
	for _, w := range weights {
		if w.Killed {
			slog.Warn("KILL SWITCH: model removed from rotation",
				"model", w.Model,
				"brier", fmt.Sprintf("%.3f", w.RollingBrier),
				"kill_brier", l.cfg.KillBrier,
			)
		}
		slog.Info("learning: model weight",
			"model", w.Model,
			"weight", fmt.Sprintf("%.3f", w.Weight),
			"brier", fmt.Sprintf("%.3f", w.RollingBrier),
			"n", w.ResolvedCount,
		)
	}
	return Report{Name: name, Status: StatusApplied, Updated: len(weights), Skipped: corrupt}, nil
}

// ComputeWeights es la parte pura de SelectModels. Devuelve nil si ningún
// modelo llega a minSamples.
func ComputeWeights(briersByModel map[string][]float64, minSamples int, killBrier float64) []domain.ModelWeight {
	models := make([]string, 0, len(briersByModel))
	for m := range briersByModel {
		models = append(models, m)
	}
	sort.Strings(models)

	inverse := make(map[string]float64)
	out := make([]domain.ModelWeight, 0, len(models))
	scored := 0
	var invSum float64
	var invN int
	for _, m := range models {
		briers := briersByModel[m]
		w := domain.ModelWeight{Model: m, ResolvedCount: len(briers)}
		if len(briers) >= minSamples && len(briers) > 0 {
			scored++
			w.RollingBrier = domain.MeanBrier(briers)
			if w.RollingBrier > killBrier {
				w.Killed = true
			} else {
				inverse[m] = 1 / math.Max(w.RollingBrier, brierFloor)
				invSum += inverse[m]
				invN++
			}
		}
		out = append(out, w)
	}
	if scored == 0 {
		return nil
	}

	// sin historial: peso neutro, la media de los inversos de los puntuados.
	// Si todos los puntuados cayeron por el kill switch, inverso 1: los modelos
	// sin historial se reparten el ensemble y pueden empezar a acumularlo.
	neutral := 1.0
	if invN > 0 {
		neutral = invSum / float64(invN)
	}
	for _, w := range out {
		if w.ResolvedCount < minSamples || w.ResolvedCount == 0 {
			inverse[w.Model] = neutral
		}
	}

	var total float64
	for _, v := range inverse {
		total += v
	}
	for i := range out {
		if out[i].Killed || total == 0 {
			continue
		}
		out[i].Weight = inverse[out[i].Model] / total
	}
	return out
}

func checkNormalized(weights []domain.ModelWeight) error {
	var sum float64
	positive := 0
	for _, w := range weights {
		if w.Weight < 0 || math.IsNaN(w.Weight) {
			return fmt.Errorf("%s weight %.4f: %w", w.Model, w.Weight, domain.ErrWeightsNotNormalized)
		}
		if w.Weight > 0 {
			sum += w.Weight
			positive++
		}
	}
	if positive == 0 {
		slog.Error("learning: every model is killed, ensemble will abstain")
		return nil
	}
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("sum=%.12f: %w", sum, domain.ErrWeightsNotNormalized)
	}
	return nil
}
