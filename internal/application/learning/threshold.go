package learning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

type entropyPoint struct {
	entropy float64
	correct bool
}

// AdaptThresholds ajusta τ de cada dominio según cuánto separa la entropía
// los aciertos de los fallos:
//
//	sep = P(correct | H < τ) − P(correct | H ≥ τ)
//
// sep > EffectiveSep → τ baja un paso (filtro más estricto).
// sep < UselessSep   → τ sube un paso (la entropía no aporta, no debe bloquear).
// τ se mantiene en [EntropyMin, EntropyMax]. Solo se usan entropías de logprobs.
func (l *Loop) AdaptThresholds(ctx context.Context) (Report, error) {
	const name = "threshold_adaptation"

	outcomes, corrupt, err := l.store.OutcomesSince(ctx, l.now().Add(-l.cfg.ThresholdWindow))
	if err != nil {
		return Report{Name: name}, fmt.Errorf("learning.AdaptThresholds: %w", err)
	}
	snap, err := l.store.Snapshot(ctx)
	if err != nil {
		return Report{Name: name}, fmt.Errorf("learning.AdaptThresholds: %w", err)
	}

	points := make(map[domain.Domain][]entropyPoint)
	for _, o := range outcomes {
		if o.EntropySource != domain.EntropyLogprobs || o.Domain == "" {
			continue
		}
		points[o.Domain] = append(points[o.Domain], entropyPoint{o.Entropy, o.Brier < l.cfg.CorrectBrier})
	}

	updated := 0
	for _, d := range domain.AllDomains {
		pts := points[d]
		if len(pts) < l.cfg.ThresholdMinSamples {
			continue
		}
		tau := snap.Threshold(d, l.cfg.EntropyDefault)
		next, sep, ok := l.nextThreshold(pts, tau)
		if !ok || next == tau {
			slog.Debug("learning: threshold unchanged", "domain", d, "tau", tau, "separation", fmt.Sprintf("%.3f", sep))
			continue
		}
		if err := l.store.SetDomainThreshold(ctx, d, next); err != nil {
			return Report{Name: name}, fmt.Errorf("learning.AdaptThresholds: %w", err)
		}
		updated++
		slog.Info("learning: entropy threshold adapted",
			"domain", d,
			"from", fmt.Sprintf("%.2f", tau),
			"to", fmt.Sprintf("%.2f", next),
			"separation", fmt.Sprintf("%.3f", sep),
			"n", len(pts),
		)
	}
	if updated == 0 && len(points) == 0 {
		return skipped(name, "no logprob-entropy outcomes in window", corrupt), nil
	}
	return Report{Name: name, Status: StatusApplied, Updated: updated, Skipped: corrupt}, nil
}

// nextThreshold devuelve el nuevo τ. ok=false si uno de los dos lados está vacío.
func (l *Loop) nextThreshold(pts []entropyPoint, tau float64) (next, sep float64, ok bool) {
	var below, above, belowOK, aboveOK int
	for _, p := range pts {
		if p.entropy < tau {
			below++
			if p.correct {
				belowOK++
			}
		} else {
			above++
			if p.correct {
				aboveOK++
			}
		}
	}
	if below == 0 || above == 0 {
		return tau, 0, false
	}
	sep = float64(belowOK)/float64(below) - float64(aboveOK)/float64(above)
	switch {
	case sep > l.cfg.EffectiveSep:
		next = max(l.cfg.EntropyMin, tau-l.cfg.EntropyStep)
	case sep < l.cfg.UselessSep:
		next = min(l.cfg.EntropyMax, tau+l.cfg.EntropyStep)
	default:
		next = tau
	}
	return next, sep, true
}
