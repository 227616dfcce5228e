package learning

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polyforecast/internal/application/forecast"
	"github.com/alejandrodnm/polyforecast/internal/domain"
)

type promptStats struct {
	briers []float64
	wins   int
}

// RunTournament actualiza las estadísticas de cada variante de prompt, retira
// las que quedan más de PromptRetireGap por detrás de la mejor y, si retiró
// alguna, pide al proposer una variante nueva derivada de la mejor.
//
// Cada scope (globales y cada dominio con variantes propias) compite por separado.
func (l *Loop) RunTournament(ctx context.Context) (Report, error) {
	const name = "prompt_tournament"

	outcomes, corrupt, err := l.store.OutcomesSince(ctx, l.now().Add(-l.cfg.PromptWindow))
	if err != nil {
		return Report{Name: name}, fmt.Errorf("learning.RunTournament: %w", err)
	}
	stats := make(map[string]*promptStats)
	for _, o := range outcomes {
		st, ok := stats[o.PromptVersion]
		if !ok {
			st = &promptStats{}
			stats[o.PromptVersion] = st
		}
		st.briers = append(st.briers, o.Brier)
		if o.Brier < l.cfg.CorrectBrier {
			st.wins++
		}
	}

	all, err := l.store.AllPrompts(ctx)
	if err != nil {
		return Report{Name: name}, fmt.Errorf("learning.RunTournament: %w", err)
	}

	scopes := make(map[domain.Domain][]domain.PromptExperiment)
	var order []domain.Domain
	for _, p := range all {
		if st, ok := stats[p.Version]; ok {
			p.Trials = len(st.briers)
			p.Wins = st.wins
			p.MeanBrier = domain.MeanBrier(st.briers)
			if err := l.store.UpsertPrompt(ctx, p); err != nil {
				return Report{Name: name}, fmt.Errorf("learning.RunTournament: %w", err)
			}
		}
		if !p.Active {
			continue
		}
		if _, seen := scopes[p.Domain]; !seen {
			order = append(order, p.Domain)
		}
		scopes[p.Domain] = append(scopes[p.Domain], p)
	}

	updated := 0
	for _, d := range order {
		n, err := l.compete(ctx, d, scopes[d])
		if err != nil {
			return Report{Name: name}, fmt.Errorf("learning.RunTournament: %w", err)
		}
		updated += n
	}
	if updated == 0 {
		return skipped(name, "no variant retired", corrupt), nil
	}
	return Report{Name: name, Status: StatusApplied, Updated: updated, Skipped: corrupt}, nil
}

// compete resuelve un scope. Devuelve cuántas variantes retiró o creó.
func (l *Loop) compete(ctx context.Context, d domain.Domain, active []domain.PromptExperiment) (int, error) {
	if len(active) < 2 {
		return 0, nil
	}
	for _, p := range active {
		if p.Trials < l.cfg.PromptMinTrials {
			slog.Debug("learning: tournament waiting for trials",
				"scope", scopeName(d),
				"version", p.Version,
				"trials", p.Trials,
				"need", l.cfg.PromptMinTrials,
			)
			return 0, nil
		}
	}

	best := active[0]
	for _, p := range active[1:] {
		if p.MeanBrier < best.MeanBrier {
			best = p
		}
	}

	changed, remaining := 0, 0
	for _, p := range active {
		if p.Version != best.Version && p.MeanBrier-best.MeanBrier > l.cfg.PromptRetireGap {
			if err := l.store.RetirePrompt(ctx, p.Version); err != nil {
				return changed, err
			}
			changed++
			slog.Info("learning: prompt variant retired",
				"scope", scopeName(d),
				"version", p.Version,
				"brier", fmt.Sprintf("%.3f", p.MeanBrier),
				"best", best.Version,
				"best_brier", fmt.Sprintf("%.3f", best.MeanBrier),
			)
			continue
		}
		remaining++
	}

	if changed == 0 || remaining >= l.cfg.PromptMaxVariants || l.proposer == nil {
		return changed, nil
	}

	template, err := l.proposer.ProposeVariant(ctx, best)
	if err != nil {
		slog.Warn("learning: variant proposal failed", "scope", scopeName(d), "parent", best.Version, "err", err)
		return changed, nil
	}
	if !forecast.ValidTemplate(template) {
		slog.Warn("learning: proposed variant rejected, missing placeholders", "parent", best.Version)
		return changed, nil
	}
	child := domain.PromptExperiment{
		Version:  EvolvedVersion(template),
		Domain:   d,
		Template: template,
		Active:   true,
		Parent:   best.Version,
	}
	if err := l.store.UpsertPrompt(ctx, child); err != nil {
		return changed, err
	}
	slog.Info("learning: new prompt variant", "scope", scopeName(d), "version", child.Version, "parent", best.Version)
	return changed + 1, nil
}

// EvolvedVersion nombra una variante generada por su contenido.
func EvolvedVersion(template string) string {
	sum := md5.Sum([]byte(template))
	return "v-evolved-" + hex.EncodeToString(sum[:])[:8]
}

func scopeName(d domain.Domain) string {
	if d == "" {
		return "global"
	}
	return string(d)
}
