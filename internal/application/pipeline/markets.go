package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// Discover lista los mercados de cada exchange, registra los elegibles y
// ejecuta el dedup cross-exchange. Un exchange caído no aborta el job.
func (p *Pipeline) Discover(ctx context.Context) (int, error) {
	start := time.Now()
	registered := 0
	for _, ex := range p.order {
		raws, err := ex.ListMarkets(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return registered, ctx.Err()
			}
			slog.Warn("discover: list markets failed", "exchange", ex.Name(), "err", err)
			continue
		}
		eligible := 0
		for _, raw := range raws {
			raw.Exchange = ex.Name()
			if !p.registry.Eligible(raw) {
				continue
			}
			eligible++
			if _, err := p.registry.Upsert(ctx, raw); err != nil {
				slog.Warn("discover: upsert failed", "exchange", ex.Name(), "external_id", raw.ExternalID, "err", err)
				continue
			}
			registered++
		}
		slog.Info("discover: exchange scanned", "exchange", ex.Name(), "listed", len(raws), "eligible", eligible)
	}

	deduped, err := p.registry.Dedup(ctx)
	if err != nil {
		return registered, fmt.Errorf("pipeline.Discover: %w", err)
	}
	slog.Info("discover: complete",
		"registered", registered,
		"deduplicated", deduped,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return registered, nil
}

// RefreshPrices actualiza el precio de cada mercado abierto.
func (p *Pipeline) RefreshPrices(ctx context.Context) (int, error) {
	updated, failed := 0, 0
	for m, err := range p.registry.Open(ctx) {
		if err != nil {
			return updated, fmt.Errorf("pipeline.RefreshPrices: %w", err)
		}
		ex, ok := p.exchanges[m.Exchange]
		if !ok {
			continue
		}
		price, err := ex.GetPrice(ctx, m.ExternalID)
		if err != nil {
			if ctx.Err() != nil {
				return updated, ctx.Err()
			}
			failed++
			slog.Debug("refresh: price failed", "market_id", m.ID, "err", err)
			continue
		}
		if err := p.registry.UpdatePrice(ctx, m.ID, price, 0); err != nil {
			failed++
			slog.Warn("refresh: update failed", "market_id", m.ID, "err", err)
			continue
		}
		updated++
	}
	slog.Info("refresh: prices updated", "updated", updated, "failed", failed)
	return updated, nil
}

// PollResolutions consulta la resolución de los mercados vencidos o con
// posiciones abiertas, materializa los outcomes y liquida las posiciones.
// Un conflicto de resolución se devuelve como error; el resto de mercados sigue.
func (p *Pipeline) PollResolutions(ctx context.Context) (int, error) {
	due, err := p.resolutionCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("pipeline.PollResolutions: %w", err)
	}

	var (
		resolved int
		errs     []error
	)
	for _, m := range due {
		// resuelto en un poll anterior pero sin liquidar: solo falta el settle
		if !m.IsOpen() {
			if _, err := p.trader.Settle(ctx, m.ID, m.Outcome); err != nil {
				slog.Error("resolution: settle retry failed", "market_id", m.ID, "err", err)
				errs = append(errs, err)
				continue
			}
			resolved++
			continue
		}
		ex, ok := p.exchanges[m.Exchange]
		if !ok {
			continue
		}
		done, outcome, err := ex.GetResolution(ctx, m.ExternalID)
		if err != nil {
			if ctx.Err() != nil {
				return resolved, ctx.Err()
			}
			slog.Debug("resolution: poll failed", "market_id", m.ID, "err", err)
			continue
		}
		if !done {
			continue
		}
		if _, err := p.registry.MarkResolved(ctx, m.ID, outcome); err != nil {
			slog.Error("resolution: mark resolved failed", "market_id", m.ID, "outcome", outcome, "err", err)
			errs = append(errs, err)
			continue
		}
		if _, err := p.trader.Settle(ctx, m.ID, outcome); err != nil {
			slog.Error("resolution: settle failed", "market_id", m.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		resolved++
	}
	slog.Info("resolution: poll complete", "checked", len(due), "resolved", resolved)
	if len(errs) > 0 {
		return resolved, fmt.Errorf("pipeline.PollResolutions: %w", errors.Join(errs...))
	}
	return resolved, nil
}

// resolutionCandidates son los mercados abiertos con cierre pasado más los que
// tienen posiciones abiertas, sin repetir. Un mercado ya resuelto con posiciones
// abiertas entra para reintentar la liquidación.
func (p *Pipeline) resolutionCandidates(ctx context.Context) ([]domain.Market, error) {
	now := p.now()
	seen := make(map[string]bool)
	var out []domain.Market
	for m, err := range p.registry.Open(ctx) {
		if err != nil {
			return nil, err
		}
		if !m.CloseTime.IsZero() && !m.CloseTime.After(now) {
			seen[m.ID] = true
			out = append(out, m)
		}
	}

	open, err := p.store.OpenTrades(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range open {
		if seen[t.MarketID] {
			continue
		}
		m, err := p.store.GetMarket(ctx, t.MarketID)
		if err != nil {
			return nil, err
		}
		seen[m.ID] = true
		if m.IsOpen() || m.Outcome != domain.SideNone {
			out = append(out, m)
		}
	}
	return out, nil
}
