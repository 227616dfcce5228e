package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/application/ensemble"
	"github.com/alejandrodnm/polyforecast/internal/application/forecast"
	"github.com/alejandrodnm/polyforecast/internal/application/news"
	"github.com/alejandrodnm/polyforecast/internal/application/trading"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/google/uuid"
)

// Resultado de un mercado dentro de un run.
type marketStatus int

const (
	statusSucceeded marketStatus = iota
	statusAbstained
	statusFailed
)

type marketResult struct {
	marketID string
	status   marketStatus
	decision *domain.Decision
	cost     float64
	err      error
}

// run es el estado inmutable compartido por los workers de un run.
type run struct {
	id      string
	snap    domain.Snapshot
	prompts []domain.PromptExperiment
	models  []string
}

// RunForecasts pronostica hasta limit mercados pendientes (0 = todos) y evalúa
// un trade por cada uno. Pesos y umbrales se leen una vez al empezar: lo que
// escriba la calibración mientras tanto entra en el siguiente run.
//
// Los fallos transitorios de un mercado quedan en el informe; las violaciones
// de integridad se devuelven juntas al final.
func (p *Pipeline) RunForecasts(ctx context.Context, limit int) (domain.RunReport, error) {
	report := domain.RunReport{
		RunID:     uuid.NewString(),
		Skipped:   make(map[string]int),
		StartedAt: p.now(),
	}

	r, err := p.prepareRun(ctx, report.RunID)
	if err != nil {
		return report, fmt.Errorf("pipeline.RunForecasts: %w", err)
	}

	var markets []domain.Market
	for m, err := range p.registry.FindDueForForecast(ctx) {
		if err != nil {
			return report, fmt.Errorf("pipeline.RunForecasts: %w", err)
		}
		markets = append(markets, m)
		if limit > 0 && len(markets) >= limit {
			break
		}
	}
	report.Markets = len(markets)
	slog.Info("forecast run starting",
		"run_id", r.id,
		"markets", len(markets),
		"models", len(r.models),
		"workers", p.cfg.MarketWorkers,
	)

	var errs []error
	for res := range p.processConcurrent(ctx, r, markets) {
		report.CostUSD += res.cost
		switch res.status {
		case statusSucceeded:
			report.Succeeded++
		case statusAbstained:
			report.Abstained++
		case statusFailed:
			report.Failed++
			if isIntegrity(res.err) {
				errs = append(errs, res.err)
			}
		}
		if d := res.decision; d != nil {
			if d.Placed {
				report.Trades++
			} else if d.Reason != "" {
				report.Skipped[d.Reason]++
			}
		}
	}
	report.CompletedAt = p.now()

	slog.Info("forecast run complete",
		"run_id", r.id,
		"markets", report.Markets,
		"succeeded", report.Succeeded,
		"abstained", report.Abstained,
		"failed", report.Failed,
		"trades", report.Trades,
		"cost_usd", fmt.Sprintf("%.4f", report.CostUSD),
		"duration", report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	if p.reporter != nil {
		if err := p.reporter.ReportRun(ctx, report); err != nil {
			slog.Warn("forecast run: report failed", "err", err)
		}
	}
	if len(errs) > 0 {
		return report, fmt.Errorf("pipeline.RunForecasts: %w", errors.Join(errs...))
	}
	return report, ctx.Err()
}

func (p *Pipeline) prepareRun(ctx context.Context, id string) (run, error) {
	snap, err := p.store.Snapshot(ctx)
	if err != nil {
		return run{}, err
	}
	prompts, err := p.store.AllPrompts(ctx)
	if err != nil {
		return run{}, err
	}
	r := run{id: id, snap: snap, prompts: prompts}
	for _, m := range p.cfg.Models {
		if w, ok := snap.ModelWeights[m]; ok && w == 0 {
			slog.Info("forecast run: model excluded by kill switch", "model", m)
			continue
		}
		r.models = append(r.models, m)
	}
	if len(r.models) == 0 {
		slog.Error("forecast run: no active model, every market will abstain")
	}
	return r, nil
}

// processConcurrent reparte los mercados entre MarketWorkers goroutines. Las
// llamadas a modelos de todos los workers comparten el semáforo del pool.
func (p *Pipeline) processConcurrent(ctx context.Context, r run, markets []domain.Market) <-chan marketResult {
	workCh := make(chan domain.Market, len(markets))
	resultCh := make(chan marketResult, len(markets))

	var wg sync.WaitGroup
	for range min(p.cfg.MarketWorkers, max(len(markets), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range workCh {
				resultCh <- p.processMarket(ctx, r, m)
			}
		}()
	}

	for _, m := range markets {
		workCh <- m
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()
	return resultCh
}

// processMarket: clasificar → noticias → modelos → ensemble → guardar → trading.
func (p *Pipeline) processMarket(ctx context.Context, r run, m domain.Market) marketResult {
	res := marketResult{marketID: m.ID}
	if err := ctx.Err(); err != nil {
		res.status, res.err = statusFailed, err
		return res
	}

	if m.Domain == "" {
		d, conf := p.classifier.Classify(ctx, m.ID, m.Question)
		if err := p.registry.SetDomain(ctx, m.ID, d); err != nil {
			return p.fail(res, err)
		}
		m.Domain = d
		slog.Debug("market classified", "market_id", m.ID, "domain", d, "confidence", fmt.Sprintf("%.2f", conf))
	}

	nc := p.news.FetchContext(ctx, m)
	prompt := forecast.SelectVariant(r.prompts, m.Domain, m.ID)
	results := p.pool.Forecast(ctx, m, nc, prompt, r.models)
	ens := ensemble.Combine(results, r.snap, m.Domain, p.cfg.Ensemble)

	if ens.HasContributors() {
		prev, ok, err := p.store.LatestEnsemble(ctx, m.ID)
		if err != nil {
			return p.fail(res, err)
		}
		if ok {
			if clipped, did := news.CheckHeadlineShift(prev, ens.Probability, p.cfg.MaxHeadlineShift, nc); did {
				slog.Info("headline shift clipped",
					"market_id", m.ID,
					"previous", fmt.Sprintf("%.3f", prev),
					"proposed", fmt.Sprintf("%.3f", ens.Probability),
					"clipped", fmt.Sprintf("%.3f", clipped),
				)
				ens.Probability = clipped
			}
		}
	}

	rows, costs := p.rows(r, m, nc, results, ens)
	for _, c := range costs {
		res.cost += c.CostUSD
	}
	ids, err := p.store.SaveForecastRun(ctx, rows, costs)
	if err != nil {
		return p.fail(res, err)
	}

	succeeded := len(domain.Successes(results))
	slog.Info("market forecast",
		"market_id", m.ID,
		"domain", m.Domain,
		"prompt", prompt.Version,
		"succeeded", succeeded,
		"abstained", len(results)-succeeded,
		"news", nc.Used,
		"probability", fmt.Sprintf("%.3f", ens.Probability),
		"price", fmt.Sprintf("%.3f", m.Price),
		"confidence", ens.Confidence,
	)

	res.status = statusAbstained
	if ens.HasContributors() {
		res.status = statusSucceeded
		if err := p.store.TouchForecasted(ctx, m.ID, p.now()); err != nil {
			return p.fail(res, err)
		}
	}

	var forecastID int64
	if len(ids) > 0 {
		forecastID = ids[0]
	}
	decision, err := p.trader.Evaluate(ctx, trading.Intent{
		Market:       m,
		ForecastID:   forecastID,
		Ensemble:     ens,
		DomainWeight: ensemble.MinDomainWeight(ens, r.snap, m.Domain),
	})
	if err != nil {
		return p.fail(res, err)
	}
	res.decision = &decision
	return res
}

// rows construye una fila por modelo que respondió y el gasto de todas las llamadas.
func (p *Pipeline) rows(r run, m domain.Market, nc domain.NewsContext, results []domain.ModelResult, ens domain.EnsembleForecast) ([]domain.Forecast, []domain.LLMCost) {
	now := p.now()
	var (
		rows  []domain.Forecast
		costs []domain.LLMCost
	)
	for _, res := range results {
		switch v := res.(type) {
		case domain.Success:
			if ens.HasContributors() {
				rows = append(rows, domain.Forecast{
					MarketID:            m.ID,
					RunID:               r.id,
					Model:               v.Model,
					PromptVersion:       v.PromptVersion,
					Domain:              m.Domain,
					Probability:         v.Probability,
					Entropy:             v.Entropy,
					EntropySource:       v.EntropySource,
					EnsembleProbability: ens.Probability,
					Confidence:          ens.Confidence,
					NewsUsed:            nc.Used,
					Reasoning:           v.Reasoning,
					CreatedAt:           now,
				})
			}
			costs = appendCost(costs, m.ID, v.Model, v.TokensIn, v.TokensOut, v.CostUSD, now)
		case domain.Abstained:
			costs = appendCost(costs, m.ID, v.Model, v.TokensIn, v.TokensOut, v.CostUSD, now)
		}
	}
	return rows, costs
}

func appendCost(costs []domain.LLMCost, marketID, model string, in, out int, usd float64, at time.Time) []domain.LLMCost {
	if in == 0 && out == 0 && usd == 0 {
		return costs
	}
	return append(costs, domain.LLMCost{
		Model:     model,
		Purpose:   "forecast",
		MarketID:  marketID,
		TokensIn:  in,
		TokensOut: out,
		CostUSD:   usd,
		CreatedAt: at,
	})
}

func (p *Pipeline) fail(res marketResult, err error) marketResult {
	slog.Error("market forecast failed", "market_id", res.marketID, "err", err)
	res.status = statusFailed
	res.err = err
	return res
}

// isIntegrity distingue los errores que no se pueden tragar.
func isIntegrity(err error) bool {
	return errors.Is(err, domain.ErrNegativeCash) ||
		errors.Is(err, domain.ErrUnconfirmedFill) ||
		errors.Is(err, domain.ErrResolutionConflict) ||
		errors.Is(err, domain.ErrNegativeKelly) ||
		errors.Is(err, domain.ErrInvalidProbability)
}
