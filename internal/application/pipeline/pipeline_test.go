package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/adapters/storage"
	"github.com/alejandrodnm/polyforecast/internal/application/classifier"
	"github.com/alejandrodnm/polyforecast/internal/application/ensemble"
	"github.com/alejandrodnm/polyforecast/internal/application/forecast"
	"github.com/alejandrodnm/polyforecast/internal/application/learning"
	"github.com/alejandrodnm/polyforecast/internal/application/news"
	"github.com/alejandrodnm/polyforecast/internal/application/pipeline"
	"github.com/alejandrodnm/polyforecast/internal/application/registry"
	"github.com/alejandrodnm/polyforecast/internal/application/trading"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	mu       sync.Mutex
	markets  []domain.RawMarket
	prices   map[string]float64
	resolved map[string]domain.Side
	listErr  error
}

func (f *fakeExchange) Name() domain.Exchange { return domain.ExchangeKalshi }

func (f *fakeExchange) ListMarkets(context.Context) ([]domain.RawMarket, error) {
	return f.markets, f.listErr
}

func (f *fakeExchange) GetPrice(_ context.Context, id string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[id]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func (f *fakeExchange) GetResolution(_ context.Context, id string) (bool, domain.Side, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	side, ok := f.resolved[id]
	return ok, side, nil
}

func (f *fakeExchange) PlaceOrder(context.Context, string, domain.Side, float64, float64) (domain.FillResult, error) {
	return domain.FillResult{}, domain.ErrLiveTradingUnsupported
}

type scriptedLLM struct {
	mu    sync.Mutex
	calls map[string]int
	reply map[string]domain.Completion
}

func (s *scriptedLLM) Complete(_ context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[req.Model]++
	c, ok := s.reply[req.Model]
	if !ok {
		return domain.Completion{}, errors.New("provider unavailable")
	}
	return c, nil
}

type captureReporter struct {
	reports []domain.RunReport
}

func (c *captureReporter) ReportRun(_ context.Context, r domain.RunReport) error {
	c.reports = append(c.reports, r)
	return nil
}

func confident(text string) domain.Completion {
	return domain.Completion{
		Text:      text,
		Logprobs:  []domain.TokenLogprob{{Token: "62", Logprob: -0.05, TopLogprobs: []float64{-0.05, -3.2, -4.0}}},
		TokensIn:  400,
		TokensOut: 40,
		CostUSD:   0.0012,
	}
}

func fedMarket() domain.RawMarket {
	return domain.RawMarket{
		Exchange:   domain.ExchangeKalshi,
		ExternalID: "FED-MAR",
		Question:   "Will the Fed cut rates in March?",
		Price:      0.40,
		Volume:     50_000,
		CloseTime:  time.Now().UTC().Add(30 * 24 * time.Hour),
	}
}

type env struct {
	p        *pipeline.Pipeline
	db       *storage.SQLiteStorage
	ex       *fakeExchange
	llm      *scriptedLLM
	reporter *captureReporter
}

func newEnv(t *testing.T, models []string, reply map[string]domain.Completion) *env {
	t.Helper()
	ctx := context.Background()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.EnsurePortfolio(ctx, 10_000))

	thin := fedMarket()
	thin.ExternalID, thin.Question, thin.Volume = "THIN", "Will a thin market resolve?", 100

	ex := &fakeExchange{
		markets:  []domain.RawMarket{fedMarket(), thin},
		prices:   map[string]float64{"FED-MAR": 0.40},
		resolved: map[string]domain.Side{},
	}
	llm := &scriptedLLM{reply: reply}
	rep := &captureReporter{}

	p := pipeline.New(pipeline.Config{
		Models:           models,
		MarketWorkers:    2,
		MaxHeadlineShift: 0.15,
		Ensemble:         ensemble.Config{DefaultThreshold: 4.0, Aggregate: ensemble.AggregateMin},
	}, pipeline.Deps{
		Store:      db,
		Exchanges:  []ports.Exchange{ex},
		Registry:   registry.New(db, registry.Config{MinVolume: 10_000, MinHoursToClose: 48, RestaleAfter: 24 * time.Hour}),
		Classifier: classifier.New(nil, "", db),
		News:       news.NewRetriever(nil, news.Config{}),
		Pool:       forecast.NewPool(llm, forecast.Config{Timeout: time.Second, Concurrency: 2}),
		Trader: trading.New(db, nil, trading.Config{
			MinEdge:          0.05,
			KellyFraction:    0.25,
			MaxPositionPct:   0.05,
			MaxOpenPositions: 20,
			MinDomainWeight:  0.5,
			PaperMode:        true,
		}),
		Learning: learning.New(db, nil, learning.DefaultConfig()),
		Reporter: rep,
	})
	return &env{p: p, db: db, ex: ex, llm: llm, reporter: rep}
}

func TestDiscover_RegistersEligibleOnly(t *testing.T) {
	e := newEnv(t, nil, nil)
	n, err := e.p.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.db.GetMarket(context.Background(), "kalshi:THIN")
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestDiscover_ExchangeFailureIsNotFatal(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.ex.listErr = errors.New("503")
	n, err := e.p.Discover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunForecasts_PlacesPaperTrade(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, []string{"gpt-4.1"}, map[string]domain.Completion{
		"gpt-4.1": confident(`{"probability": 62, "reasoning": "Inflation is cooling."}`),
	})
	_, err := e.p.Discover(ctx)
	require.NoError(t, err)

	report, err := e.p.RunForecasts(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Markets)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Trades)
	assert.InDelta(t, 0.0012, report.CostUSD, 1e-9)
	require.Len(t, e.reporter.reports, 1)
	assert.Equal(t, report.RunID, e.reporter.reports[0].RunID)

	m, err := e.db.GetMarket(ctx, "kalshi:FED-MAR")
	require.NoError(t, err)
	assert.Equal(t, domain.DomainFinance, m.Domain)
	assert.False(t, m.LastForecastAt.IsZero())

	rows, err := e.db.ForecastsForMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.62, rows[0].EnsembleProbability, 1e-9)
	assert.Equal(t, domain.ConfidenceHigh, rows[0].Confidence)
	assert.Equal(t, report.RunID, rows[0].RunID)

	// 5% de 10000: el tope manda sobre el Kelly fraccional
	pf, err := e.db.Portfolio(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9_500, pf.Cash, 1e-6)

	// recién pronosticado: ya no está pendiente
	report, err = e.p.RunForecasts(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, report.Markets)
}

func TestRunForecasts_AllAbstainKeepsMarketDue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, []string{"gpt-4.1", "claude-sonnet-4-6"}, nil)
	_, err := e.p.Discover(ctx)
	require.NoError(t, err)

	report, err := e.p.RunForecasts(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Abstained)
	assert.Zero(t, report.Trades)
	assert.Equal(t, 1, report.Skipped[trading.ReasonNoContributors])

	rows, err := e.db.ForecastsForMarket(ctx, "kalshi:FED-MAR")
	require.NoError(t, err)
	assert.Empty(t, rows)

	report, err = e.p.RunForecasts(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Markets)
}

func TestRunForecasts_SkipsKilledModel(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, []string{"gpt-4.1", "claude-sonnet-4-6"}, map[string]domain.Completion{
		"gpt-4.1":           confident(`{"probability": 90}`),
		"claude-sonnet-4-6": confident(`{"probability": 62}`),
	})
	require.NoError(t, e.db.ReplaceModelWeights(ctx, []domain.ModelWeight{
		{Model: "gpt-4.1", Weight: 0, RollingBrier: 0.30, ResolvedCount: 40, Killed: true},
		{Model: "claude-sonnet-4-6", Weight: 1, RollingBrier: 0.12, ResolvedCount: 40},
	}))
	_, err := e.p.Discover(ctx)
	require.NoError(t, err)

	_, err = e.p.RunForecasts(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, e.llm.calls["gpt-4.1"])
	assert.Equal(t, 1, e.llm.calls["claude-sonnet-4-6"])

	rows, err := e.db.ForecastsForMarket(ctx, "kalshi:FED-MAR")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.62, rows[0].EnsembleProbability, 1e-9)
}

func TestRunForecasts_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, []string{"gpt-4.1"}, map[string]domain.Completion{
		"gpt-4.1": confident(`{"probability": 41}`),
	})
	second := fedMarket()
	second.ExternalID, second.Question = "ECB-MAR", "Will the ECB hike in March?"
	e.ex.markets = append(e.ex.markets, second)
	_, err := e.p.Discover(ctx)
	require.NoError(t, err)

	report, err := e.p.RunForecasts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Markets)
	// edge 0.01 por debajo del mínimo
	assert.Equal(t, 1, report.Skipped[trading.ReasonEdgeBelowMin])
}

func TestRefreshPrices(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil, nil)
	_, err := e.p.Discover(ctx)
	require.NoError(t, err)

	e.ex.prices["FED-MAR"] = 0.47
	n, err := e.p.RefreshPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m, err := e.db.GetMarket(ctx, "kalshi:FED-MAR")
	require.NoError(t, err)
	assert.InDelta(t, 0.47, m.Price, 1e-9)
}

func TestPollResolutions_SettlesOpenPosition(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, []string{"gpt-4.1"}, map[string]domain.Completion{
		"gpt-4.1": confident(`{"probability": 62}`),
	})
	_, err := e.p.Discover(ctx)
	require.NoError(t, err)
	_, err = e.p.RunForecasts(ctx, 0)
	require.NoError(t, err)

	// sin resolución todavía: no pasa nada
	n, err := e.p.PollResolutions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.ex.resolved["FED-MAR"] = domain.SideYes
	n, err = e.p.PollResolutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m, err := e.db.GetMarket(ctx, "kalshi:FED-MAR")
	require.NoError(t, err)
	assert.Equal(t, domain.StateResolved, m.State)

	// 500 USD a 0.40 son 1250 shares ganadoras
	pf, err := e.db.Portfolio(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_750, pf.Cash, 1e-6)

	open, err := e.db.OpenTradeCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, open)

	outcomes, _, err := e.db.OutcomesSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.InDelta(t, 0.1444, outcomes[0].Brier, 1e-9)
}

func TestPollResolutions_SettlesResolvedMarketLeftOpen(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, []string{"gpt-4.1"}, map[string]domain.Completion{
		"gpt-4.1": confident(`{"probability": 62}`),
	})
	_, err := e.p.Discover(ctx)
	require.NoError(t, err)
	_, err = e.p.RunForecasts(ctx, 0)
	require.NoError(t, err)

	// el mercado quedó RESOLVED pero la liquidación no llegó a ejecutarse
	_, err = e.db.MarkResolved(ctx, "kalshi:FED-MAR", domain.SideYes)
	require.NoError(t, err)
	open, err := e.db.OpenTradeCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, open)

	n, err := e.p.PollResolutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	open, err = e.db.OpenTradeCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, open)
	pf, err := e.db.Portfolio(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_750, pf.Cash, 1e-6)

	// ya liquidado: no vuelve a ser candidato
	n, err = e.p.PollResolutions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunCycle_RunsEveryJob(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, []string{"gpt-4.1"}, map[string]domain.Completion{
		"gpt-4.1": confident(`{"probability": 62}`),
	})
	require.NoError(t, e.p.RunCycle(ctx, 0))

	assert.Len(t, e.reporter.reports, 1)
	trades, err := e.db.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}
