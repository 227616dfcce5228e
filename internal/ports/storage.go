package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// MarketFilter restringe ListMarkets. Los campos en cero no filtran.
type MarketFilter struct {
	State          domain.MarketState
	Exchange       domain.Exchange
	OnlyCanonical  bool
	MinVolume      float64
	ClosesAfter    time.Time
	ForecastBefore time.Time // incluye mercados nunca pronosticados
	AfterID        string    // paginación por keyset
	Limit          int
}

// MarketStore persiste el registro de mercados.
type MarketStore interface {
	// UpsertMarket inserta o actualiza por (exchange, external_id). Nunca pisa
	// dedup_group, domain ni los campos de resolución ya fijados.
	UpsertMarket(ctx context.Context, m domain.Market) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, f MarketFilter) ([]domain.Market, error)
	UpdatePrice(ctx context.Context, id string, price, volume float64) error
	SetDomain(ctx context.Context, id string, d domain.Domain) error
	SetDedupGroup(ctx context.Context, id, group string) error
	TouchForecasted(ctx context.Context, id string, at time.Time) error

	// MarkResolved fija el outcome y crea un Outcome por cada Forecast del mercado,
	// todo en una transacción. Repetir con el mismo outcome no hace nada;
	// con otro distinto devuelve domain.ErrResolutionConflict.
	MarkResolved(ctx context.Context, id string, outcome domain.Side) (created int, err error)
}

// ForecastStore persiste los forecasts de cada run.
type ForecastStore interface {
	// SaveForecastRun guarda todas las filas de un mercado y su gasto atómicamente.
	SaveForecastRun(ctx context.Context, forecasts []domain.Forecast, costs []domain.LLMCost) ([]int64, error)
	// LatestEnsemble devuelve la probabilidad ensemble del último run del mercado.
	LatestEnsemble(ctx context.Context, marketID string) (prob float64, ok bool, err error)
	ForecastsForMarket(ctx context.Context, marketID string) ([]domain.Forecast, error)
}

// TradeStore es el ledger de trades y el portfolio. Su único escritor es el executor.
type TradeStore interface {
	Portfolio(ctx context.Context) (domain.PortfolioState, error)
	OpenTrades(ctx context.Context) ([]domain.Trade, error)
	OpenTradeCount(ctx context.Context) (int, error)
	HasOpenTrade(ctx context.Context, marketID string, side domain.Side) (bool, error)
	// RecordTrade inserta el trade y debita la caja en la misma transacción.
	RecordTrade(ctx context.Context, t domain.Trade) error
	// SettleMarket cierra las posiciones abiertas del mercado y acredita el payout.
	SettleMarket(ctx context.Context, marketID string, outcome domain.Side) (closed int, err error)
}

// LearningStore expone el historial de outcomes y el estado del loop de calibración.
type LearningStore interface {
	// OutcomesSince devuelve los outcomes válidos y cuántas filas corruptas se saltaron.
	OutcomesSince(ctx context.Context, since time.Time) (outcomes []domain.Outcome, skipped int, err error)
	CountOutcomesSince(ctx context.Context, since time.Time) (int, error)

	CalibrationStates(ctx context.Context) ([]domain.CalibrationState, error)
	SaveCalibration(ctx context.Context, states []domain.CalibrationState) error
	SetDomainThreshold(ctx context.Context, d domain.Domain, threshold float64) error

	ModelWeights(ctx context.Context) ([]domain.ModelWeight, error)
	ReplaceModelWeights(ctx context.Context, weights []domain.ModelWeight) error

	Snapshot(ctx context.Context) (domain.Snapshot, error)

	ActivePrompts(ctx context.Context, d domain.Domain) ([]domain.PromptExperiment, error)
	AllPrompts(ctx context.Context) ([]domain.PromptExperiment, error)
	UpsertPrompt(ctx context.Context, p domain.PromptExperiment) error
	RetirePrompt(ctx context.Context, version string) error

	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
}

// CostStore lleva la contabilidad de llamadas a LLM fuera de los runs de forecast.
type CostStore interface {
	SaveLLMCost(ctx context.Context, c domain.LLMCost) error
	CostSummary(ctx context.Context, since time.Time) ([]domain.ModelCost, error)
}

// Store es el almacenamiento completo.
type Store interface {
	MarketStore
	ForecastStore
	TradeStore
	LearningStore
	CostStore
	Close() error
}
