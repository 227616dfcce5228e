package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
	"github.com/shopspring/decimal"
)

// Motivos de bloqueo de la admisión. Se loguean siempre, haya trade o no.
const (
	ReasonNoContributors  = "no_contributors"
	ReasonAlreadyOpen     = "position_already_open"
	ReasonMaxPositions    = "max_open_positions"
	ReasonEdgeBelowMin    = "edge_below_min"
	ReasonConfidence      = "confidence_not_high"
	ReasonDomainWeight    = "domain_weight_below_floor"
	ReasonZeroSize        = "size_zero_after_rounding"
	ReasonNoExchange      = "no_exchange_client"
	ReasonPlacementFailed = "placement_failed"
	ReasonNotFilled       = "fill_not_confirmed"
)

// Config son los límites de riesgo.
type Config struct {
	MinEdge          float64
	KellyFraction    float64
	MaxPositionPct   float64
	MaxOpenPositions int
	MinDomainWeight  float64
	PaperMode        bool
}

// Intent es un par mercado-forecast listo para evaluar.
type Intent struct {
	Market     domain.Market
	ForecastID int64
	Ensemble   domain.EnsembleForecast
	// DomainWeight es el menor domain_weight entre los modelos que contribuyeron.
	DomainWeight float64
}

// Engine evalúa intents y ejecuta los que pasan todos los filtros.
// Es el único escritor del ledger de trades y del portfolio.
// mu serializa admisión → registro: el cap de posiciones y la caja se leen y
// se escriben sin que otro worker intercale.
type Engine struct {
	mu        sync.Mutex
	store     ports.TradeStore
	exchanges map[domain.Exchange]ports.Exchange
	cfg       Config
}

// New crea el motor. exchanges solo se usa con PaperMode=false.
func New(store ports.TradeStore, exchanges []ports.Exchange, cfg Config) *Engine {
	byName := make(map[domain.Exchange]ports.Exchange, len(exchanges))
	for _, ex := range exchanges {
		byName[ex.Name()] = ex
	}
	return &Engine{store: store, exchanges: byName, cfg: cfg}
}

// BestSide devuelve el lado con edge positivo y su magnitud.
// edge YES = p − precio; edge NO = precio − p.
func BestSide(prob, price float64) (domain.Side, float64) {
	edge := prob - price
	if edge >= 0 {
		return domain.SideYes, edge
	}
	return domain.SideNo, -edge
}

// Evaluate recorre EVALUATED → {SKIPPED | PLACED}. Devuelve error solo ante
// violaciones de integridad o de lógica; un bloqueo de admisión o un fallo de
// colocación es una Decision con Reason.
func (e *Engine) Evaluate(ctx context.Context, in Intent) (domain.Decision, error) {
	m := in.Market
	side, edge := BestSide(in.Ensemble.Probability, m.Price)
	price := m.Price
	if side == domain.SideNo {
		price = 1 - m.Price
	}
	d := domain.Decision{MarketID: m.ID, Side: side, Edge: edge, Price: price}

	e.mu.Lock()
	defer e.mu.Unlock()

	reason, err := e.admit(ctx, in, side, edge)
	if err != nil {
		return d, fmt.Errorf("trading.Evaluate: %s: %w", m.ID, err)
	}
	if reason != "" {
		return e.skip(d, reason), nil
	}

	portfolio, err := e.store.Portfolio(ctx)
	if err != nil {
		return d, fmt.Errorf("trading.Evaluate: %w", err)
	}
	sizing, err := domain.Kelly(edge, price, portfolio.Cash, domain.KellyParams{
		Fraction:       e.cfg.KellyFraction,
		MaxPositionPct: e.cfg.MaxPositionPct,
	})
	if err != nil {
		return d, fmt.Errorf("trading.Evaluate: %s: %w", m.ID, err)
	}
	d.KellyFraction = sizing.Applied
	size := decimal.NewFromFloat(sizing.Size).RoundDown(2)
	d.Size = size.InexactFloat64()
	if !size.IsPositive() {
		return e.skip(d, ReasonZeroSize), nil
	}

	trade := domain.Trade{
		MarketID:      m.ID,
		ForecastID:    in.ForecastID,
		Side:          side,
		Size:          d.Size,
		FillPrice:     price,
		Shares:        shares(size, price),
		KellyFraction: sizing.Applied,
		Edge:          edge,
		IsPaper:       e.cfg.PaperMode,
	}
	if !e.cfg.PaperMode {
		reason, err := e.placeLive(ctx, m, &trade)
		if err != nil {
			return d, err
		}
		if reason != "" {
			return e.skip(d, reason), nil
		}
	}

	if err := e.store.RecordTrade(ctx, trade); err != nil {
		return d, fmt.Errorf("trading.Evaluate: %w", err)
	}
	d.Placed = true
	d.Trade = &trade

	mode := "PAPER"
	if !trade.IsPaper {
		mode = "LIVE"
	}
	slog.Info("trade placed",
		"mode", mode,
		"market_id", m.ID,
		"side", side,
		"price", fmt.Sprintf("%.3f", trade.FillPrice),
		"edge", fmt.Sprintf("%.3f", edge),
		"kelly", fmt.Sprintf("%.4f", sizing.Applied),
		"cap_binds", sizing.CapBinds,
		"size", fmt.Sprintf("%.2f", trade.Size),
	)
	return d, nil
}

// admit aplica las condiciones de admisión en orden y devuelve la primera que bloquea.
func (e *Engine) admit(ctx context.Context, in Intent, side domain.Side, edge float64) (string, error) {
	if !in.Ensemble.HasContributors() {
		return ReasonNoContributors, nil
	}
	open, err := e.store.HasOpenTrade(ctx, in.Market.ID, side)
	if err != nil {
		return "", err
	}
	if open {
		return ReasonAlreadyOpen, nil
	}
	count, err := e.store.OpenTradeCount(ctx)
	if err != nil {
		return "", err
	}
	switch {
	case count >= e.cfg.MaxOpenPositions:
		return ReasonMaxPositions, nil
	case edge < e.cfg.MinEdge:
		return ReasonEdgeBelowMin, nil
	case in.Ensemble.Confidence != domain.ConfidenceHigh:
		return ReasonConfidence, nil
	case in.DomainWeight < e.cfg.MinDomainWeight:
		return ReasonDomainWeight, nil
	}
	return "", nil
}

// placeLive coloca la orden y ajusta el trade al fill confirmado. Si algo
// falla no se escribe nada: la caja no se toca sin fill.
func (e *Engine) placeLive(ctx context.Context, m domain.Market, t *domain.Trade) (string, error) {
	ex, ok := e.exchanges[m.Exchange]
	if !ok {
		return ReasonNoExchange, nil
	}
	fill, err := ex.PlaceOrder(ctx, m.ExternalID, t.Side, t.Size, t.FillPrice)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("trading.placeLive: %s: %w", m.ID, err)
		}
		slog.Error("trading: live placement failed", "market_id", m.ID, "err", err)
		return ReasonPlacementFailed, nil
	}
	if !fill.Confirmed || fill.OrderID == "" {
		slog.Warn("trading: order not confirmed", "market_id", m.ID, "order_id", fill.OrderID)
		return ReasonNotFilled, nil
	}
	t.OrderID = fill.OrderID
	if fill.FilledPrice > 0 && fill.FilledPrice < 1 {
		t.FillPrice = fill.FilledPrice
	}
	if fill.FilledSize > 0 {
		t.Size = decimal.NewFromFloat(fill.FilledSize).RoundDown(2).InexactFloat64()
	}
	t.Shares = shares(decimal.NewFromFloat(t.Size), t.FillPrice)
	return "", nil
}

func (e *Engine) skip(d domain.Decision, reason string) domain.Decision {
	d.Reason = reason
	slog.Info("trade skipped",
		"market_id", d.MarketID,
		"reason", reason,
		"side", d.Side,
		"edge", fmt.Sprintf("%.3f", d.Edge),
	)
	return d
}

// Settle cierra las posiciones de un mercado resuelto y acredita el payout.
func (e *Engine) Settle(ctx context.Context, marketID string, outcome domain.Side) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	closed, err := e.store.SettleMarket(ctx, marketID, outcome)
	if err != nil {
		return 0, fmt.Errorf("trading.Settle: %w", err)
	}
	if closed > 0 {
		slog.Info("positions settled", "market_id", marketID, "outcome", outcome, "closed", closed)
	}
	return closed, nil
}

func shares(size decimal.Decimal, price float64) float64 {
	return size.Div(decimal.NewFromFloat(price)).Round(6).InexactFloat64()
}
