package domain

import "time"

// TradeStatus es el ciclo de vida de una posición.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// Trade es una posición tomada sobre un mercado. Inmutable tras colocarse,
// salvo el cierre cuando el mercado resuelve.
type Trade struct {
	ID            string
	MarketID      string
	ForecastID    int64 // 0 si no hay forecast asociado
	Side          Side
	Size          float64 // USD invertidos
	FillPrice     float64 // precio pagado por el lado comprado
	Shares        float64 // Size / FillPrice
	KellyFraction float64
	Edge          float64
	IsPaper       bool
	OrderID       string
	Status        TradeStatus
	PnL           float64
	CreatedAt     time.Time
	ClosedAt      time.Time
}

// Payout devuelve lo que paga la posición si el mercado resuelve con outcome.
func (t Trade) Payout(outcome Side) float64 {
	if outcome == t.Side {
		return t.Shares
	}
	return 0
}

// FillResult es la confirmación del exchange al colocar una orden.
type FillResult struct {
	OrderID     string
	FilledPrice float64
	FilledSize  float64
	Confirmed   bool
}

// PortfolioState es el singleton de caja y valor total.
type PortfolioState struct {
	Cash       float64
	TotalValue float64
	UpdatedAt  time.Time
}

// Decision es la salida del motor de trading para un par mercado-forecast.
type Decision struct {
	MarketID      string
	Side          Side
	Edge          float64
	KellyFraction float64
	Size          float64
	Price         float64 // precio del lado comprado
	Placed        bool
	Reason        string // condición de admisión que bloqueó; vacío si Placed
	Trade         *Trade
}
