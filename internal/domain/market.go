package domain

import (
	"strings"
	"time"
)

// Exchange identifica el venue donde cotiza un mercado.
type Exchange string

const (
	ExchangePolymarket Exchange = "polymarket"
	ExchangeKalshi     Exchange = "kalshi"
)

// MarketState es el estado de resolución del mercado.
type MarketState string

const (
	StateOpen     MarketState = "OPEN"
	StateResolved MarketState = "RESOLVED"
)

// Side es un lado del mercado binario. También se usa como outcome realizado:
// SideNone significa "todavía sin resolver".
type Side string

const (
	SideNone Side = ""
	SideYes  Side = "YES"
	SideNo   Side = "NO"
)

// ParseSide normaliza "yes"/"Yes"/"YES" etc. Devuelve SideNone si no reconoce el valor.
func ParseSide(s string) Side {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "Y", "TRUE", "1":
		return SideYes
	case "NO", "N", "FALSE", "0":
		return SideNo
	default:
		return SideNone
	}
}

// Value devuelve 1 para YES y 0 para NO; es el "actual" del Brier score.
func (s Side) Value() float64 {
	if s == SideYes {
		return 1
	}
	return 0
}

// RawMarket es lo que devuelve un exchange al listar mercados, antes de
// pasar por el registro.
type RawMarket struct {
	Exchange           Exchange
	ExternalID         string
	Question           string
	ResolutionCriteria string
	Price              float64 // precio YES en [0,1]
	Volume             float64
	CloseTime          time.Time
	Resolved           bool
	Outcome            Side
}

// Market es el registro canónico de un mercado binario.
type Market struct {
	ID                 string // "<exchange>:<external_id>"
	Exchange           Exchange
	ExternalID         string
	Question           string
	ResolutionCriteria string
	Domain             Domain // vacío hasta clasificar
	Price              float64
	Volume             float64
	CloseTime          time.Time
	State              MarketState
	Outcome            Side
	DedupGroup         string // id del mercado canónico si es un duplicado cross-exchange
	LastForecastAt     time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// MarketID construye el id estable a partir de la identidad (exchange, external_id).
func MarketID(exchange Exchange, externalID string) string {
	return string(exchange) + ":" + externalID
}

// NewMarketFromRaw convierte un RawMarket en un Market OPEN sin clasificar.
func NewMarketFromRaw(r RawMarket) Market {
	return Market{
		ID:                 MarketID(r.Exchange, r.ExternalID),
		Exchange:           r.Exchange,
		ExternalID:         r.ExternalID,
		Question:           r.Question,
		ResolutionCriteria: r.ResolutionCriteria,
		Price:              r.Price,
		Volume:             r.Volume,
		CloseTime:          r.CloseTime,
		State:              StateOpen,
	}
}

// IsOpen devuelve true si el mercado no se ha resuelto.
func (m Market) IsOpen() bool {
	return m.State != StateResolved
}

// IsCanonical devuelve true si el mercado no es duplicado de otro.
func (m Market) IsCanonical() bool {
	return m.DedupGroup == "" || m.DedupGroup == m.ID
}

// HoursToClose devuelve las horas hasta el cierre respecto a now.
// Devuelve 0 si CloseTime no está definido o ya pasó.
func (m Market) HoursToClose(now time.Time) float64 {
	if m.CloseTime.IsZero() {
		return 0
	}
	h := m.CloseTime.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// CriteriaText es el texto contra el que se valida el contexto de noticias.
// Si el exchange no da criterios de resolución, se usa la pregunta.
func (m Market) CriteriaText() string {
	if strings.TrimSpace(m.ResolutionCriteria) != "" {
		return m.Question + " " + m.ResolutionCriteria
	}
	return m.Question
}
