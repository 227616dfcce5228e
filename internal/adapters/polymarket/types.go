package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- Gamma API ---

// gammaMarket es un mercado de GET /markets de Gamma.
// Gamma devuelve algunos campos numéricos como strings JSON, usamos json.Number.
// outcomePrices y clobTokenIds llegan como arrays JSON serializados dentro de un string.
type gammaMarket struct {
	ConditionID   string      `json:"conditionId"`
	Question      string      `json:"question"`
	Description   string      `json:"description"`
	Slug          string      `json:"slug"`
	EndDateISO    string      `json:"endDateIso"`
	EndDate       string      `json:"endDate"`
	Volume        json.Number `json:"volume"`
	Outcomes      string      `json:"outcomes"`
	OutcomePrices string      `json:"outcomePrices"`
	ClobTokenIDs  string      `json:"clobTokenIds"`
	Active        bool        `json:"active"`
	Closed        bool        `json:"closed"`
}

// --- CLOB API ---

// clobMarket es la respuesta de GET /markets/{condition_id}.
type clobMarket struct {
	ConditionID string      `json:"condition_id"`
	Question    string      `json:"question"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
	Tokens      []clobToken `json:"tokens"`
}

// clobToken representa un token (YES/NO) en el CLOB.
type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// midpointResponse es la respuesta de GET /midpoint.
type midpointResponse struct {
	Mid string `json:"mid"`
}
