package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// mapGammaMarket convierte un gammaMarket DTO a domain.RawMarket.
// Devuelve también el token YES para poder pedir el midpoint después.
// ok=false si el mercado no es binario o no trae precio.
func mapGammaMarket(gm gammaMarket) (raw domain.RawMarket, yesToken string, ok bool) {
	if gm.ConditionID == "" || gm.Question == "" {
		return domain.RawMarket{}, "", false
	}
	prices := parseStringArray(gm.OutcomePrices)
	if len(prices) != 2 {
		return domain.RawMarket{}, "", false
	}
	yes, err := strconv.ParseFloat(prices[0], 64)
	if err != nil || yes < 0 || yes > 1 {
		return domain.RawMarket{}, "", false
	}

	raw = domain.RawMarket{
		Exchange:           domain.ExchangePolymarket,
		ExternalID:         gm.ConditionID,
		Question:           strings.TrimSpace(gm.Question),
		ResolutionCriteria: strings.TrimSpace(gm.Description),
		Price:              yes,
		CloseTime:          parseEndDate(gm.EndDateISO, gm.EndDate),
	}
	if v, err := gm.Volume.Float64(); err == nil {
		raw.Volume = v
	}

	if tokens := parseStringArray(gm.ClobTokenIDs); len(tokens) > 0 {
		yesToken = tokens[0]
	}
	return raw, yesToken, true
}

// resolutionFromTokens interpreta el flag winner de los tokens del CLOB.
// Un mercado cerrado sin ganador todavía está pendiente de resolución en UMA.
func resolutionFromTokens(m clobMarket) (bool, domain.Side) {
	if !m.Closed {
		return false, domain.SideNone
	}
	for _, t := range m.Tokens {
		if !t.Winner {
			continue
		}
		switch strings.ToUpper(t.Outcome) {
		case "YES":
			return true, domain.SideYes
		case "NO":
			return true, domain.SideNo
		}
	}
	return false, domain.SideNone
}

// parseStringArray decodifica arrays que Gamma serializa dentro de un string:
// "[\"0.45\", \"0.55\"]".
func parseStringArray(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// parseEndDate prueba los formatos que usa Polymarket.
func parseEndDate(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02T15:04:05Z",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
