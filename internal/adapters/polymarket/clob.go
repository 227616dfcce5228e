package polymarket

// clob.go: lecturas del CLOB: midpoint del token YES y resolución.
//
// El midpoint necesita el token_id YES. ListMarkets lo cachea; si el mercado no
// pasó por ListMarkets en este proceso se resuelve con una consulta a Gamma.

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

const (
	midpointPath    = "/midpoint"
	clobMarketsPath = "/markets/"
)

// GetPrice devuelve el precio YES actual (midpoint del libro).
// Si el CLOB no da midpoint (libro vacío) usa el último outcomePrice de Gamma.
func (c *Client) GetPrice(ctx context.Context, conditionID string) (float64, error) {
	token, ok := c.cachedToken(conditionID)
	var gm gammaMarket
	if !ok {
		var err error
		gm, err = c.fetchGammaMarket(ctx, conditionID)
		if err != nil {
			return 0, fmt.Errorf("clob.GetPrice: %w", err)
		}
		_, token, _ = mapGammaMarket(gm)
		c.rememberToken(conditionID, token)
	}

	if token != "" {
		var resp midpointResponse
		u := c.clobBase + midpointPath + "?token_id=" + url.QueryEscape(token)
		if err := c.get(ctx, c.priceLimiter, u, &resp); err == nil {
			if p, err := strconv.ParseFloat(resp.Mid, 64); err == nil && p >= 0 && p <= 1 {
				return p, nil
			}
		}
	}

	if gm.ConditionID == "" {
		var err error
		if gm, err = c.fetchGammaMarket(ctx, conditionID); err != nil {
			return 0, fmt.Errorf("clob.GetPrice: fallback: %w", err)
		}
	}
	raw, _, ok := mapGammaMarket(gm)
	if !ok {
		return 0, fmt.Errorf("clob.GetPrice: %s: no price available", conditionID)
	}
	return raw.Price, nil
}

// GetResolution consulta el mercado en el CLOB y devuelve el outcome ganador
// si ya está resuelto.
func (c *Client) GetResolution(ctx context.Context, conditionID string) (bool, domain.Side, error) {
	var m clobMarket
	if err := c.get(ctx, c.clobLimiter, c.clobBase+clobMarketsPath+url.PathEscape(conditionID), &m); err != nil {
		return false, domain.SideNone, fmt.Errorf("clob.GetResolution: %s: %w", conditionID, err)
	}
	resolved, side := resolutionFromTokens(m)
	return resolved, side, nil
}
