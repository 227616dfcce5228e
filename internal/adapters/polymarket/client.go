package polymarket

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/adapters/httpx"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"

	// Rate limits al 60% de los límites reales documentados.
	// CLOB /midpoint: 1500/10s → 900/10s → 90/s
	priceRatePerSec = 90
	// Gamma /markets: 300/10s → 180/10s → 18/s
	gammaRatePerSec = 18
	// CLOB general (/markets/{id}, etc.): 9000/10s → 5400/10s → 540/s
	generalRatePerSec = 540

	maxRetries = 3
)

// Client es el HTTP client de Polymarket con rate limiting y retries.
// Implementa ports.Exchange en modo solo lectura: descubre mercados en Gamma,
// lee precios y resoluciones del CLOB. No enruta órdenes.
type Client struct {
	http         *httpx.Client
	clobBase     string
	gammaBase    string
	clobLimiter  *rate.Limiter
	gammaLimiter *rate.Limiter
	priceLimiter *rate.Limiter

	// condition_id → token_id del outcome YES, rellenado por ListMarkets
	mu        sync.RWMutex
	yesTokens map[string]string

	pageLimit int
	maxPages  int
}

// NewClient crea un Client con los base URLs dados.
// Si clobBase o gammaBase están vacíos, usa los URLs de producción.
func NewClient(clobBase, gammaBase string) *Client {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	if gammaBase == "" {
		gammaBase = defaultGammaBase
	}
	return &Client{
		http:         httpx.New(httpx.Options{Name: "polymarket", Timeout: 10 * time.Second, MaxRetries: maxRetries}),
		clobBase:     clobBase,
		gammaBase:    gammaBase,
		clobLimiter:  rate.NewLimiter(generalRatePerSec, 50),
		gammaLimiter: rate.NewLimiter(gammaRatePerSec, 10),
		priceLimiter: rate.NewLimiter(priceRatePerSec, 10),
		yesTokens:    make(map[string]string),
		pageLimit:    gammaPageLimit,
		maxPages:     gammaMaxPages,
	}
}

// Name identifica el exchange en los ids de mercado.
func (c *Client) Name() domain.Exchange {
	return domain.ExchangePolymarket
}

func (c *Client) rememberToken(conditionID, tokenID string) {
	if tokenID == "" {
		return
	}
	c.mu.Lock()
	c.yesTokens[conditionID] = tokenID
	c.mu.Unlock()
}

func (c *Client) cachedToken(conditionID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.yesTokens[conditionID]
	return t, ok
}

// get hace un GET con el limiter del endpoint.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.http.GetJSON(ctx, limiter, url, out)
}
