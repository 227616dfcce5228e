package kalshi

import (
	"context"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/adapters/httpx"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultBase = "https://api.elections.kalshi.com/trade-api/v2"

	// Tier básico: 20 lecturas/s. Nos quedamos en 10.
	readRatePerSec = 10
)

// Client lee la API pública de Kalshi (market data, sin auth).
// Implementa ports.Exchange en modo solo lectura.
type Client struct {
	http    *httpx.Client
	base    string
	limiter *rate.Limiter

	pageLimit int
	maxPages  int
}

// NewClient crea un Client. Si base está vacío usa el host de producción.
func NewClient(base string) *Client {
	if base == "" {
		base = defaultBase
	}
	return &Client{
		http:      httpx.New(httpx.Options{Name: "kalshi", Timeout: 10 * time.Second, MaxRetries: 3}),
		base:      base,
		limiter:   rate.NewLimiter(readRatePerSec, 5),
		pageLimit: 200,
		maxPages:  25,
	}
}

// Name identifica el exchange en los ids de mercado.
func (c *Client) Name() domain.Exchange {
	return domain.ExchangeKalshi
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	return c.http.GetJSON(ctx, c.limiter, url, out)
}
