package kalshi

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
)

var _ ports.Exchange = (*Client)(nil)

type marketsResponse struct {
	Markets []market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

type marketResponse struct {
	Market market `json:"market"`
}

// market es el DTO de /markets. Los precios vienen en centavos (0-100).
type market struct {
	Ticker       string  `json:"ticker"`
	Title        string  `json:"title"`
	Subtitle     string  `json:"subtitle"`
	RulesPrimary string  `json:"rules_primary"`
	MarketType   string  `json:"market_type"`
	Status       string  `json:"status"`
	Result       string  `json:"result"`
	CloseTime    string  `json:"close_time"`
	YesBid       *int    `json:"yes_bid"`
	YesAsk       *int    `json:"yes_ask"`
	LastPrice    int     `json:"last_price"`
	Volume       float64 `json:"volume"`
}

// price devuelve el mid bid/ask normalizado a [0,1], o el último precio.
func (m market) price() float64 {
	if m.YesBid != nil && m.YesAsk != nil && *m.YesAsk > 0 {
		return float64(*m.YesBid+*m.YesAsk) / 2 / 100
	}
	return float64(m.LastPrice) / 100
}

func (m market) binary() bool {
	return m.MarketType == "" || m.MarketType == "binary"
}

func (m market) toRaw() domain.RawMarket {
	closeTime, _ := time.Parse(time.RFC3339, m.CloseTime)
	return domain.RawMarket{
		Exchange:           domain.ExchangeKalshi,
		ExternalID:         m.Ticker,
		Question:           strings.TrimSpace(m.Title),
		ResolutionCriteria: strings.TrimSpace(m.RulesPrimary),
		Price:              m.price(),
		Volume:             m.Volume,
		CloseTime:          closeTime.UTC(),
	}
}

// ListMarkets pagina /markets?status=open por cursor.
func (c *Client) ListMarkets(ctx context.Context) ([]domain.RawMarket, error) {
	var (
		all    []domain.RawMarket
		cursor string
	)
	for page := 0; page < c.maxPages; page++ {
		q := url.Values{}
		q.Set("status", "open")
		q.Set("limit", fmt.Sprint(c.pageLimit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp marketsResponse
		if err := c.get(ctx, c.base+"/markets?"+q.Encode(), &resp); err != nil {
			if page == 0 {
				return nil, fmt.Errorf("kalshi.ListMarkets: %w", err)
			}
			slog.Warn("kalshi page failed, returning partial list", "page", page, "err", err)
			break
		}
		for _, m := range resp.Markets {
			if !m.binary() || m.Ticker == "" || m.Title == "" {
				continue
			}
			all = append(all, m.toRaw())
		}
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	slog.Info("kalshi markets fetched", "total", len(all))
	return all, nil
}

func (c *Client) fetchMarket(ctx context.Context, ticker string) (market, error) {
	var resp marketResponse
	if err := c.get(ctx, c.base+"/markets/"+url.PathEscape(ticker), &resp); err != nil {
		return market{}, err
	}
	return resp.Market, nil
}

// GetPrice devuelve el precio YES actual.
func (c *Client) GetPrice(ctx context.Context, ticker string) (float64, error) {
	m, err := c.fetchMarket(ctx, ticker)
	if err != nil {
		return 0, fmt.Errorf("kalshi.GetPrice: %s: %w", ticker, err)
	}
	return m.price(), nil
}

// GetResolution lee result del mercado: "yes"/"no" una vez liquidado.
func (c *Client) GetResolution(ctx context.Context, ticker string) (bool, domain.Side, error) {
	m, err := c.fetchMarket(ctx, ticker)
	if err != nil {
		return false, domain.SideNone, fmt.Errorf("kalshi.GetResolution: %s: %w", ticker, err)
	}
	switch m.Status {
	case "settled", "finalized", "determined":
	default:
		return false, domain.SideNone, nil
	}
	switch strings.ToLower(m.Result) {
	case "yes":
		return true, domain.SideYes, nil
	case "no":
		return true, domain.SideNo, nil
	}
	return false, domain.SideNone, nil
}

// PlaceOrder requiere auth RSA, que este cliente no implementa.
func (c *Client) PlaceOrder(_ context.Context, ticker string, side domain.Side, size, limitPrice float64) (domain.FillResult, error) {
	return domain.FillResult{}, fmt.Errorf("kalshi.PlaceOrder: %s %s %.2f@%.4f: %w",
		ticker, side, size, limitPrice, domain.ErrLiveTradingUnsupported)
}
