package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	gammaPageLimit   = 100
	gammaMaxPages    = 50
)

// ListMarkets devuelve los mercados binarios activos de Gamma.
// Pagina por offset hasta una página incompleta o maxPages.
func (c *Client) ListMarkets(ctx context.Context) ([]domain.RawMarket, error) {
	var (
		all     []domain.RawMarket
		skipped int
	)

	for page := 0; page < c.maxPages; page++ {
		q := url.Values{}
		q.Set("active", "true")
		q.Set("closed", "false")
		q.Set("limit", fmt.Sprint(c.pageLimit))
		q.Set("offset", fmt.Sprint(page*c.pageLimit))

		var resp []gammaMarket
		if err := c.get(ctx, c.gammaLimiter, c.gammaBase+gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
			// La primera página es obligatoria; las siguientes degradan a lo ya leído
			if page == 0 {
				return nil, fmt.Errorf("gamma.ListMarkets: %w", err)
			}
			slog.Warn("gamma page failed, returning partial list", "page", page, "err", err)
			break
		}

		for _, gm := range resp {
			raw, token, ok := mapGammaMarket(gm)
			if !ok {
				skipped++
				continue
			}
			c.rememberToken(gm.ConditionID, token)
			all = append(all, raw)
		}

		slog.Debug("fetched gamma markets page",
			"page", page,
			"count", len(resp),
			"total", len(all),
		)

		if len(resp) < c.pageLimit {
			break
		}
	}

	slog.Info("polymarket markets fetched", "total", len(all), "skipped_non_binary", skipped)
	return all, nil
}

// fetchGammaMarket busca un mercado por condition_id.
func (c *Client) fetchGammaMarket(ctx context.Context, conditionID string) (gammaMarket, error) {
	u := fmt.Sprintf("%s%s?condition_ids=%s", c.gammaBase, gammaMarketsPath, url.QueryEscape(conditionID))
	var resp []gammaMarket
	if err := c.get(ctx, c.gammaLimiter, u, &resp); err != nil {
		return gammaMarket{}, err
	}
	for _, gm := range resp {
		if gm.ConditionID == conditionID {
			return gm, nil
		}
	}
	return gammaMarket{}, fmt.Errorf("%s: %w", conditionID, domain.ErrMarketNotFound)
}
