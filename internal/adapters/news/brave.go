package news

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

const defaultBraveBase = "https://api.search.brave.com"

// Brave busca en la API de noticias de Brave Search.
type Brave struct {
	searchClient
	key  string
	base string
}

// NewBrave crea el cliente. base vacío usa producción.
func NewBrave(key, base string) *Brave {
	if base == "" {
		base = defaultBraveBase
	}
	return &Brave{searchClient: newSearchClient("brave", 1), key: key, base: base}
}

type braveResponse struct {
	Results []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Description string `json:"description"`
		Age         string `json:"age"`
	} `json:"results"`
}

// Search implementa ports.NewsSearcher.
func (b *Brave) Search(ctx context.Context, query string, limit int) ([]domain.Article, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprint(limit))

	var resp braveResponse
	err := b.http.Do(ctx, b.limiter, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.base+"/res/v1/news/search?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.key)
		return req, nil
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("brave.Search: %w", err)
	}

	out := make([]domain.Article, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, domain.Article{
			Title:       r.Title,
			URL:         r.URL,
			Content:     r.Description,
			PublishedAt: r.Age,
		})
	}
	return out, nil
}
