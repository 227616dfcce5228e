package news

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

const defaultTavilyBase = "https://api.tavily.com"

// Tavily busca en la API de Tavily.
type Tavily struct {
	searchClient
	key  string
	base string
}

// NewTavily crea el cliente. base vacío usa producción.
func NewTavily(key, base string) *Tavily {
	if base == "" {
		base = defaultTavilyBase
	}
	return &Tavily{searchClient: newSearchClient("tavily", 2), key: key, base: base}
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
	Topic       string `json:"topic"`
}

type tavilyResponse struct {
	Results []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Content       string `json:"content"`
		PublishedDate string `json:"published_date"`
	} `json:"results"`
}

// Search implementa ports.NewsSearcher.
func (t *Tavily) Search(ctx context.Context, query string, limit int) ([]domain.Article, error) {
	req := tavilyRequest{
		APIKey:      t.key,
		Query:       query,
		MaxResults:  limit,
		SearchDepth: "basic",
		Topic:       "news",
	}
	var resp tavilyResponse
	err := t.http.PostJSON(ctx, t.limiter, t.base+"/search", nil, req, &resp)
	if err != nil {
		return nil, fmt.Errorf("tavily.Search: %w", err)
	}

	out := make([]domain.Article, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, domain.Article{
			Title:       r.Title,
			URL:         r.URL,
			Content:     r.Content,
			PublishedAt: r.PublishedDate,
		})
	}
	return out, nil
}
