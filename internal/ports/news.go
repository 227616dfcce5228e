package ports

import (
	"context"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// NewsSearcher busca artículos recientes para una consulta.
type NewsSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Article, error)
}
