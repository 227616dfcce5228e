package news

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
)

const (
	maxContentChars = 500
	articleSep      = "\n\n---\n\n"
)

// Config controla la recuperación de contexto.
type Config struct {
	MaxArticles     int
	DisabledDomains []domain.Domain // dominios donde las noticias empeoran la calibración
	MinOverlap      float64         // solape léxico mínimo con los criterios de resolución
	Timeout         time.Duration
}

// Retriever obtiene contexto de noticias con los tres guards aplicados.
type Retriever struct {
	searcher ports.NewsSearcher
	cfg      Config
}

// NewRetriever crea el retriever. searcher puede ser nil: todo degrada a "sin contexto".
func NewRetriever(searcher ports.NewsSearcher, cfg Config) *Retriever {
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Retriever{searcher: searcher, cfg: cfg}
}

// Disabled devuelve true si el dominio no usa noticias.
func (r *Retriever) Disabled(d domain.Domain) bool {
	return slices.Contains(r.cfg.DisabledDomains, d)
}

// FetchContext devuelve el contexto filtrado para el mercado. Nunca falla:
// timeout, error o resultado vacío dan un contexto con Used=false.
func (r *Retriever) FetchContext(ctx context.Context, m domain.Market) domain.NewsContext {
	if r.Disabled(m.Domain) {
		return domain.NewsContext{
			Prefix: fmt.Sprintf("[DOMAIN NOTE: %s domain. News context is omitted because it degrades "+
				"forecast accuracy for this domain. Rely on base rates and structural reasoning only.]", m.Domain),
		}
	}
	noNews := domain.NewsContext{Prefix: "[No recent news found. Rely on base rates.]"}
	if r.searcher == nil {
		return noNews
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	articles, err := r.searcher.Search(callCtx, m.Question, r.cfg.MaxArticles)
	if err != nil {
		slog.Warn("news: search failed, continuing without context", "market_id", m.ID, "err", err)
		return noNews
	}

	criteria := criteriaTerms(m.CriteriaText())
	kept := make([]domain.Article, 0, len(articles))
	dropped := 0
	for _, a := range articles {
		text := a.Title + " " + a.Content
		if Overlap(criteria, text) < r.cfg.MinOverlap {
			dropped++
			continue
		}
		a.Speculative = IsSpeculative(text)
		kept = append(kept, a)
		if len(kept) == r.cfg.MaxArticles {
			break
		}
	}
	if dropped > 0 {
		slog.Debug("news: snippets dropped for definition drift", "market_id", m.ID, "dropped", dropped)
	}
	if len(kept) == 0 {
		noNews.Dropped = dropped
		return noNews
	}

	return domain.NewsContext{
		Articles: kept,
		Used:     true,
		Prefix:   guidelines(m, KeyTerms(m.Question)),
		Body:     formatArticles(kept),
		Dropped:  dropped,
	}
}

func guidelines(m domain.Market, terms []string) string {
	var b strings.Builder
	b.WriteString("[FORECASTING GUIDELINES]\n")
	b.WriteString("- Weight base rates equally with recent news. Recent is not the same as correct.\n")
	b.WriteString("- A single new headline is not enough to move far from your prior estimate.\n")
	b.WriteString("- Speculative articles are tagged [SPECULATIVE]. Treat them as weak signal only.\n")
	fmt.Fprintf(&b, "- Domain: %s. Key resolution terms: %s.\n", m.Domain, strings.Join(terms, ", "))
	b.WriteString("- Distinguish confirmed facts from speculation before updating your probability.")
	return b.String()
}

func formatArticles(articles []domain.Article) string {
	parts := make([]string, 0, len(articles))
	for _, a := range articles {
		var b strings.Builder
		if a.Speculative {
			b.WriteString("[SPECULATIVE] ")
		}
		b.WriteString(a.Title)
		if a.PublishedAt != "" {
			fmt.Fprintf(&b, " (%s)", a.PublishedAt)
		}
		b.WriteString("\n")
		b.WriteString(truncateRunes(a.Content, maxContentChars))
		parts = append(parts, b.String())
	}
	return strings.Join(parts, articleSep)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
