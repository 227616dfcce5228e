package news

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/adapters/httpx"
	"github.com/alejandrodnm/polyforecast/internal/ports"
	"golang.org/x/time/rate"
)

const maxRetries = 2

// New devuelve el buscador del proveedor configurado, o nil si no hay key.
// Sin buscador el retriever degrada a "sin contexto".
func New(provider, tavilyKey, braveKey string) ports.NewsSearcher {
	switch provider {
	case "brave":
		if braveKey != "" {
			return NewBrave(braveKey, "")
		}
	default:
		if tavilyKey != "" {
			return NewTavily(tavilyKey, "")
		}
	}
	slog.Warn("no news API key configured, news context disabled", "provider", provider)
	return nil
}

// searchClient agrupa el cliente HTTP y el limiter de un proveedor.
type searchClient struct {
	http    *httpx.Client
	limiter *rate.Limiter
}

func newSearchClient(name string, rps float64) searchClient {
	return searchClient{
		http:    httpx.New(httpx.Options{Name: name, Timeout: 15 * time.Second, MaxRetries: maxRetries}),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}
