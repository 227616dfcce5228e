// Package pipeline contiene los jobs periódicos: descubrimiento, refresco de
// precios, resolución, forecast y calibración. Cada job es una función normal
// que el scheduler (o un test) invoca directamente.
package pipeline

import (
	"time"

	"github.com/alejandrodnm/polyforecast/internal/application/classifier"
	"github.com/alejandrodnm/polyforecast/internal/application/ensemble"
	"github.com/alejandrodnm/polyforecast/internal/application/forecast"
	"github.com/alejandrodnm/polyforecast/internal/application/learning"
	"github.com/alejandrodnm/polyforecast/internal/application/news"
	"github.com/alejandrodnm/polyforecast/internal/application/registry"
	"github.com/alejandrodnm/polyforecast/internal/application/trading"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
)

// Config del pipeline.
type Config struct {
	Models           []string // modelos del ensemble, en orden
	MarketWorkers    int      // mercados procesados a la vez
	MaxHeadlineShift float64
	Ensemble         ensemble.Config
}

// Deps son los colaboradores ya construidos.
type Deps struct {
	Store      ports.Store
	Exchanges  []ports.Exchange
	Registry   *registry.Registry
	Classifier *classifier.Classifier
	News       *news.Retriever
	Pool       *forecast.Pool
	Trader     *trading.Engine
	Learning   *learning.Loop
	Reporter   ports.Reporter // puede ser nil
}

// Pipeline orquesta los jobs sobre sus dependencias.
type Pipeline struct {
	cfg        Config
	store      ports.Store
	exchanges  map[domain.Exchange]ports.Exchange
	order      []ports.Exchange
	registry   *registry.Registry
	classifier *classifier.Classifier
	news       *news.Retriever
	pool       *forecast.Pool
	trader     *trading.Engine
	learning   *learning.Loop
	reporter   ports.Reporter
	now        func() time.Time
}

// New crea el pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.MarketWorkers <= 0 {
		cfg.MarketWorkers = 4
	}
	byName := make(map[domain.Exchange]ports.Exchange, len(deps.Exchanges))
	for _, ex := range deps.Exchanges {
		byName[ex.Name()] = ex
	}
	return &Pipeline{
		cfg:        cfg,
		store:      deps.Store,
		exchanges:  byName,
		order:      deps.Exchanges,
		registry:   deps.Registry,
		classifier: deps.Classifier,
		news:       deps.News,
		pool:       deps.Pool,
		trader:     deps.Trader,
		learning:   deps.Learning,
		reporter:   deps.Reporter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}
