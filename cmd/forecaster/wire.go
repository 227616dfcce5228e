package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polyforecast/config"
	"github.com/alejandrodnm/polyforecast/internal/adapters/kalshi"
	"github.com/alejandrodnm/polyforecast/internal/adapters/llm"
	newsapi "github.com/alejandrodnm/polyforecast/internal/adapters/news"
	"github.com/alejandrodnm/polyforecast/internal/adapters/notify"
	"github.com/alejandrodnm/polyforecast/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyforecast/internal/adapters/storage"
	"github.com/alejandrodnm/polyforecast/internal/application/classifier"
	"github.com/alejandrodnm/polyforecast/internal/application/ensemble"
	"github.com/alejandrodnm/polyforecast/internal/application/forecast"
	"github.com/alejandrodnm/polyforecast/internal/application/learning"
	"github.com/alejandrodnm/polyforecast/internal/application/news"
	"github.com/alejandrodnm/polyforecast/internal/application/pipeline"
	"github.com/alejandrodnm/polyforecast/internal/application/registry"
	"github.com/alejandrodnm/polyforecast/internal/application/trading"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
)

type app struct {
	pipeline *pipeline.Pipeline
	console  *notify.Console
}

// wire construye el grafo de dependencias. Los modelos sin API key se
// descartan del ensemble con un warning.
func wire(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, table bool) (*app, error) {
	client := llm.NewClient(llm.Config{
		AnthropicKey:    cfg.API.AnthropicKey,
		OpenAIKey:       cfg.API.OpenAIKey,
		DeepSeekKey:     cfg.API.DeepSeekKey,
		AnthropicBase:   cfg.API.AnthropicBase,
		OpenAIBase:      cfg.API.OpenAIBase,
		DeepSeekBase:    cfg.API.DeepSeekBase,
		Timeout:         cfg.ModelTimeout(),
		RequestsPerSec:  cfg.API.LLMRequestsPerSec,
		ForecastMaxToks: cfg.Forecast.MaxTokens,
	})

	var models []string
	for _, m := range cfg.Models.Ensemble {
		if !client.HasKey(m) {
			slog.Warn("model dropped from ensemble: no API key", "model", m, "provider", client.ProviderFor(m))
			continue
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("wire: no ensemble model has an API key configured")
	}

	var classifierLLM ports.LLM
	if client.HasKey(cfg.Models.Classifier) {
		classifierLLM = client
	} else {
		slog.Warn("classifier model has no API key, using keyword classifier", "model", cfg.Models.Classifier)
	}

	var proposer ports.VariantProposer
	if client.HasKey(cfg.Models.Evolver) {
		proposer = learning.NewLLMProposer(client, cfg.Models.Evolver, store)
	} else {
		slog.Warn("prompt evolver has no API key, retired variants will not be replaced", "model", cfg.Models.Evolver)
	}

	var disabled []domain.Domain
	for _, d := range cfg.News.DisabledDomains {
		parsed, ok := domain.ParseDomain(d)
		if !ok {
			return nil, fmt.Errorf("wire: news.disabled_domains: unknown domain %q", d)
		}
		disabled = append(disabled, parsed)
	}

	aggregate := ensemble.Aggregate(cfg.Forecast.ConfidenceAggregate)
	if aggregate != ensemble.AggregateMin && aggregate != ensemble.AggregateWeightedMean {
		return nil, fmt.Errorf("wire: forecast.confidence_aggregate: unknown mode %q", aggregate)
	}

	exchanges := []ports.Exchange{
		polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase),
		kalshi.NewClient(cfg.API.KalshiBase),
	}

	loop := learning.New(store, proposer, learningConfig(cfg, models))
	if err := loop.SeedPrompts(ctx); err != nil {
		return nil, err
	}

	console := notify.NewConsole(table)
	p := pipeline.New(pipeline.Config{
		Models:           models,
		MarketWorkers:    cfg.Forecast.MarketWorkers,
		MaxHeadlineShift: cfg.News.MaxHeadlineShift,
		Ensemble: ensemble.Config{
			DefaultThreshold: cfg.Learning.EntropyDefault,
			Aggregate:        aggregate,
		},
	}, pipeline.Deps{
		Store:     store,
		Exchanges: exchanges,
		Registry: registry.New(store, registry.Config{
			MinVolume:       cfg.Forecast.MinVolume,
			MinHoursToClose: cfg.Forecast.MinHoursToClose,
			RestaleAfter:    cfg.RestaleAfter(),
			DedupThreshold:  cfg.Forecast.DedupThreshold,
		}),
		Classifier: classifier.New(classifierLLM, cfg.Models.Classifier, store),
		News: news.NewRetriever(newsapi.New(cfg.News.Provider, cfg.API.TavilyKey, cfg.API.BraveKey), news.Config{
			MaxArticles:     cfg.News.MaxArticles,
			DisabledDomains: disabled,
			MinOverlap:      cfg.News.MinOverlap,
		}),
		Pool: forecast.NewPool(client, forecast.Config{
			Timeout:     cfg.ModelTimeout(),
			Concurrency: int64(cfg.Forecast.LLMConcurrency),
			TopK:        cfg.Forecast.TopK,
			MaxTokens:   cfg.Forecast.MaxTokens,
		}),
		Trader: trading.New(store, exchanges, trading.Config{
			MinEdge:          cfg.Trading.MinEdge,
			KellyFraction:    cfg.Trading.KellyFraction,
			MaxPositionPct:   cfg.Trading.MaxPositionPct,
			MaxOpenPositions: cfg.Trading.MaxOpenPositions,
			MinDomainWeight:  cfg.Trading.MinDomainWeight,
			PaperMode:        cfg.Trading.Paper(),
		}),
		Learning: loop,
		Reporter: console,
	})
	return &app{pipeline: p, console: console}, nil
}

func learningConfig(cfg *config.Config, models []string) learning.Config {
	l := cfg.Learning
	return learning.Config{
		Models:              models,
		BatchSize:           l.BatchSize,
		CalibrationWindow:   config.Days(l.CalibrationWindowDays),
		MinCellSamples:      l.MinCellSamples,
		SelectionWindow:     config.Days(l.SelectionWindowDays),
		MinModelSamples:     l.MinModelSamples,
		KillBrier:           l.KillBrier,
		PromptWindow:        config.Days(l.PromptWindowDays),
		PromptMinTrials:     l.PromptMinTrials,
		PromptRetireGap:     l.PromptRetireGap,
		PromptMaxVariants:   l.PromptMaxVariants,
		ThresholdWindow:     config.Days(l.ThresholdWindowDays),
		ThresholdMinSamples: l.ThresholdMinSamples,
		EntropyDefault:      l.EntropyDefault,
		EntropyStep:         l.EntropyStep,
		EntropyMin:          l.EntropyMin,
		EntropyMax:          l.EntropyMax,
		EffectiveSep:        l.EffectiveSep,
		UselessSep:          l.UselessSep,
		CorrectBrier:        l.CorrectBrier,
	}
}
