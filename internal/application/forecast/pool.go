package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Motivos de abstención.
const (
	ReasonTimeout     = "timeout"
	ReasonCancelled   = "cancelled"
	ReasonUnparseable = "unparseable output"
)

// Config del pool de forecasters.
type Config struct {
	Timeout     time.Duration // por llamada a modelo
	Concurrency int64         // llamadas simultáneas a proveedores, entre todos los mercados
	TopK        int
	MaxTokens   int
}

// Pool lanza una llamada por modelo en paralelo. El semáforo es global para
// respetar los rate limits aunque varios mercados se procesen a la vez.
type Pool struct {
	llm ports.LLM
	sem *semaphore.Weighted
	cfg Config
}

// NewPool crea el pool.
func NewPool(llm ports.LLM, cfg Config) *Pool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Pool{llm: llm, sem: semaphore.NewWeighted(cfg.Concurrency), cfg: cfg}
}

// Forecast pide a cada modelo su estimación para el mercado. Devuelve un
// resultado por modelo en el mismo orden: Success o Abstained. Un modelo
// que falla o excede el timeout se abstiene sin afectar a los demás.
func (p *Pool) Forecast(ctx context.Context, m domain.Market, nc domain.NewsContext, prompt domain.PromptExperiment, models []string) []domain.ModelResult {
	results := make([]domain.ModelResult, len(models))
	rendered := Render(prompt.Template, m, nc)
	system := DefaultSystem
	if nc.Prefix != "" {
		system = nc.Prefix
	}

	var g errgroup.Group
	for i, model := range models {
		g.Go(func() error {
			results[i] = p.forecastOne(ctx, model, prompt.Version, system, rendered)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pool) forecastOne(ctx context.Context, model, version, system, prompt string) domain.ModelResult {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return domain.Abstained{Model: model, PromptVersion: version, Reason: ReasonCancelled}
	}
	defer p.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.llm.Complete(callCtx, domain.CompletionRequest{
		Model:        model,
		System:       system,
		Prompt:       prompt,
		MaxTokens:    p.cfg.MaxTokens,
		WantLogprobs: true,
		TopK:         p.cfg.TopK,
	})
	latency := time.Since(start)
	if err != nil {
		reason := fmt.Sprintf("error: %v", err)
		switch {
		case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			reason = ReasonTimeout
		case ctx.Err() != nil:
			reason = ReasonCancelled
		}
		slog.Warn("forecaster: model abstained", "model", model, "reason", reason, "latency", latency.Round(time.Millisecond))
		return domain.Abstained{Model: model, PromptVersion: version, Reason: reason}
	}

	prob, ok := ParseProbability(resp.Text)
	if !ok {
		slog.Warn("forecaster: could not parse probability", "model", model, "raw", truncate(resp.Text, 120))
		return domain.Abstained{
			Model:         model,
			PromptVersion: version,
			Reason:        ReasonUnparseable,
			TokensIn:      resp.TokensIn,
			TokensOut:     resp.TokensOut,
			CostUSD:       resp.CostUSD,
		}
	}

	entropy, source := Entropy(resp)
	slog.Debug("forecaster: model result",
		"model", model,
		"prob", fmt.Sprintf("%.3f", prob),
		"entropy", fmt.Sprintf("%.3f", entropy),
		"source", source,
		"latency", latency.Round(time.Millisecond),
	)
	return domain.Success{
		Model:         model,
		PromptVersion: version,
		Probability:   prob,
		Entropy:       entropy,
		EntropySource: source,
		Reasoning:     ExtractReasoning(resp.Text),
		TokensIn:      resp.TokensIn,
		TokensOut:     resp.TokensOut,
		CostUSD:       resp.CostUSD,
		Latency:       latency,
	}
}

// Entropy usa los logprobs si el proveedor los devolvió; si no, el proxy textual.
func Entropy(resp domain.Completion) (float64, domain.EntropySource) {
	if h, ok := domain.AnswerEntropy(resp.Logprobs); ok {
		return h, domain.EntropyLogprobs
	}
	return domain.ProxyEntropy(resp.Text), domain.EntropyProxy
}
