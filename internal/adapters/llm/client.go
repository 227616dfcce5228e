package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/adapters/httpx"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"golang.org/x/time/rate"
)

// Provider identifica la API de un modelo.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderDeepSeek  Provider = "deepseek"
)

const (
	defaultAnthropicBase = "https://api.anthropic.com"
	defaultOpenAIBase    = "https://api.openai.com"
	defaultDeepSeekBase  = "https://api.deepseek.com"

	anthropicVersion = "2023-06-01"

	defaultMaxTokens   = 300
	defaultTemperature = 0.3

	maxRetries = 3
)

// Config configura el cliente. Los base URLs vacíos usan producción.
type Config struct {
	AnthropicKey string
	OpenAIKey    string
	DeepSeekKey  string

	AnthropicBase string
	OpenAIBase    string
	DeepSeekBase  string

	// Models fija el proveedor de cada modelo. Los no listados se infieren del nombre.
	Models map[string]Provider

	Timeout         time.Duration
	RequestsPerSec  float64 // por proveedor
	ForecastMaxToks int
}

type provider struct {
	key     string
	base    string
	limiter *rate.Limiter
}

// Client habla con Anthropic y con APIs compatibles con OpenAI (OpenAI, DeepSeek).
// Implementa ports.LLM.
type Client struct {
	http      *httpx.Client
	providers map[Provider]*provider
	models    map[string]Provider
	maxTokens int
}

// NewClient crea el cliente con un limiter por proveedor.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 2
	}
	if cfg.ForecastMaxToks <= 0 {
		cfg.ForecastMaxToks = defaultMaxTokens
	}
	mk := func(key, base, def string) *provider {
		if base == "" {
			base = def
		}
		return &provider{
			key:     key,
			base:    strings.TrimRight(base, "/"),
			limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 2),
		}
	}
	models := make(map[string]Provider, len(cfg.Models))
	for m, p := range cfg.Models {
		models[m] = p
	}
	return &Client{
		http: httpx.New(httpx.Options{Name: "llm", Timeout: cfg.Timeout, MaxRetries: maxRetries}),
		providers: map[Provider]*provider{
			ProviderAnthropic: mk(cfg.AnthropicKey, cfg.AnthropicBase, defaultAnthropicBase),
			ProviderOpenAI:    mk(cfg.OpenAIKey, cfg.OpenAIBase, defaultOpenAIBase),
			ProviderDeepSeek:  mk(cfg.DeepSeekKey, cfg.DeepSeekBase, defaultDeepSeekBase),
		},
		models:    models,
		maxTokens: cfg.ForecastMaxToks,
	}
}

// ProviderFor devuelve el proveedor de un modelo.
func (c *Client) ProviderFor(model string) Provider {
	if p, ok := c.models[model]; ok {
		return p
	}
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "deepseek"):
		return ProviderDeepSeek
	default:
		return ProviderOpenAI
	}
}

// HasKey indica si hay credenciales para el proveedor del modelo.
func (c *Client) HasKey(model string) bool {
	p := c.providers[c.ProviderFor(model)]
	return p != nil && p.key != ""
}

// Complete envía la petición al proveedor del modelo.
// Anthropic no expone logprobs: Completion.Logprobs queda vacío.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.maxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}

	kind := c.ProviderFor(req.Model)
	p := c.providers[kind]
	if p.key == "" {
		return domain.Completion{}, fmt.Errorf("llm.Complete: %s: no API key for %s", req.Model, kind)
	}

	var (
		out domain.Completion
		err error
	)
	switch kind {
	case ProviderAnthropic:
		out, err = c.completeAnthropic(ctx, p, req)
	default:
		out, err = c.completeOpenAI(ctx, p, req)
	}
	if err != nil {
		return domain.Completion{}, fmt.Errorf("llm.Complete: %s: %w", req.Model, err)
	}
	out.CostUSD = EstimateCost(req.Model, out.TokensIn, out.TokensOut)
	return out, nil
}

// post envía body al proveedor. El timeout por modelo llega en ctx y no se reintenta.
func (c *Client) post(ctx context.Context, p *provider, path string, headers map[string]string, body, out any) error {
	return c.http.PostJSON(ctx, p.limiter, p.base+path, headers, body, out)
}
