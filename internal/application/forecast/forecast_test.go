package forecast_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/application/forecast"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLLM responde por modelo; "slow" bloquea hasta que cancelan el contexto.
type scriptedLLM struct {
	mu    sync.Mutex
	seen  []domain.CompletionRequest
	reply map[string]domain.Completion
	fail  map[string]error
}

func (s *scriptedLLM) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	s.mu.Lock()
	s.seen = append(s.seen, req)
	s.mu.Unlock()

	if req.Model == "slow" {
		<-ctx.Done()
		return domain.Completion{}, ctx.Err()
	}
	if err, ok := s.fail[req.Model]; ok {
		return domain.Completion{}, err
	}
	return s.reply[req.Model], nil
}

func market() domain.Market {
	return domain.Market{
		ID:       "polymarket:0xabc123",
		Question: "Will the Fed cut rates in March?",
		Domain:   domain.DomainFinance,
		Price:    0.42,
	}
}

func TestPool_TimeoutAbstainsOthersSucceed(t *testing.T) {
	llm := &scriptedLLM{reply: map[string]domain.Completion{
		"gpt-4.1": {
			Text:     `{"probability": 62, "reasoning": "Base rate is high."}`,
			Logprobs: []domain.TokenLogprob{{Token: "62", Logprob: -0.1, TopLogprobs: []float64{-0.1, -2.5, -3.0}}},
			CostUSD:  0.002,
		},
		"claude-sonnet-4-6": {Text: `{"probability": 0.55, "reasoning": "Probably, but unclear."}`},
	}}
	pool := forecast.NewPool(llm, forecast.Config{Timeout: 50 * time.Millisecond, Concurrency: 3})

	results := pool.Forecast(context.Background(), market(), domain.NewsContext{},
		forecast.SeedVariants()[0], []string{"gpt-4.1", "slow", "claude-sonnet-4-6"})
	require.Len(t, results, 3)

	gpt, ok := results[0].(domain.Success)
	require.True(t, ok)
	assert.InDelta(t, 0.62, gpt.Probability, 1e-9)
	assert.Equal(t, domain.EntropyLogprobs, gpt.EntropySource)
	assert.Greater(t, gpt.Entropy, 0.0)
	assert.LessOrEqual(t, gpt.Entropy, math.Log2(3))
	assert.Equal(t, "Base rate is high.", gpt.Reasoning)
	assert.Equal(t, forecast.VersionBaseline, gpt.PromptVersion)

	slow, ok := results[1].(domain.Abstained)
	require.True(t, ok)
	assert.Equal(t, forecast.ReasonTimeout, slow.Reason)

	claude, ok := results[2].(domain.Success)
	require.True(t, ok)
	assert.Equal(t, domain.EntropyProxy, claude.EntropySource)
	assert.InDelta(t, 0.55, claude.Probability, 1e-9)

	assert.Len(t, domain.Successes(results), 2)
}

func TestPool_ErrorAndUnparseableAbstain(t *testing.T) {
	llm := &scriptedLLM{
		reply: map[string]domain.Completion{"chatty": {Text: "I cannot say.", CostUSD: 0.001}},
		fail:  map[string]error{"broken": errors.New("503 after retries")},
	}
	pool := forecast.NewPool(llm, forecast.Config{})
	results := pool.Forecast(context.Background(), market(), domain.NewsContext{}, forecast.SeedVariants()[1], []string{"broken", "chatty"})

	broken := results[0].(domain.Abstained)
	assert.Contains(t, broken.Reason, "503")
	chatty := results[1].(domain.Abstained)
	assert.Equal(t, forecast.ReasonUnparseable, chatty.Reason)
	assert.InDelta(t, 0.001, chatty.CostUSD, 1e-12)
	assert.Empty(t, domain.Successes(results))
}

func TestPool_SendsNewsPrefixAsSystem(t *testing.T) {
	llm := &scriptedLLM{reply: map[string]domain.Completion{"m": {Text: "70%"}}}
	pool := forecast.NewPool(llm, forecast.Config{TopK: 5})
	nc := domain.NewsContext{Used: true, Prefix: "[FORECASTING GUIDELINES]", Body: "Fed signals cut"}

	pool.Forecast(context.Background(), market(), nc, forecast.SeedVariants()[0], []string{"m"})
	require.Len(t, llm.seen, 1)
	req := llm.seen[0]
	assert.Equal(t, "[FORECASTING GUIDELINES]", req.System)
	assert.True(t, req.WantLogprobs)
	assert.Equal(t, 5, req.TopK)
	assert.Contains(t, req.Prompt, "Recent news:\nFed signals cut")
	assert.Contains(t, req.Prompt, "42.0%")
}

func TestParseProbability(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{`{"probability": 65, "reasoning": "x"}`, 0.65, true},
		{`{"prob": 0.3}`, 0.30, true},
		{`{"p": "40%"}`, 0.40, true},
		{`{"probability": 100}`, 0.99, true},
		{`{"probability": 0}`, 0.01, true},
		{`Probability: 72%`, 0.72, true},
		{`I'd say around 35 % given the base rate`, 0.35, true},
		{`probability: 0.81`, 0.81, true},
		{`My estimate is 0.27.`, 0.27, true},
		{`no idea`, 0, false},
	}
	for _, tt := range tests {
		got, ok := forecast.ParseProbability(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.InDelta(t, tt.want, got, 1e-9, tt.text)
	}
}

func TestExtractReasoning(t *testing.T) {
	assert.Equal(t, "Base rates.", forecast.ExtractReasoning(`{"probability": 50, "reasoning": "Base rates."}`))
	assert.Equal(t, "Looks likely.", forecast.ExtractReasoning(`Looks likely. {"probability": 50}`))
	assert.Equal(t, "No reasoning provided", forecast.ExtractReasoning(`{"probability": 50}`))
	assert.Len(t, []rune(forecast.ExtractReasoning(strings.Repeat("a", 900))), 500)
}

func TestSelectVariant(t *testing.T) {
	prompts := []domain.PromptExperiment{
		{Version: "g1", Active: true},
		{Version: "g2", Active: true},
		{Version: "retired", Active: false},
		{Version: "fin", Domain: domain.DomainFinance, Active: true},
	}
	assert.Equal(t, "fin", forecast.SelectVariant(prompts, domain.DomainFinance, "a").Version)

	// determinista por mercado
	first := forecast.SelectVariant(prompts, domain.DomainSports, "kalshi:X")
	assert.Equal(t, first.Version, forecast.SelectVariant(prompts, domain.DomainSports, "kalshi:X").Version)
	assert.Contains(t, []string{"g1", "g2"}, first.Version)

	// rota: con suficientes mercados salen las dos globales
	seen := map[string]bool{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		seen[forecast.SelectVariant(prompts, domain.DomainSports, id).Version] = true
	}
	assert.Len(t, seen, 2)

	assert.Equal(t, forecast.VersionBaseline, forecast.SelectVariant(nil, domain.DomainSports, "a").Version)
}

func TestTemplates(t *testing.T) {
	for _, v := range forecast.SeedVariants() {
		assert.True(t, forecast.ValidTemplate(v.Template), v.Version)
	}
	assert.False(t, forecast.ValidTemplate("{question} only"))

	out := forecast.Render(forecast.SeedVariants()[0].Template, market(), domain.NewsContext{})
	for _, ph := range forecast.Placeholders {
		assert.NotContains(t, out, ph)
	}
	assert.Contains(t, out, `{"probability": <0-100>`)
}
