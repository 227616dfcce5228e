package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/adapters/llm"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAIFixture = `{
  "choices": [{
    "message": {"content": "{\"probability\": 0.62, \"reasoning\": \"base rate\"}"},
    "logprobs": {"content": [
      {"token": "0", "logprob": -0.01, "top_logprobs": [{"token": "0", "logprob": -0.01}]},
      {"token": ".62", "logprob": -0.4, "top_logprobs": [
        {"token": ".62", "logprob": -0.4}, {"token": ".60", "logprob": -1.3}, {"token": ".65", "logprob": -2.1}
      ]}
    ]}
  }],
  "usage": {"prompt_tokens": 1000, "completion_tokens": 100}
}`

func TestComplete_OpenAIWithLogprobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4.1", body["model"])
		assert.Equal(t, true, body["logprobs"])
		assert.EqualValues(t, 5, body["top_logprobs"])
		msgs := body["messages"].([]any)
		assert.Len(t, msgs, 2, "system + user")

		w.Write([]byte(openAIFixture))
	}))
	defer srv.Close()

	client := llm.NewClient(llm.Config{OpenAIKey: "sk-test", OpenAIBase: srv.URL})
	out, err := client.Complete(context.Background(), domain.CompletionRequest{
		Model:        "gpt-4.1",
		System:       "be calibrated",
		Prompt:       "Will it rain?",
		WantLogprobs: true,
		TopK:         5,
	})
	require.NoError(t, err)

	assert.Contains(t, out.Text, "0.62")
	require.Len(t, out.Logprobs, 2)
	assert.Equal(t, ".62", out.Logprobs[1].Token)
	assert.Len(t, out.Logprobs[1].TopLogprobs, 3)
	assert.Equal(t, 1000, out.TokensIn)
	// 1000 in × 2 + 100 out × 8 por millón
	assert.InDelta(t, 0.0028, out.CostUSD, 1e-9)
}

func TestComplete_AnthropicHasNoLogprobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		w.Write([]byte(`{"content":[{"type":"text","text":"Probability: 40%"}],"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	client := llm.NewClient(llm.Config{AnthropicKey: "ak-test", AnthropicBase: srv.URL})
	out, err := client.Complete(context.Background(), domain.CompletionRequest{
		Model: "claude-sonnet-4-6", Prompt: "q", WantLogprobs: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Probability: 40%", out.Text)
	assert.Nil(t, out.Logprobs)
	assert.Equal(t, 5, out.TokensOut)
}

func TestComplete_DeepSeekUsesOwnBase(t *testing.T) {
	var hit atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit.Store(true)
		assert.Equal(t, "Bearer ds-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"content":"55%"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	}))
	defer srv.Close()

	client := llm.NewClient(llm.Config{DeepSeekKey: "ds-test", DeepSeekBase: srv.URL})
	_, err := client.Complete(context.Background(), domain.CompletionRequest{Model: "deepseek-chat", Prompt: "q"})
	require.NoError(t, err)
	assert.True(t, hit.Load())
}

func TestComplete_MissingKey(t *testing.T) {
	client := llm.NewClient(llm.Config{})
	assert.False(t, client.HasKey("gpt-4.1"))
	_, err := client.Complete(context.Background(), domain.CompletionRequest{Model: "gpt-4.1", Prompt: "q"})
	assert.Error(t, err)
}

func TestComplete_ContextTimeoutNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"choices":[{"message":{"content":"x"}}]}`))
	}))
	defer srv.Close()

	client := llm.NewClient(llm.Config{OpenAIKey: "k", OpenAIBase: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, domain.CompletionRequest{Model: "gpt-4.1", Prompt: "q"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProviderFor(t *testing.T) {
	client := llm.NewClient(llm.Config{Models: map[string]llm.Provider{"my-ft": llm.ProviderDeepSeek}})
	assert.Equal(t, llm.ProviderAnthropic, client.ProviderFor("claude-haiku-4-5"))
	assert.Equal(t, llm.ProviderDeepSeek, client.ProviderFor("deepseek-chat"))
	assert.Equal(t, llm.ProviderOpenAI, client.ProviderFor("gpt-4o-mini"))
	assert.Equal(t, llm.ProviderDeepSeek, client.ProviderFor("my-ft"))
}

func TestEstimateCost(t *testing.T) {
	assert.InDelta(t, 18.0, llm.EstimateCost("claude-sonnet-4-6", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 1.5, llm.EstimateCost("claude-haiku-4-5-20251001", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 4.0, llm.EstimateCost("unknown-model", 1_000_000, 1_000_000), 1e-9)
}
