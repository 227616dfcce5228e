package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
)

const (
	proposeTimeout   = 60 * time.Second
	proposeMaxTokens = 1500
)

// LLMProposer genera variantes de prompt pidiéndole al modelo que mejore la mejor.
type LLMProposer struct {
	llm   ports.LLM
	model string
	costs ports.CostStore
}

// NewLLMProposer crea el proposer. costs puede ser nil.
func NewLLMProposer(llm ports.LLM, model string, costs ports.CostStore) *LLMProposer {
	return &LLMProposer{llm: llm, model: model, costs: costs}
}

// ProposeVariant implementa ports.VariantProposer.
func (p *LLMProposer) ProposeVariant(ctx context.Context, best domain.PromptExperiment) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, proposeTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`This forecasting prompt template achieved a mean Brier score of %.3f over %d resolved questions:

---
%s
---

Write an improved version that should produce better calibrated probabilities.
Keep the placeholders {question}, {domain}, {news_context} and {market_price} exactly as written.
Keep the JSON answer format. Return only the new template.`, best.MeanBrier, best.Trials, best.Template)

	resp, err := p.llm.Complete(callCtx, domain.CompletionRequest{
		Model:       p.model,
		System:      "You improve prompts for calibrated probabilistic forecasting.",
		Prompt:      prompt,
		MaxTokens:   proposeMaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("learning.ProposeVariant: %w", err)
	}
	if p.costs != nil {
		if err := p.costs.SaveLLMCost(ctx, domain.LLMCost{
			Model:     p.model,
			Purpose:   "evolve",
			TokensIn:  resp.TokensIn,
			TokensOut: resp.TokensOut,
			CostUSD:   resp.CostUSD,
		}); err != nil {
			slog.Warn("learning: save evolve cost failed", "err", err)
		}
	}

	out := StripFences(resp.Text)
	if out == "" {
		return "", errors.New("learning.ProposeVariant: empty template")
	}
	return out, nil
}

// StripFences quita un bloque ``` envolvente si el modelo lo añadió.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // etiqueta de lenguaje
	} else {
		s = ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
