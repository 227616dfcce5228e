package llm

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// openAIRequest sirve para OpenAI y DeepSeek (API compatible).
type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Logprobs    bool      `json:"logprobs,omitempty"`
	TopLogprobs int       `json:"top_logprobs,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Logprobs *struct {
			Content []struct {
				Token       string  `json:"token"`
				Logprob     float64 `json:"logprob"`
				TopLogprobs []struct {
					Token   string  `json:"token"`
					Logprob float64 `json:"logprob"`
				} `json:"top_logprobs"`
			} `json:"content"`
		} `json:"logprobs"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *Client) completeOpenAI(ctx context.Context, p *provider, req domain.CompletionRequest) (domain.Completion, error) {
	var msgs []message
	if req.System != "" {
		msgs = append(msgs, message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, message{Role: "user", Content: req.Prompt})

	body := openAIRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.WantLogprobs {
		body.Logprobs = true
		body.TopLogprobs = req.TopK
		if body.TopLogprobs <= 0 {
			body.TopLogprobs = 5
		}
	}

	var resp openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + p.key}
	if err := c.post(ctx, p, "/v1/chat/completions", headers, body, &resp); err != nil {
		return domain.Completion{}, err
	}
	if resp.Error != nil {
		return domain.Completion{}, fmt.Errorf("API error: %s - %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return domain.Completion{}, fmt.Errorf("empty response")
	}

	choice := resp.Choices[0]
	out := domain.Completion{
		Text:      choice.Message.Content,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}
	if choice.Logprobs != nil {
		for _, t := range choice.Logprobs.Content {
			lp := domain.TokenLogprob{Token: t.Token, Logprob: t.Logprob}
			for _, alt := range t.TopLogprobs {
				lp.TopLogprobs = append(lp.TopLogprobs, alt.Logprob)
			}
			out.Logprobs = append(out.Logprobs, lp)
		}
	}
	return out, nil
}
