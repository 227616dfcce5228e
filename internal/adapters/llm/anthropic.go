package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) completeAnthropic(ctx context.Context, p *provider, req domain.CompletionRequest) (domain.Completion, error) {
	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      req.System,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
	}
	headers := map[string]string{
		"x-api-key":         p.key,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	if err := c.post(ctx, p, "/v1/messages", headers, body, &resp); err != nil {
		return domain.Completion{}, err
	}
	if resp.Error != nil {
		return domain.Completion{}, fmt.Errorf("API error: %s - %s", resp.Error.Type, resp.Error.Message)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return domain.Completion{}, fmt.Errorf("empty response")
	}
	return domain.Completion{
		Text:      text.String(),
		TokensIn:  resp.Usage.InputTokens,
		TokensOut: resp.Usage.OutputTokens,
	}, nil
}
