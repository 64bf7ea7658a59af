// Package llm wraps the OpenAI chat completion call the Analyzer uses to
// summarize extracted article text, guarded by its own circuit breaker so an
// LLM outage cannot trip the breaker guarding the article fetcher.
package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// Summarizer produces a short summary of article text.
type Summarizer struct {
	client  *openai.Client
	model   string
	maxTok  int
	temp    float32
	breaker *gobreaker.CircuitBreaker
}

// Config selects the model and sampling parameters, sourced from the
// OPENAI_* environment variables (§6).
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// New constructs a Summarizer.
func New(cfg Config) *Summarizer {
	return &Summarizer{
		client: openai.NewClient(cfg.APIKey),
		model:  cfg.Model,
		maxTok: cfg.MaxTokens,
		temp:   cfg.Temperature,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "llm-summarize",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Summarize sends text to the configured chat model and returns the
// resulting summary. Callers wrap this in internal/retry for transient
// failures, per the spec's "steps 2 and 3 are wrapped in per-call retry"
// rule.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       s.model,
			MaxTokens:   s.maxTok,
			Temperature: s.temp,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "Summarize the given article in 2-3 concise sentences for a developer audience.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				},
			},
		})
		if err != nil {
			return "", fmt.Errorf("llm: chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("llm: chat completion returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
