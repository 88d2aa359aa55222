// Package llm talks to the text-generation backend and extracts structured
// output from its replies.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"daily-nudge/internal/config"
)

// Completer sends one system instruction and one user prompt and returns the
// raw reply text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is a single completion call.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// JSON asks the backend to constrain output to a JSON object.
	JSON bool
}

// Client implements Completer on an OpenAI compatible chat completions API.
type Client struct {
	api   *openai.Client
	model string
	log   zerolog.Logger
}

// NewClient returns a Client, or nil when neither an API key nor a base URL
// is configured.
func NewClient(cfg config.LLMConfig, log zerolog.Logger) *Client {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return &Client{
		api:   openai.NewClientWithConfig(oc),
		model: cfg.Model,
		log:   log,
	}
}

func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c == nil || c.api == nil {
		return "", ErrDisabled
	}
	start := time.Now()

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	latency := time.Since(start)
	if err != nil {
		c.log.Warn().Err(err).Str("model", c.model).Dur("latency", latency).Msg("llm call failed")
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	c.log.Debug().Str("model", resp.Model).Dur("latency", latency).Int("tokens", resp.Usage.TotalTokens).Msg("llm call complete")

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
