package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"vibeline/internal/config"
)

// Completer is the text-generation collaborator. Implementations must honor
// the context deadline.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GenerationError wraps quota, timeout, and malformed-response failures from
// the model provider.
type GenerationError struct {
	Err error
}

func (e GenerationError) Error() string {
	return fmt.Sprintf("text generation failed: %v", e.Err)
}

func (e GenerationError) Unwrap() error { return e.Err }

// Client completes prompts against an OpenAI-compatible endpoint.
type Client struct {
	model   llms.Model
	timeout time.Duration
}

// NewClient builds a Completer from config. The API token is read from the
// environment variable named in config so it never lands in vibeline.yml.
func NewClient(cfg *config.Config) (*Client, error) {
	opts := []openai.Option{openai.WithModel(cfg.LLM.Model)}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
	}
	if cfg.LLM.TokenEnv != "" {
		if token := os.Getenv(cfg.LLM.TokenEnv); token != "" {
			opts = append(opts, openai.WithToken(token))
		}
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	return &Client{model: model, timeout: cfg.LLMTimeout()}, nil
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := llms.GenerateFromSinglePrompt(opCtx, c.model, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", GenerationError{Err: errors.New("deadline exceeded")}
		}
		return "", GenerationError{Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", GenerationError{Err: errors.New("empty completion")}
	}
	return out, nil
}
