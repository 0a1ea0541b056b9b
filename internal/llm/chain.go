package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/calendai/calendai/internal/logging"
)

// ErrServiceUnavailable reports that every configured provider failed.
var ErrServiceUnavailable = errors.New("no language model provider available")

// Chain tries providers in order until one answers. One completion attempt
// per provider; there is no retry or backoff within a provider.
type Chain struct {
	providers []*Provider
	logger    *slog.Logger
}

// NewChain builds a fallback chain. Nil providers are skipped so callers can
// pass the result of NewProvider for unconfigured entries directly.
func NewChain(logger *slog.Logger, providers ...*Provider) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	chain := &Chain{logger: logger}
	for _, p := range providers {
		if p != nil {
			chain.providers = append(chain.providers, p)
		}
	}
	return chain
}

// Providers returns the names of the configured providers in fallback order.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Complete runs one completion against the first provider that answers.
// When all providers fail the returned error wraps ErrServiceUnavailable.
func (c *Chain) Complete(ctx context.Context, messages []Message, tools []openai.Tool, toolChoice string) (Message, error) {
	var lastErr error
	for _, p := range c.providers {
		msg, err := p.Complete(ctx, messages, tools, toolChoice)
		if err == nil {
			return msg, nil
		}
		c.logger.Warn("provider failed, trying next",
			logging.Provider(p.Name()),
			logging.Err(err),
		)
		lastErr = err
	}
	if lastErr != nil {
		return Message{}, fmt.Errorf("%w: %s", ErrServiceUnavailable, lastErr)
	}
	return Message{}, ErrServiceUnavailable
}
