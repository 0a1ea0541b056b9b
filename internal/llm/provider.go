package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/calendai/calendai/internal/config"
	"github.com/calendai/calendai/internal/instrumentation"
	"github.com/calendai/calendai/internal/logging"
)

// Tool choice modes for a completion request.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// Provider is one named chat-completion backend. Any OpenAI-compatible
// endpoint works; the base URL selects the vendor.
type Provider struct {
	name    string
	model   string
	client  *openai.Client
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// NewProvider builds a provider from its configuration. Returns nil when the
// provider carries no API key so callers can skip unconfigured entries.
func NewProvider(cfg config.LLMProvider, metrics *instrumentation.Metrics, logger *slog.Logger) *Provider {
	if cfg.APIKey == "" {
		return nil
	}
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Provider{
		name:    cfg.Name,
		model:   cfg.Model,
		client:  openai.NewClientWithConfig(clientCfg),
		metrics: metrics,
		logger:  logger,
	}
}

// Name returns the provider's configured name.
func (p *Provider) Name() string {
	return p.name
}

// Complete runs one chat completion and returns the assistant message.
// Temperature is pinned to (effectively) zero so scheduling answers stay
// deterministic; the client treats a literal 0 as unset, hence the epsilon.
func (p *Provider) Complete(ctx context.Context, messages []Message, tools []openai.Tool, toolChoice string) (Message, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    toOpenAI(messages),
		Temperature: math.SmallestNonzeroFloat32,
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = toolChoice
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		p.metrics.RecordCompletion(ctx, p.name, instrumentation.StatusError, time.Since(start))
		return Message{}, fmt.Errorf("completion via %s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		p.metrics.RecordCompletion(ctx, p.name, instrumentation.StatusError, time.Since(start))
		return Message{}, fmt.Errorf("completion via %s: empty choice list", p.name)
	}
	p.metrics.RecordCompletion(ctx, p.name, instrumentation.StatusSuccess, time.Since(start))

	msg := fromOpenAI(resp.Choices[0].Message)
	p.logger.Debug("completion finished",
		logging.Provider(p.name),
		slog.String("model", p.model),
		slog.Int("tool_calls", len(msg.ToolCalls)),
		logging.Duration(time.Since(start)),
	)
	return msg, nil
}
