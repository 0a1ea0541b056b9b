package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/calendai/calendai/internal/calendar"
	"github.com/calendai/calendai/internal/instrumentation"
	"github.com/calendai/calendai/internal/llm"
	"github.com/calendai/calendai/internal/logging"
)

// Handler executes one tool invocation. Handlers return payloads, never
// errors: every fault is absorbed into the payload so the model can relay
// it to the user instead of breaking the conversation loop.
type Handler func(ctx context.Context, raw json.RawMessage) any

// Tool pairs a model-facing definition with its handler.
type Tool struct {
	Definition openai.Tool
	Handler    Handler
}

// Registry is the static tool surface exposed to the model, bound to one
// authenticated calendar client.
type Registry struct {
	client  *calendar.Client
	metrics *instrumentation.Metrics
	logger  *slog.Logger
	tools   map[string]Tool
	order   []string
}

// NewRegistry builds the registry for one conversation's calendar client.
func NewRegistry(client *calendar.Client, metrics *instrumentation.Metrics, logger *slog.Logger) *Registry {
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		client:  client,
		metrics: metrics,
		logger:  logger,
		tools:   make(map[string]Tool),
	}
	r.register(r.listCalendarsTool())
	r.register(r.searchEventsTool())
	r.register(r.modifyCalendarEventTool())
	r.register(r.smartScheduleEventTool())
	r.register(r.createEventTool())
	r.register(r.deleteEventTool())
	r.register(r.listAvailabilityTool())
	r.register(r.findFreeSlotTool())
	return r
}

func (r *Registry) register(t Tool) {
	name := t.Definition.Function.Name
	r.tools[name] = t
	r.order = append(r.order, name)
}

// Definitions returns the tool definitions in registration order, for
// inclusion in completion requests.
func (r *Registry) Definitions() []openai.Tool {
	defs := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Dispatch executes one model-issued tool call and returns the JSON payload
// for its tool-role message. Unknown tools and malformed arguments come back
// as error payloads, not Go errors.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) string {
	name := call.Function.Name
	logger := logging.WithTool(r.logger, name)

	tool, ok := r.tools[name]
	if !ok {
		logger.Warn("unknown tool requested")
		r.metrics.RecordToolInvocation(ctx, name, instrumentation.StatusError, 0)
		return marshalPayload(errorPayload("unknown_tool", fmt.Sprintf("Tool '%s' não existe.", name)))
	}

	raw := json.RawMessage(call.Function.Arguments)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	start := time.Now()
	payload := tool.Handler(ctx, raw)
	elapsed := time.Since(start)

	status := instrumentation.StatusSuccess
	if _, failed := payload.(toolError); failed {
		status = instrumentation.StatusError
	}
	r.metrics.RecordToolInvocation(ctx, name, status, elapsed)

	logger.Debug("tool dispatched", logging.Duration(elapsed))
	return marshalPayload(payload)
}

func marshalPayload(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"error":"internal serialization failure","code":"internal"}`
	}
	return string(data)
}

type toolError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func errorPayload(code, message string) toolError {
	return toolError{Error: message, Code: code}
}

func badArguments(message string) toolError {
	return errorPayload("bad_arguments", message)
}

// calendarFault maps gateway errors to the payloads the model expects.
func calendarFault(err error) any {
	switch e := err.(type) {
	case *calendar.CalendarNotFoundError:
		return errorPayload("calendar_not_found", fmt.Sprintf("Agenda '%s' não encontrada.", e.Name))
	case *calendar.NotFoundError:
		return map[string]any{
			"success": false,
			"code":    "not_found",
			"message": fmt.Sprintf("Evento %s não encontrado.", e.EventID),
		}
	default:
		return errorPayload("upstream", fmt.Sprintf("An error occurred: %v", err))
	}
}

// optString treats the empty string as absent, matching how models fill
// optional fields they have no value for.
func optString(s string) string {
	return strings.TrimSpace(s)
}

// flexFloat decodes a JSON number that models sometimes send as a string.
// Empty string and literal "0" both mean absent.
type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		inner = strings.TrimSpace(inner)
		if inner == "" || inner == "0" {
			return nil
		}
		v, err := strconv.ParseFloat(inner, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", inner)
		}
		f.value = v
		f.set = true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == 0 {
		return nil
	}
	f.value = v
	f.set = true
	return nil
}

// or returns the decoded value, or def when absent.
func (f flexFloat) or(def float64) float64 {
	if !f.set {
		return def
	}
	return f.value
}
