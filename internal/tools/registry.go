// ABOUTME: Tool registry and invocation proxy used by the model's tool-call loop
// ABOUTME: Wraps every call with progress events, a budget check, tracing and metrics

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/2389/sourcing-gateway/internal/metrics"
	"github.com/2389/sourcing-gateway/internal/progress"
	"github.com/2389/sourcing-gateway/internal/tracing"
)

// ErrDuplicateTool is returned when registering a name twice.
var ErrDuplicateTool = errors.New("tool already registered")

// Definition describes a tool to the model.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage // JSON Schema object
}

// Outcome is what a handler produced. Text goes back to the model; Note is the
// short completion line shown to the user as progress.
type Outcome struct {
	Text string
	Note string
}

// Handler executes a tool. The input is the raw JSON arguments from the model.
type Handler func(ctx context.Context, input json.RawMessage) (Outcome, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition Definition

	// Summarize renders the one-line "starting" message. Optional.
	Summarize func(input json.RawMessage) string

	Handler Handler
}

// Publisher receives progress events by conversation id.
type Publisher interface {
	Publish(conversationID string, ev progress.Event) bool
}

// Registry holds the tools offered to the model, in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string

	progress Publisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty registry. pub may be nil to disable progress.
func NewRegistry(pub Publisher, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:    make(map[string]*Tool),
		progress: pub,
		logger:   logger.With("component", "tools"),
		metrics:  m,
	}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Definition.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool requires a name and handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Definition.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Definition.Name)
	}
	r.tools[t.Definition.Name] = t
	r.order = append(r.order, t.Definition.Name)
	return nil
}

// Definitions returns every tool definition in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke runs the named tool and returns text for the model. It never fails:
// unknown tools, bad arguments, an exhausted budget and handler errors all
// come back as "Error: ..." text so the model can recover.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) string {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	conversationID := ConversationID(ctx)
	logger := r.logger.With("tool", name, "conversation_id", conversationID)

	if !ok {
		logger.Warn("model requested unknown tool")
		r.metrics.ToolCall(name, "error", 0)
		return fmt.Sprintf("Error: unknown tool %q", name)
	}

	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if !json.Valid(input) {
		logger.Warn("model sent invalid tool arguments")
		r.metrics.ToolCall(name, "error", 0)
		return "Error: tool arguments are not valid JSON"
	}

	if !charge(ctx) {
		logger.Info("tool budget exhausted", "limit", BudgetLimit(ctx))
		r.metrics.ToolCall(name, "refused", 0)
		return fmt.Sprintf("Error: tool budget of %d calls for this request is exhausted. Answer with the information already gathered.", BudgetLimit(ctx))
	}

	summary := "Running " + name
	if t.Summarize != nil {
		if s := t.Summarize(input); s != "" {
			summary = s
		}
	}
	r.publish(conversationID, name, progress.StatusStarting, summary)

	ctx, span := tracing.Start(ctx, "tool."+name,
		attribute.String("tool.name", name),
		attribute.String("conversation.id", conversationID),
	)
	defer span.End()

	start := time.Now()
	out, err := t.Handler(ctx, input)
	elapsed := time.Since(start)

	if err != nil {
		tracing.RecordError(span, err)
		r.metrics.ToolCall(name, "error", elapsed)
		logger.Warn("tool failed", "error", err, "duration", elapsed)
		r.publish(conversationID, name, progress.StatusCompleted, fmt.Sprintf("%s failed: %v", name, err))
		return "Error: " + err.Error()
	}

	r.metrics.ToolCall(name, "success", elapsed)
	logger.Debug("tool completed", "duration", elapsed, "result_bytes", len(out.Text))

	note := out.Note
	if note == "" {
		note = "Finished " + name
	}
	r.publish(conversationID, name, progress.StatusCompleted, note)
	return out.Text
}

func (r *Registry) publish(conversationID, tool string, status progress.Status, message string) {
	if r.progress == nil || conversationID == "" {
		return
	}
	r.progress.Publish(conversationID, progress.Event{
		Message: message,
		Tool:    tool,
		Status:  status,
	})
}
