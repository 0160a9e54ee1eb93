// ABOUTME: Provider-neutral message and delta types for model streams
// ABOUTME: Plus the tool invoker contract the model loop calls into

package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/2389/sourcing-gateway/internal/tools"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNoAPIKey is returned when a client is built without credentials.
var ErrNoAPIKey = errors.New("llm api key not configured")

// Message is one prompt message.
type Message struct {
	Role    string
	Content string
}

// Delta is one item of a model stream: a text fragment or a terminal error.
// The channel is closed after the last delta.
type Delta struct {
	Text string
	Err  error
}

// ToolInvoker runs tools on the model's behalf. tools.Registry satisfies it.
type ToolInvoker interface {
	Definitions() []tools.Definition
	Invoke(ctx context.Context, name string, input json.RawMessage) string
}

var _ ToolInvoker = (*tools.Registry)(nil)
