// ABOUTME: OpenAI-compatible streaming chat adapter with an in-loop tool-call cycle
// ABOUTME: Streams text deltas, accumulates tool call fragments and feeds results back

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2389/sourcing-gateway/internal/tracing"
)

// Defaults for OpenAIStream.
const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxRounds = 8
)

// Config configures the OpenAI-compatible client.
type Config struct {
	APIKey  string
	BaseURL string // empty uses api.openai.com
	Model   string

	// MaxRounds bounds model calls per request. The last round is made
	// without tools so the model has to answer.
	MaxRounds int

	MaxTokens   int
	Temperature float32

	// MaxRetries and RetryDelay control linear backoff when opening a stream.
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// OpenAIStream streams chat completions and runs requested tools between
// rounds.
type OpenAIStream struct {
	client      *openai.Client
	model       string
	tools       ToolInvoker
	maxRounds   int
	maxTokens   int
	temperature float32
	maxRetries  int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewOpenAIStream builds the adapter. invoker may be nil for a tool-less model.
func NewOpenAIStream(cfg Config, invoker ToolInvoker) (*OpenAIStream, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return &OpenAIStream{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		tools:       invoker,
		maxRounds:   cfg.MaxRounds,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		logger:      logger.With("component", "llm"),
	}, nil
}

// Model returns the configured model name.
func (s *OpenAIStream) Model() string { return s.model }

// Stream starts a completion. Opening the first round happens before return
// so connection and auth failures surface as an error. The returned channel
// yields text deltas across every round and is closed when the model finishes,
// fails (a final Delta with Err) or ctx is cancelled.
func (s *OpenAIStream) Stream(ctx context.Context, msgs []Message) (<-chan Delta, error) {
	history := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	first, err := s.open(ctx, history, s.maxRounds == 1)
	if err != nil {
		return nil, err
	}

	out := make(chan Delta)
	go s.run(ctx, first, history, out)
	return out, nil
}

func (s *OpenAIStream) run(ctx context.Context, stream *openai.ChatCompletionStream, history []openai.ChatCompletionMessage, out chan<- Delta) {
	defer close(out)

	send := func(d Delta) bool {
		select {
		case out <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for round := 0; ; round++ {
		text, calls, err := s.consume(ctx, stream, send)
		if err != nil {
			if ctx.Err() == nil {
				send(Delta{Err: err})
			}
			return
		}
		if len(calls) == 0 || s.tools == nil {
			return
		}
		if round+1 >= s.maxRounds {
			s.logger.Warn("model requested tools after the last round", "rounds", round+1, "calls", len(calls))
			return
		}

		history = append(history, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})
		for _, call := range calls {
			result := s.tools.Invoke(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			history = append(history, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
		if ctx.Err() != nil {
			return
		}

		s.logger.Debug("tool round complete", "round", round+1, "calls", len(calls))

		final := round+2 >= s.maxRounds
		stream, err = s.open(ctx, history, final)
		if err != nil {
			if ctx.Err() == nil {
				send(Delta{Err: err})
			}
			return
		}
	}
}

// consume reads one round. Text is forwarded as it arrives; tool calls are
// returned once the round ends, ordered by index.
func (s *OpenAIStream) consume(ctx context.Context, stream *openai.ChatCompletionStream, send func(Delta) bool) (string, []openai.ToolCall, error) {
	defer stream.Close()

	var text []byte
	pending := make(map[int]*openai.ToolCall)

	for {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("reading model stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			text = append(text, delta.Content...)
			if !send(Delta{Text: delta.Content}) {
				return "", nil, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call, ok := pending[index]
			if !ok {
				call = &openai.ToolCall{Type: openai.ToolTypeFunction}
				pending[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}
	}

	indexes := make([]int, 0, len(pending))
	for i := range pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]openai.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		call := pending[i]
		if call.Function.Name == "" {
			continue
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", i)
		}
		calls = append(calls, *call)
	}
	return string(text), calls, nil
}

// open starts one completion round with linear-backoff retries.
func (s *OpenAIStream) open(ctx context.Context, history []openai.ChatCompletionMessage, final bool) (*openai.ChatCompletionStream, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    history,
		Stream:      true,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}
	if s.tools != nil && !final {
		req.Tools = convertTools(s.tools)
	}

	ctx, span := tracing.Start(ctx, "llm.chat_completion",
		attribute.String("llm.model", s.model),
		attribute.Int("llm.messages", len(history)),
		attribute.Bool("llm.final_round", final),
	)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryDelay * time.Duration(attempt)):
			}
		}

		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
		s.logger.Warn("model stream open failed, retrying", "attempt", attempt+1, "error", err)
	}

	tracing.RecordError(span, lastErr)
	return nil, fmt.Errorf("opening model stream: %w", lastErr)
}

func convertTools(invoker ToolInvoker) []openai.Tool {
	defs := invoker.Definitions()
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		params := d.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// isRetryable reports rate limits and server errors.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}
