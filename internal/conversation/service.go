// ABOUTME: Stream coordinator that turns one chat request into an SSE chunk stream
// ABOUTME: Runs the model and progress relay concurrently, then persists the exchange

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2389/sourcing-gateway/internal/llm"
	"github.com/2389/sourcing-gateway/internal/metrics"
	"github.com/2389/sourcing-gateway/internal/progress"
	"github.com/2389/sourcing-gateway/internal/store"
	"github.com/2389/sourcing-gateway/internal/stream"
	"github.com/2389/sourcing-gateway/internal/tools"
	"github.com/2389/sourcing-gateway/internal/tracing"
)

// ErrEmptyMessage is returned by Begin when the request has no message text.
var ErrEmptyMessage = errors.New("message is required")

// Defaults for Service options.
const (
	DefaultTitleLength = 60
	DefaultSaveTimeout = 5 * time.Second
)

// ModelStream produces the assistant's reply as text deltas. Tool calls
// happen inside the stream; tools find the conversation id and budget in ctx.
type ModelStream interface {
	Stream(ctx context.Context, msgs []llm.Message) (<-chan llm.Delta, error)
}

// modelNamer is implemented by streams that can report their model.
type modelNamer interface {
	Model() string
}

// Sink receives encoded-ready chunks. Only the coordinator's writer loop calls
// Send, so implementations need not be safe for concurrent use.
type Sink interface {
	Send(c stream.Chunk) error
}

// Option configures a Service.
type Option func(*Service)

// WithToolBudget sets the per-request tool call limit.
func WithToolBudget(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.toolBudget = n
		}
	}
}

// WithSaveTimeout bounds the post-stream save.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.saveTimeout = d
		}
	}
}

// WithMetrics records stream outcomes and persistence failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service coordinates chat requests. It is safe for concurrent use; one
// active stream per conversation is assumed.
type Service struct {
	sessions store.SessionStore
	model    ModelStream
	channels *progress.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	toolBudget  int
	titleLength int
	saveTimeout time.Duration
}

// New creates a Service.
func New(sessions store.SessionStore, model ModelStream, channels *progress.Registry, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		sessions:    sessions,
		model:       model,
		channels:    channels,
		logger:      logger.With("component", "conversation"),
		toolBudget:  tools.DefaultBudget,
		titleLength: DefaultTitleLength,
		saveTimeout: DefaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StreamRequest is one chat message from a caller.
type StreamRequest struct {
	// ConversationID continues an existing conversation. Malformed, unknown
	// or foreign ids start a new one.
	ConversationID string

	// OwnerID identifies the caller. Empty means anonymous.
	OwnerID string

	Message string
}

// Stream is a resolved request waiting to run.
type Stream struct {
	svc     *Service
	conv    *store.Conversation
	message string
	resumed bool
}

// ConversationID is the id the caller should send on follow-up requests.
func (st *Stream) ConversationID() string { return st.conv.ID }

// Resumed reports whether an existing conversation was loaded.
func (st *Stream) Resumed() bool { return st.resumed }

// Begin validates the request and loads or creates its conversation. Nothing
// is written to the client yet, so the caller can publish the id first.
func (s *Service) Begin(ctx context.Context, req *StreamRequest) (*Stream, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	conv, resumed, err := s.resolve(ctx, req.ConversationID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	return &Stream{svc: s, conv: conv, message: message, resumed: resumed}, nil
}

func (s *Service) resolve(ctx context.Context, id, ownerID string) (*store.Conversation, bool, error) {
	if id != "" {
		if err := uuid.Validate(id); err != nil {
			s.logger.Debug("ignoring malformed conversation id", "conversation_id", id)
		} else {
			conv, err := s.sessions.Get(ctx, id)
			switch {
			case err == nil && conv.OwnedBy(ownerID):
				return conv, true, nil
			case err == nil:
				s.logger.Warn("conversation belongs to another caller, starting a new one",
					"conversation_id", id, "owner_id", ownerID)
			case errors.Is(err, store.ErrNotFound):
				s.logger.Debug("conversation not found, starting a new one", "conversation_id", id)
			default:
				return nil, false, fmt.Errorf("loading conversation: %w", err)
			}
		}
	}

	conv, err := s.sessions.Create(ctx, ownerID, "")
	if err != nil {
		return nil, false, fmt.Errorf("creating conversation: %w", err)
	}
	s.logger.Debug("created conversation", "conversation_id", conv.ID, "owner_id", ownerID)
	return conv, false, nil
}

// messages builds the prompt: system prompt, stored user and assistant turns,
// then the new message.
func (st *Stream) messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(st.conv.Turns)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(st.svc.toolBudget)})
	for _, t := range st.conv.Turns {
		switch t.Role {
		case store.RoleUser, store.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Content})
		}
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: st.message})
}

// Run streams the reply into sink and returns once the terminal done chunk
// has been written. Errors are reported in-stream; Run never fails the caller.
//
// The model task and the progress relay share one hand-off context. The
// model cancels it before forwarding its first text, which stops the relay so
// narration never follows answer text. Cancelling ctx stops both tasks and
// skips persistence.
func (st *Stream) Run(ctx context.Context, sink Sink) {
	s := st.svc
	id := st.conv.ID
	logger := s.logger.With("conversation_id", id)
	started := time.Now()
	s.metrics.StreamStarted()

	ctx, span := tracing.Start(ctx, "conversation.stream",
		attribute.String("conversation.id", id),
		attribute.Int("conversation.history", len(st.conv.Turns)),
	)
	defer span.End()

	msgs := st.messages()
	ch := s.channels.Acquire(id)

	modelCtx, stopModel := context.WithCancel(ctx)
	defer stopModel()
	modelCtx = tools.WithBudget(tools.WithConversationID(modelCtx, id), s.toolBudget)

	handoffCtx, handoff := context.WithCancel(ctx)
	defer handoff()

	out := make(chan stream.Chunk, 16)
	var (
		wg     sync.WaitGroup
		answer strings.Builder
		failed bool
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		failed = st.runModel(modelCtx, msgs, handoff, out, &answer, logger)
	}()
	go func() {
		defer wg.Done()
		relay(handoffCtx, ch, out)
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	// Single writer. After a failed write or a cancelled request the loop
	// keeps draining so neither producer blocks on out.
	writeFailed := false
	for c := range out {
		if writeFailed || ctx.Err() != nil {
			continue
		}
		if err := sink.Send(c); err != nil {
			writeFailed = true
			handoff()
			stopModel()
			logger.Debug("client write failed", "error", err)
		}
	}

	s.channels.Complete(id)

	disconnected := writeFailed || ctx.Err() != nil
	toolCalls := tools.CallsUsed(modelCtx)
	span.SetAttributes(
		attribute.Int("conversation.tool_calls", toolCalls),
		attribute.Int("conversation.answer_bytes", answer.Len()),
		attribute.Bool("conversation.disconnected", disconnected),
	)

	outcome := metrics.OutcomeCompleted
	switch {
	case disconnected:
		outcome = metrics.OutcomeDisconnected
		logger.Debug("client disconnected, discarding turn", "answer_bytes", answer.Len())
	default:
		if failed {
			outcome = metrics.OutcomeUpstreamErr
		}
		st.persist(ctx, answer.String(), toolCalls, logger)
	}

	if !writeFailed {
		if err := sink.Send(stream.Done()); err != nil {
			logger.Debug("writing done marker failed", "error", err)
		}
	}

	s.metrics.StreamFinished(outcome, time.Since(started))
	logger.Info("stream finished",
		"outcome", outcome,
		"tool_calls", toolCalls,
		"duration", time.Since(started),
	)
}

// runModel forwards model text to out and reports whether the model failed.
// It fires the hand-off before the first text chunk and again on exit. Once
// ctx is cancelled it drains the model without forwarding anything.
func (st *Stream) runModel(ctx context.Context, msgs []llm.Message, handoff context.CancelFunc, out chan<- stream.Chunk, answer *strings.Builder, logger *slog.Logger) bool {
	defer handoff()

	deltas, err := st.svc.model.Stream(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		logger.Error("model stream failed to start", "error", err)
		out <- stream.Error(upstreamMessage(err))
		return true
	}

	failed := false
	for d := range deltas {
		if ctx.Err() != nil {
			continue
		}
		if d.Err != nil {
			if !failed {
				logger.Error("model stream failed", "error", d.Err)
				out <- stream.Error(upstreamMessage(d.Err))
				failed = true
			}
			continue
		}
		if d.Text == "" {
			continue
		}
		if answer.Len() == 0 {
			handoff()
		}
		answer.WriteString(d.Text)
		out <- stream.Content(d.Text)
	}
	return failed
}

// relay forwards progress events until the hand-off fires or the channel is
// completed. An event received just as the hand-off fires is dropped.
func relay(ctx context.Context, ch *progress.Channel, out chan<- stream.Chunk) {
	for {
		ev, err := ch.Recv(ctx)
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		out <- stream.Progress(ev)
	}
}

// persist saves the new user turn, the answer if any, and metadata. The save
// runs on a detached context so a request that just finished cannot cancel it.
func (st *Stream) persist(ctx context.Context, answer string, toolCalls int, logger *slog.Logger) {
	s := st.svc
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.saveTimeout)
	defer cancel()

	now := time.Now().UTC()
	turns := []store.Turn{{Role: store.RoleUser, Content: st.message, CreatedAt: now}}
	if answer != "" {
		turns = append(turns, store.Turn{Role: store.RoleAssistant, Content: answer, CreatedAt: now})
	}

	metadata := map[string]any{"tool_calls": toolCalls}
	if named, ok := s.model.(modelNamer); ok {
		metadata["model"] = named.Model()
	}

	if err := s.sessions.AppendAndSave(saveCtx, st.conv.ID, turns, metadata); err != nil {
		s.metrics.PersistFailed()
		logger.Error("failed to save conversation", "error", err)
		return
	}

	if st.conv.Title == "" && len(st.conv.Turns) == 0 {
		if err := s.sessions.Rename(saveCtx, st.conv.ID, titleFrom(st.message, s.titleLength)); err != nil {
			logger.Warn("failed to title conversation", "error", err)
		}
	}
}

func upstreamMessage(err error) string {
	return fmt.Sprintf("the assistant is unavailable: %v", err)
}
