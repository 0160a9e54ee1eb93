// ABOUTME: Scripted OpenAI-compatible chat and embeddings server for tests and local runs
// ABOUTME: Streams text and tool calls as SSE chunks with optional delays

package llmtest

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ToolCall is a tool request the scripted model makes.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Turn is the scripted reply to one chat completion request.
type Turn struct {
	// Delay is slept before the first chunk.
	Delay time.Duration

	// Text is streamed one element per chunk.
	Text []string

	// ChunkDelay is slept between text chunks.
	ChunkDelay time.Duration

	ToolCalls []ToolCall

	// Status, when non-zero, fails the request with that HTTP status.
	Status int
}

// Responder picks the reply for a request.
type Responder func(req openai.ChatCompletionRequest) Turn

// Sequence replies with turns in order and repeats the last one.
func Sequence(turns ...Turn) Responder {
	var mu sync.Mutex
	next := 0
	return func(openai.ChatCompletionRequest) Turn {
		mu.Lock()
		defer mu.Unlock()
		if len(turns) == 0 {
			return Turn{Text: []string{"ok"}}
		}
		t := turns[min(next, len(turns)-1)]
		next++
		return t
	}
}

// SearchThenAnswer calls keyword_search with the latest user message, then
// answers with whatever the tool returned.
func SearchThenAnswer(delay time.Duration) Responder {
	return func(req openai.ChatCompletionRequest) Turn {
		if len(req.Messages) == 0 {
			return Turn{Text: []string{"Hello."}}
		}
		last := req.Messages[len(req.Messages)-1]
		if last.Role == openai.ChatMessageRoleTool || len(req.Tools) == 0 {
			return Turn{
				Delay:      delay,
				Text:       []string{"Here is what I found:\n", lastToolResult(req.Messages)},
				ChunkDelay: delay / 4,
			}
		}
		args, _ := json.Marshal(map[string]any{"query": last.Content, "limit": 5})
		return Turn{ToolCalls: []ToolCall{{ID: "call_search", Name: "keyword_search", Arguments: string(args)}}}
	}
}

func lastToolResult(msgs []openai.ChatCompletionMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == openai.ChatMessageRoleTool {
			return msgs[i].Content
		}
	}
	return "nothing yet."
}

// Handler serves /chat/completions and /embeddings under any prefix.
type Handler struct {
	respond   Responder
	dimension int

	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
}

// NewHandler creates a handler with 8-dimension embeddings.
func NewHandler(r Responder) *Handler {
	return &Handler{respond: r, dimension: 8}
}

// WithDimension sets the embedding length.
func (h *Handler) WithDimension(n int) *Handler {
	h.dimension = n
	return h
}

// Requests returns every chat request received so far.
func (h *Handler) Requests() []openai.ChatCompletionRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), h.requests...)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		h.serveChat(w, r)
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		h.serveEmbeddings(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveChat(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.mu.Unlock()

	turn := h.respond(req)
	if turn.Status != 0 {
		writeAPIError(w, turn.Status, "scripted failure")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	ctx := r.Context()
	sleep := func(d time.Duration) bool {
		if d <= 0 {
			return true
		}
		select {
		case <-time.After(d):
			return true
		case <-ctx.Done():
			return false
		}
	}
	write := func(delta openai.ChatCompletionStreamChoiceDelta, finish openai.FinishReason) {
		chunk := openai.ChatCompletionStreamResponse{
			ID:      "chatcmpl-test",
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []openai.ChatCompletionStreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if !sleep(turn.Delay) {
		return
	}
	write(openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant}, "")

	for i, text := range turn.Text {
		if i > 0 && !sleep(turn.ChunkDelay) {
			return
		}
		write(openai.ChatCompletionStreamChoiceDelta{Content: text}, "")
	}

	if len(turn.ToolCalls) > 0 {
		calls := make([]openai.ToolCall, 0, len(turn.ToolCalls))
		for i, tc := range turn.ToolCalls {
			index := i
			id := tc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			calls = append(calls, openai.ToolCall{
				Index:    &index,
				ID:       id,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		write(openai.ChatCompletionStreamChoiceDelta{ToolCalls: calls}, openai.FinishReasonToolCalls)
	} else {
		write(openai.ChatCompletionStreamChoiceDelta{}, openai.FinishReasonStop)
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func (h *Handler) serveEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input any    `json:"input"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var inputs []string
	switch v := req.Input.(type) {
	case string:
		inputs = []string{v}
	case []any:
		for _, item := range v {
			s, _ := item.(string)
			inputs = append(inputs, s)
		}
	}

	data := make([]map[string]any, 0, len(inputs))
	for i, in := range inputs {
		data = append(data, map[string]any{
			"object":    "embedding",
			"index":     i,
			"embedding": Vector(in, h.dimension),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  req.Model,
		"usage":  map[string]int{"prompt_tokens": len(inputs), "total_tokens": len(inputs)},
	})
}

// Vector returns a deterministic pseudo-embedding for text.
func Vector(text string, dimension int) []float32 {
	v := make([]float32, dimension)
	for i := range v {
		h := fnv.New32a()
		fmt.Fprintf(h, "%d:%s", i, text)
		v[i] = float32(h.Sum32()%2000)/1000 - 1
	}
	return v
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "server_error", "code": status},
	})
}

// Server is a Handler on an httptest server.
type Server struct {
	*Handler
	srv *httptest.Server
}

// NewServer starts a scripted server. Close it when done.
func NewServer(r Responder) *Server {
	h := NewHandler(r)
	return &Server{Handler: h, srv: httptest.NewServer(h)}
}

// BaseURL is the value to configure as the client's base URL.
func (s *Server) BaseURL() string { return s.srv.URL + "/v1" }

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }
