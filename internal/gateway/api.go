// ABOUTME: HTTP API handlers: SSE chat stream and conversation CRUD
// ABOUTME: Sets the conversation id header before streaming and applies CORS

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/sourcing-gateway/internal/auth"
	"github.com/2389/sourcing-gateway/internal/conversation"
	"github.com/2389/sourcing-gateway/internal/store"
	"github.com/2389/sourcing-gateway/internal/stream"
)

// ConversationIDHeader carries the conversation id in both directions.
const ConversationIDHeader = "X-Conversation-ID"

const (
	maxChatBodyBytes = 64 << 10
	maxTitleRunes    = 200
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`

	// ConversationID is accepted as a fallback for clients that cannot set
	// the header.
	ConversationID string `json:"conversation_id,omitempty"`
}

// RenameRequest is the body of PATCH /api/conversations/{id}.
type RenameRequest struct {
	Title string `json:"title"`
}

// ConversationSummary is one entry of GET /api/conversations.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// handleChat handles POST /api/chat. The response is an SSE stream of
// content, progress and error chunks closed by [DONE].
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	// Check streaming support before doing any work (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conversationID := strings.TrimSpace(r.Header.Get(ConversationIDHeader))
	if conversationID == "" {
		conversationID = strings.TrimSpace(req.ConversationID)
	}

	ctx := r.Context()
	if timeout := g.config.Server.StreamTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	st, err := g.conversation.Begin(ctx, &conversation.StreamRequest{
		ConversationID: conversationID,
		OwnerID:        auth.UserID(ctx),
		Message:        req.Message,
	})
	if errors.Is(err, conversation.ErrEmptyMessage) {
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err != nil {
		g.logger.Error("failed to start conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Set SSE headers; the conversation id must precede the first body byte
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(ConversationIDHeader, st.ConversationID())
	h.Set("Access-Control-Expose-Headers", ConversationIDHeader)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	st.Run(ctx, stream.NewWriter(w))
}

// handleListConversations handles GET /api/conversations for the caller.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := g.store.ListByOwner(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, ConversationSummary{
			ID:        c.ID,
			Title:     c.Title,
			TurnCount: c.TurnCount,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := g.loadOwned(w, r)
	if !ok {
		return
	}
	g.sendJSON(w, http.StatusOK, conv)
}

// handleRenameConversation handles PATCH /api/conversations/{id}.
func (g *Gateway) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		g.sendJSONError(w, http.StatusBadRequest, "title is required")
		return
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		g.sendJSONError(w, http.StatusBadRequest, "title is too long")
		return
	}

	conv, ok := g.loadOwned(w, r)
	if !ok {
		return
	}
	if err := g.store.Rename(r.Context(), conv.ID, title); err != nil {
		g.storeError(w, "rename conversation", err)
		return
	}

	conv, err := g.store.Get(r.Context(), conv.ID)
	if err != nil {
		g.storeError(w, "get conversation", err)
		return
	}
	g.sendJSON(w, http.StatusOK, conv)
}

// handleDeleteConversation handles DELETE /api/conversations/{id}.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := g.loadOwned(w, r)
	if !ok {
		return
	}
	if err := g.store.Delete(r.Context(), conv.ID); err != nil {
		g.storeError(w, "delete conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadOwned resolves the {id} path value to a conversation the caller may
// see. Conversations owned by someone else are reported as not found.
func (g *Gateway) loadOwned(w http.ResponseWriter, r *http.Request) (*store.Conversation, bool) {
	id := r.PathValue("id")
	if err := uuid.Validate(id); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return nil, false
	}

	conv, err := g.store.Get(r.Context(), id)
	if err != nil {
		g.storeError(w, "get conversation", err)
		return nil, false
	}
	if !conv.OwnedBy(auth.UserID(r.Context())) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	return conv, true
}

func (g *Gateway) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	g.logger.Error("failed to "+op, "error", err)
	g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// corsMiddleware allows browser clients from origins to call the API and
// read the conversation id header. "*" allows any origin.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	anyOrigin := slices.Contains(origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !(anyOrigin || slices.Contains(origins, origin)) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Expose-Headers", ConversationIDHeader)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ConversationIDHeader+", "+auth.UserIDHeader)
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
