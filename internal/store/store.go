// ABOUTME: SessionStore interface and data types for conversation persistence
// ABOUTME: Defines Conversation and Turn plus the errors every adapter reports

package store

import (
	"context"
	"errors"
	"maps"
	"time"
)

// ErrNotFound is returned when a requested conversation does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidTurn is returned when a turn cannot be persisted (unknown or system role)
var ErrInvalidTurn = errors.New("invalid turn")

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system" // synthesized per request, never stored
)

// Turn is one message in a conversation's history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is a persisted session. Turns are append-only and ordered.
type Conversation struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id,omitempty"`
	Title     string         `json:"title"`
	Turns     []Turn         `json:"turns,omitempty"`
	TurnCount int            `json:"turn_count"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// OwnedBy reports whether ownerID may use the conversation. Unowned
// conversations are open to every caller.
func (c *Conversation) OwnedBy(ownerID string) bool {
	return c.OwnerID == "" || c.OwnerID == ownerID
}

// clone returns a deep copy so callers cannot mutate stored state.
func (c *Conversation) clone() *Conversation {
	out := *c
	out.Turns = append([]Turn(nil), c.Turns...)
	out.Metadata = maps.Clone(c.Metadata)
	return &out
}

// SessionStore persists conversations for the chat coordinator and the
// conversation routes.
type SessionStore interface {
	// Create makes a new, empty conversation. ownerID may be empty.
	Create(ctx context.Context, ownerID, title string) (*Conversation, error)

	// Get returns the conversation with its turns, or ErrNotFound.
	Get(ctx context.Context, id string) (*Conversation, error)

	// AppendAndSave appends turns in order and shallow-merges metadata into the
	// stored metadata in one transaction. Returns ErrNotFound for unknown ids.
	AppendAndSave(ctx context.Context, id string, turns []Turn, metadata map[string]any) error

	// Rename replaces the title. Returns ErrNotFound for unknown ids.
	Rename(ctx context.Context, id, title string) error

	// Delete removes the conversation and its turns. Returns ErrNotFound for unknown ids.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns the owner's conversations, most recently updated
	// first, without turns.
	ListByOwner(ctx context.Context, ownerID string) ([]*Conversation, error)

	Ping(ctx context.Context) error
	Close() error
}

// maxListed caps ListByOwner results.
const maxListed = 100

func validateTurns(turns []Turn) error {
	for _, t := range turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return ErrInvalidTurn
		}
	}
	return nil
}
