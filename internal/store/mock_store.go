// ABOUTME: Mock SessionStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject save failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory SessionStore implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID

	appendErr error
	appends   int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
	}
}

// FailAppends makes every subsequent AppendAndSave return err. Pass nil to reset.
func (m *MockStore) FailAppends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

// AppendCalls reports how many times AppendAndSave was called.
func (m *MockStore) AppendCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appends
}

// Create stores a new, empty conversation.
func (m *MockStore) Create(ctx context.Context, ownerID, title string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Title:     title,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	return conv.clone(), nil
}

// Get returns a copy of the conversation.
func (m *MockStore) Get(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := conv.clone()
	out.TurnCount = len(out.Turns)
	return out, nil
}

// AppendAndSave appends turns and merges metadata.
func (m *MockStore) AppendAndSave(ctx context.Context, id string, turns []Turn, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appends++
	if m.appendErr != nil {
		return m.appendErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateTurns(turns); err != nil {
		return err
	}

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	for _, turn := range turns {
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = now
		}
		conv.Turns = append(conv.Turns, turn)
	}
	if conv.Metadata == nil {
		conv.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		conv.Metadata[k] = v
	}
	conv.UpdatedAt = now
	return nil
}

// Rename replaces the title.
func (m *MockStore) Rename(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes the conversation.
func (m *MockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

// ListByOwner returns the owner's conversations without turns, newest first.
func (m *MockStore) ListByOwner(ctx context.Context, ownerID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Conversation
	for _, conv := range m.conversations {
		if conv.OwnerID != ownerID {
			continue
		}
		c := conv.clone()
		c.TurnCount = len(c.Turns)
		c.Turns = nil
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > maxListed {
		out = out[:maxListed]
	}
	return out, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

// Verify interface compliance
var (
	_ SessionStore = (*MockStore)(nil)
	_ SessionStore = (*SQLiteStore)(nil)
)
