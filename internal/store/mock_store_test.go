// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Runs the shared contract and covers failure injection and copy isolation

package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) SessionStore { return NewMockStore() })
}

func TestMockStore_FailAppends(t *testing.T) {
	s := NewMockStore()
	ctx := t.Context()

	conv, err := s.Create(ctx, "", "")
	require.NoError(t, err)

	boom := errors.New("disk full")
	s.FailAppends(boom)
	assert.ErrorIs(t, s.AppendAndSave(ctx, conv.ID, []Turn{{Role: RoleUser, Content: "hi"}}, nil), boom)

	s.FailAppends(nil)
	assert.NoError(t, s.AppendAndSave(ctx, conv.ID, []Turn{{Role: RoleUser, Content: "hi"}}, nil))
	assert.Equal(t, 2, s.AppendCalls())
}

func TestMockStore_GetReturnsCopy(t *testing.T) {
	s := NewMockStore()
	ctx := t.Context()

	conv, err := s.Create(ctx, "", "")
	require.NoError(t, err)
	require.NoError(t, s.AppendAndSave(ctx, conv.ID, []Turn{{Role: RoleUser, Content: "original"}}, map[string]any{"k": "v"}))

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	got.Turns[0].Content = "mutated"
	got.Metadata["k"] = "mutated"

	again, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Turns[0].Content)
	assert.Equal(t, "v", again.Metadata["k"])
}
