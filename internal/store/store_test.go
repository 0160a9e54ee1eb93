// ABOUTME: SessionStore contract tests shared by every adapter
// ABOUTME: Covers create/get, append ordering, metadata merge, rename, delete and listing

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every SessionStore must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) SessionStore) {
	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		conv, err := s.Create(ctx, "user-1", "")
		require.NoError(t, err)
		require.NotEmpty(t, conv.ID)

		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, got.ID)
		assert.Equal(t, "user-1", got.OwnerID)
		assert.Empty(t, got.Title)
		assert.Empty(t, got.Turns)
		assert.NotNil(t, got.Metadata)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(t.Context(), "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("AppendPreservesOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		conv, err := s.Create(ctx, "", "")
		require.NoError(t, err)

		require.NoError(t, s.AppendAndSave(ctx, conv.ID, []Turn{
			{Role: RoleUser, Content: "find metal suppliers"},
			{Role: RoleAssistant, Content: "Here are three."},
		}, nil))
		require.NoError(t, s.AppendAndSave(ctx, conv.ID, []Turn{
			{Role: RoleUser, Content: "only in Ohio"},
			{Role: RoleAssistant, Content: "One matches."},
		}, nil))

		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, got.Turns, 4)
		assert.Equal(t, 4, got.TurnCount)

		var contents []string
		for _, turn := range got.Turns {
			contents = append(contents, turn.Content)
		}
		assert.Equal(t, []string{"find metal suppliers", "Here are three.", "only in Ohio", "One matches."}, contents)
		assert.Equal(t, RoleUser, got.Turns[2].Role)
		assert.Equal(t, RoleAssistant, got.Turns[3].Role)
	})

	t.Run("AppendMergesMetadata", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		conv, err := s.Create(ctx, "", "")
		require.NoError(t, err)

		require.NoError(t, s.AppendAndSave(ctx, conv.ID, nil, map[string]any{"model": "gpt-4o", "tool_calls": 2}))
		require.NoError(t, s.AppendAndSave(ctx, conv.ID, nil, map[string]any{"tool_calls": 3}))

		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", got.Metadata["model"])
		assert.EqualValues(t, 3, got.Metadata["tool_calls"])
	})

	t.Run("AppendRejectsSystemTurn", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		conv, err := s.Create(ctx, "", "")
		require.NoError(t, err)

		err = s.AppendAndSave(ctx, conv.ID, []Turn{{Role: RoleSystem, Content: "prompt"}}, nil)
		assert.ErrorIs(t, err, ErrInvalidTurn)

		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Turns)
	})

	t.Run("AppendMissing", func(t *testing.T) {
		s := newStore(t)
		err := s.AppendAndSave(t.Context(), "missing", []Turn{{Role: RoleUser, Content: "hi"}}, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Rename", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		conv, err := s.Create(ctx, "", "")
		require.NoError(t, err)
		require.NoError(t, s.Rename(ctx, conv.ID, "Metal suppliers"))

		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "Metal suppliers", got.Title)

		assert.ErrorIs(t, s.Rename(ctx, "missing", "x"), ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		conv, err := s.Create(ctx, "", "")
		require.NoError(t, err)
		require.NoError(t, s.AppendAndSave(ctx, conv.ID, []Turn{{Role: RoleUser, Content: "hi"}}, nil))

		require.NoError(t, s.Delete(ctx, conv.ID))
		_, err = s.Get(ctx, conv.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, s.Delete(ctx, conv.ID), ErrNotFound)
	})

	t.Run("ListByOwner", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		older, err := s.Create(ctx, "user-1", "older")
		require.NoError(t, err)
		_, err = s.Create(ctx, "user-1", "newer")
		require.NoError(t, err)
		_, err = s.Create(ctx, "user-2", "someone else")
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, s.AppendAndSave(ctx, older.ID, []Turn{{Role: RoleUser, Content: "bump"}}, nil))

		list, err := s.ListByOwner(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, older.ID, list[0].ID, "most recently updated first")
		assert.Equal(t, 1, list[0].TurnCount)
		assert.Empty(t, list[0].Turns)
		assert.Equal(t, "newer", list[1].Title)

		none, err := s.ListByOwner(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestConversation_OwnedBy(t *testing.T) {
	assert.True(t, (&Conversation{}).OwnedBy("anyone"))
	assert.True(t, (&Conversation{OwnerID: "u1"}).OwnedBy("u1"))
	assert.False(t, (&Conversation{OwnerID: "u1"}).OwnedBy("u2"))
	assert.False(t, (&Conversation{OwnerID: "u1"}).OwnedBy(""))
}
