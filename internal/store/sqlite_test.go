// ABOUTME: Tests for the SQLite session store
// ABOUTME: Runs the shared contract on the pure Go driver and covers file handling and reopen

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) SessionStore { return newTestStore(t) })
}

func TestSQLiteStore_InMemory(t *testing.T) {
	runStoreContract(t, func(t *testing.T) SessionStore {
		s, err := OpenSQLite(DriverModernc, ":memory:", nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist in nested directory")
}

func TestOpenSQLite_UnknownDriver(t *testing.T) {
	_, err := OpenSQLite("postgres", filepath.Join(t.TempDir(), "x.db"), nil)
	assert.ErrorContains(t, err, "unsupported sqlite driver")
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := t.Context()

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	conv, err := s.Create(ctx, "user-1", "Steel RFQ")
	require.NoError(t, err)
	require.NoError(t, s.AppendAndSave(ctx, conv.ID, []Turn{
		{Role: RoleUser, Content: "quote 200 brackets"},
		{Role: RoleAssistant, Content: "Drafted."},
	}, map[string]any{"model": "gpt-4o-mini"}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Steel RFQ", got.Title)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "Drafted.", got.Turns[1].Content)
	assert.Equal(t, "gpt-4o-mini", got.Metadata["model"])

	// appending after reopen continues the position sequence
	require.NoError(t, reopened.AppendAndSave(ctx, conv.ID, []Turn{{Role: RoleUser, Content: "thanks"}}, nil))
	got, err = reopened.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "thanks", got.Turns[2].Content)
}
