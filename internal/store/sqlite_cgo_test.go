//go:build cgo

// ABOUTME: Runs the session store contract on the cgo mattn/go-sqlite3 driver
// ABOUTME: Only built when cgo is available

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_CGODriverContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) SessionStore {
		s, err := OpenSQLite(DriverCGO, filepath.Join(t.TempDir(), "cgo.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
