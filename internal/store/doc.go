// Package store persists chat conversations for the gateway.
//
// # Architecture
//
// SessionStore is the only contract the rest of the gateway sees:
//
//   - Create, Get, Rename, Delete, ListByOwner: conversation CRUD
//   - AppendAndSave: append turns and merge metadata in one transaction
//   - Ping, Close: lifecycle and readiness
//
// SQLiteStore implements it on either SQLite driver:
//
//   - "sqlite": modernc.org/sqlite, pure Go, the default
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// BoltStore keeps each conversation as one JSON record in a bbolt file
// (driver "bolt"). It has no secondary indexes, so ListByOwner scans.
//
// # Data Model
//
//   - Conversation: id (UUID), optional owner, title, JSON metadata
//   - Turn: role (user|assistant), content, timestamp
//
// Turns are stored with a strictly increasing position so history always
// reads back in the order it was appended. System prompts are built per
// request and never reach the store; AppendAndSave rejects them with
// ErrInvalidTurn.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The pool is limited to one connection, which also keeps ":memory:"
// databases coherent for tests.
//
// # Errors
//
//   - ErrNotFound: conversation does not exist
//   - ErrInvalidTurn: turn role cannot be persisted
//
// # Testing
//
// NewMockStore() is an in-memory SessionStore with FailAppends for
// exercising persistence failures. Both adapters run the same contract
// tests.
package store
