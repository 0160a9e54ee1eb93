// ABOUTME: SQLite implementation of SessionStore on modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: Stores conversations and their ordered turns with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // pure Go, modernc.org/sqlite
	DriverCGO     = "sqlite3" // cgo, github.com/mattn/go-sqlite3
)

// SQLiteStore implements SessionStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens a store at path with the pure Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLite(DriverModernc, path, nil)
}

// OpenSQLite opens a store at path using the named driver. The schema is
// created if it doesn't exist and parent directories are created if needed.
func OpenSQLite(driver, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	switch driver {
	case "":
		driver = DriverModernc
	case DriverModernc, DriverCGO:
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: SQLite has a single writer and :memory: databases are
	// per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		driver: driver,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL DEFAULT '',
			title         TEXT NOT NULL DEFAULT '',
			metadata_json TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner
			ON conversations(owner_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS turns (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			position        INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL,

			PRIMARY KEY (conversation_id, position),
			CHECK (role IN ('user', 'assistant'))
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts a new conversation with a fresh UUID.
func (s *SQLiteStore) Create(ctx context.Context, ownerID, title string) (*Conversation, error) {
	now := s.now().UTC()
	conv := &Conversation{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Title:     title,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, title, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, NULL, ?, ?)
	`, conv.ID, ownerID, title, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "owner_id", ownerID)
	return conv, nil
}

// Get retrieves a conversation and its turns in order.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	var metadataJSON sql.NullString
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, metadata_json, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id).Scan(&conv.ID, &conv.OwnerID, &conv.Title, &metadataJSON, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if err := conv.scanTimes(createdAtStr, updatedAtStr); err != nil {
		return nil, err
	}
	if conv.Metadata, err = decodeMetadata(metadataJSON); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var turn Turn
		var role, createdAt string
		if err := rows.Scan(&role, &turn.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		turn.Role = Role(role)
		if turn.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing turn created_at: %w", err)
		}
		conv.Turns = append(conv.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}
	conv.TurnCount = len(conv.Turns)

	return &conv, nil
}

// AppendAndSave appends turns after the current last position and merges
// metadata, all in one transaction.
func (s *SQLiteStore) AppendAndSave(ctx context.Context, id string, turns []Turn, metadata map[string]any) error {
	if err := validateTurns(turns); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var metadataJSON sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT metadata_json FROM conversations WHERE id = ?`, id).Scan(&metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying conversation: %w", err)
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM turns WHERE conversation_id = ?`, id,
	).Scan(&next); err != nil {
		return fmt.Errorf("querying last position: %w", err)
	}

	now := s.now().UTC()
	for _, turn := range turns {
		createdAt := turn.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (conversation_id, position, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, next, string(turn.Role), turn.Content, formatTime(createdAt)); err != nil {
			return fmt.Errorf("inserting turn: %w", err)
		}
		next++
	}

	merged, err := decodeMetadata(metadataJSON)
	if err != nil {
		return err
	}
	for k, v := range metadata {
		merged[k] = v
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET metadata_json = ?, updated_at = ? WHERE id = ?`,
		string(encoded), formatTime(now), id,
	); err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("saved conversation", "id", id, "appended", len(turns))
	return nil
}

// Rename replaces the conversation title.
func (s *SQLiteStore) Rename(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(s.now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	return requireAffected(result)
}

// Delete removes the conversation and its turns.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting turns: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// ListByOwner returns the owner's conversations with turn counts, newest first.
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.owner_id, c.title, c.metadata_json, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		FROM conversations c
		WHERE c.owner_id = ?
		ORDER BY c.updated_at DESC
		LIMIT ?
	`, ownerID, maxListed)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		var metadataJSON sql.NullString
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(
			&conv.ID,
			&conv.OwnerID,
			&conv.Title,
			&metadataJSON,
			&createdAtStr,
			&updatedAtStr,
			&conv.TurnCount,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		if err := conv.scanTimes(createdAtStr, updatedAtStr); err != nil {
			return nil, err
		}
		if conv.Metadata, err = decodeMetadata(metadataJSON); err != nil {
			return nil, err
		}
		convs = append(convs, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

func (c *Conversation) scanTimes(createdAt, updatedAt string) error {
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("parsing updated_at: %w", err)
	}
	return nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeMetadata(raw sql.NullString) (map[string]any, error) {
	md := map[string]any{}
	if !raw.Valid || raw.String == "" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &md); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return md, nil
}

// Timestamps are stored as fixed-width RFC3339 strings so text ordering
// matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
