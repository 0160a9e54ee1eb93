// ABOUTME: Embedded bbolt implementation of SessionStore for single-binary deployments
// ABOUTME: Each conversation is one JSON record in the conversations bucket

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// DriverBolt selects BoltStore in database.driver.
const DriverBolt = "bolt"

var conversationsBucket = []byte("conversations")

// BoltStore keeps conversations in a single bbolt file. Every write runs in
// one bolt transaction, so AppendAndSave is atomic.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string, logger *slog.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db, logger: logger.With("component", "store", "driver", DriverBolt)}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping reads the bucket; it fails once the database is closed.
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(conversationsBucket) == nil {
			return errors.New("conversations bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Create(ctx context.Context, ownerID, title string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Title:     title,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, conv)
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

func (s *BoltStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var conv *Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		conv, err = get(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	conv.TurnCount = len(conv.Turns)
	return conv, nil
}

func (s *BoltStore) AppendAndSave(ctx context.Context, id string, turns []Turn, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateTurns(turns); err != nil {
		return err
	}

	return s.update(id, func(conv *Conversation, now time.Time) {
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
	})
}

func (s *BoltStore) Rename(ctx context.Context, id, title string) error {
	return s.update(id, func(conv *Conversation, _ time.Time) {
		conv.Title = title
	})
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// ListByOwner scans the bucket; bolt has no secondary indexes.
func (s *BoltStore) ListByOwner(ctx context.Context, ownerID string) ([]*Conversation, error) {
	var out []*Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(k, v []byte) error {
			var conv Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				s.logger.Warn("skipping unreadable conversation", "id", string(k), "error", err)
				return nil
			}
			if conv.OwnerID != ownerID {
				return nil
			}
			conv.TurnCount = len(conv.Turns)
			conv.Turns = nil
			out = append(out, &conv)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > maxListed {
		out = out[:maxListed]
	}
	return out, nil
}

// update applies fn to the stored conversation and bumps UpdatedAt.
func (s *BoltStore) update(id string, fn func(conv *Conversation, now time.Time)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		conv, err := get(tx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		fn(conv, now)
		conv.UpdatedAt = now
		return put(tx, conv)
	})
}

func get(tx *bolt.Tx, id string) (*Conversation, error) {
	v := tx.Bucket(conversationsBucket).Get([]byte(id))
	if v == nil {
		return nil, ErrNotFound
	}
	var conv Conversation
	if err := json.Unmarshal(v, &conv); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	if conv.Metadata == nil {
		conv.Metadata = map[string]any{}
	}
	return &conv, nil
}

func put(tx *bolt.Tx, conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}
	return tx.Bucket(conversationsBucket).Put([]byte(conv.ID), data)
}

var _ SessionStore = (*BoltStore)(nil)
