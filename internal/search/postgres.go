// ABOUTME: Read-only Postgres catalog search over the catalog_entries view
// ABOUTME: Exact/ILIKE lookup, full-text keyword search and pgvector similarity search

package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ErrCatalogUnavailable is returned when the catalog view is missing.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// ErrNoEmbedder is returned by SemanticSearch when no embedder is configured.
var ErrNoEmbedder = errors.New("semantic search requires an embedder")

// The adapter expects a view shaped like:
//
//	CREATE VIEW catalog_entries AS SELECT
//	    kind      text,     -- supplier | item | rfq | quote
//	    id        text,
//	    code      text,     -- nullable business code, e.g. SUP-0042
//	    name      text,
//	    summary   text,     -- nullable
//	    document  tsvector, -- full-text document
//	    embedding vector    -- nullable pgvector embedding
//	...
//
// The gateway never creates or migrates it.

// Config configures a PostgresStore.
type Config struct {
	// DSN is the PostgreSQL connection string. Ignored when DB is set.
	DSN string

	// DB is an existing connection; the store will not close it.
	DB *sql.DB

	Embedder Embedder

	// Dimension is the expected embedding length. 0 skips the check.
	Dimension int

	// MinScore drops semantic hits below this similarity.
	MinScore float64

	Logger *slog.Logger
}

// PostgresStore implements catalog lookups against Postgres.
type PostgresStore struct {
	db        *sql.DB
	ownsDB    bool
	embedder  Embedder
	dimension int
	minScore  float64
	logger    *slog.Logger
}

// NewPostgresStore opens (or adopts) a connection to the catalog database.
func NewPostgresStore(cfg Config) (*PostgresStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var db *sql.DB
	var ownsDB bool
	switch {
	case cfg.DB != nil:
		db = cfg.DB
	case cfg.DSN != "":
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening catalog database: %w", err)
		}
		ownsDB = true

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("pinging catalog database: %w", err)
		}
	default:
		return nil, fmt.Errorf("either DSN or DB must be provided")
	}

	return &PostgresStore{
		db:        db,
		ownsDB:    ownsDB,
		embedder:  cfg.Embedder,
		dimension: cfg.Dimension,
		minScore:  cfg.MinScore,
		logger:    logger.With("component", "search"),
	}, nil
}

// LookupEntity finds entities whose code matches query exactly or whose name
// contains it. Exact code matches rank first. kind may be empty.
func (s *PostgresStore) LookupEntity(ctx context.Context, query, kind string, limit int) ([]Record, error) {
	q := `
		SELECT kind, id, code, name, summary,
			CASE WHEN lower(code) = lower($1) THEN 1.0 ELSE 0.5 END AS score
		FROM catalog_entries
		WHERE (lower(code) = lower($1) OR name ILIKE $2 ESCAPE '\')
	`
	args := []any{query, "%" + escapeLike(query) + "%"}
	argNum := 3

	if kind != "" {
		q += fmt.Sprintf(" AND kind = $%d", argNum)
		args = append(args, kind)
		argNum++
	}
	q += fmt.Sprintf(" ORDER BY score DESC, name ASC LIMIT $%d", argNum)
	args = append(args, limit)

	return s.query(ctx, "lookup", q, args...)
}

// KeywordSearch ranks entities by full-text match using websearch syntax.
func (s *PostgresStore) KeywordSearch(ctx context.Context, query string, limit int) ([]Record, error) {
	q := `
		SELECT kind, id, code, name, summary, ts_rank(document, q) AS score
		FROM catalog_entries, websearch_to_tsquery('english', $1) q
		WHERE document @@ q
		ORDER BY score DESC, name ASC
		LIMIT $2
	`
	return s.query(ctx, "keyword", q, query, limit)
}

// SemanticSearch embeds query and returns the nearest entities by cosine
// similarity.
func (s *PostgresStore) SemanticSearch(ctx context.Context, query string, limit int) ([]Record, error) {
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if err := s.validateEmbedding(embedding); err != nil {
		return nil, err
	}

	q := `
		SELECT kind, id, code, name, summary, 1 - (embedding <=> $1::vector) AS score
		FROM catalog_entries
		WHERE embedding IS NOT NULL
			AND (1 - (embedding <=> $1::vector)) >= $2
		ORDER BY embedding <=> $1::vector ASC
		LIMIT $3
	`
	return s.query(ctx, "semantic", q, encodeEmbedding(embedding), s.minScore, limit)
}

// Ping verifies the catalog database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection if the store opened it.
func (s *PostgresStore) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, mode, q string, args ...any) ([]Record, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(mode, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var code, summary sql.NullString
		if err := rows.Scan(&rec.Kind, &rec.ID, &code, &rec.Name, &summary, &rec.Score); err != nil {
			return nil, fmt.Errorf("scanning %s result: %w", mode, err)
		}
		rec.Code = code.String
		rec.Summary = summary.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(mode, err)
	}

	s.logger.Debug("catalog query", "mode", mode, "results", len(records), "duration", time.Since(start))
	return records, nil
}

// classify maps Postgres errors onto package sentinels.
func classify(mode string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "undefined_table", "undefined_column", "undefined_function":
			return fmt.Errorf("%s search: %w: %s", mode, ErrCatalogUnavailable, pqErr.Message)
		}
	}
	return fmt.Errorf("%s search: %w", mode, err)
}

func (s *PostgresStore) validateEmbedding(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding is empty")
	}
	if s.dimension > 0 && len(embedding) != s.dimension {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.dimension)
	}
	for _, v := range embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("embedding contains invalid values")
		}
	}
	return nil
}

// encodeEmbedding renders a pgvector literal like [0.1,0.2].
func encodeEmbedding(embedding []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", f)
	}
	sb.WriteByte(']')
	return sb.String()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
