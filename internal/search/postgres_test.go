// ABOUTME: Tests for the Postgres catalog adapter against go-sqlmock
// ABOUTME: Covers query shapes, argument binding, null handling and error classification

package search

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls = append(f.calls, text)
	return f.vec, f.err
}

var recordColumns = []string{"kind", "id", "code", "name", "summary", "score"}

func setupMockDB(t *testing.T, emb Embedder) (sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewPostgresStore(Config{DB: db, Embedder: emb, Dimension: 3, MinScore: 0.3})
	require.NoError(t, err)
	return mock, s
}

func TestNewPostgresStore_RequiresConnection(t *testing.T) {
	_, err := NewPostgresStore(Config{})
	assert.Error(t, err)
}

func TestLookupEntity(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		kind      string
		setupMock func(sqlmock.Sqlmock)
		want      []Record
	}{
		{
			name:  "exact code and partial names",
			query: "SUP-0042",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM catalog_entries\s+WHERE \(lower\(code\) = lower\(\$1\) OR name ILIKE \$2`).
					WithArgs("SUP-0042", "%SUP-0042%", 5).
					WillReturnRows(sqlmock.NewRows(recordColumns).
						AddRow("supplier", "s-42", "SUP-0042", "Acme Metals", "Sheet metal fabrication", 1.0))
			},
			want: []Record{{Kind: "supplier", ID: "s-42", Code: "SUP-0042", Name: "Acme Metals", Summary: "Sheet metal fabrication", Score: 1.0}},
		},
		{
			name:  "kind filter and like escaping",
			query: "100%_steel",
			kind:  KindItem,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`AND kind = \$3 ORDER BY score DESC, name ASC LIMIT \$4`).
					WithArgs("100%_steel", `%100\%\_steel%`, "item", 5).
					WillReturnRows(sqlmock.NewRows(recordColumns).
						AddRow("item", "i-7", nil, "100%_steel bracket", nil, 0.5))
			},
			want: []Record{{Kind: "item", ID: "i-7", Name: "100%_steel bracket", Score: 0.5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := setupMockDB(t, nil)
			tt.setupMock(mock)

			got, err := s.LookupEntity(t.Context(), tt.query, tt.kind, 5)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestKeywordSearch(t *testing.T) {
	mock, s := setupMockDB(t, nil)

	mock.ExpectQuery(`websearch_to_tsquery\('english', \$1\)`).
		WithArgs("metal suppliers", 3).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("supplier", "s-1", "SUP-0001", "Acme Metals", "Steel", 0.61).
			AddRow("supplier", "s-2", "SUP-0002", "Brightline Alloys", nil, 0.42))

	got, err := s.KeywordSearch(t.Context(), "metal suppliers", 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Acme Metals", got[0].Name)
	assert.Empty(t, got[1].Summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeywordSearch_NoRows(t *testing.T) {
	mock, s := setupMockDB(t, nil)

	mock.ExpectQuery("websearch_to_tsquery").
		WithArgs("unobtainium", 5).
		WillReturnRows(sqlmock.NewRows(recordColumns))

	got, err := s.KeywordSearch(t.Context(), "unobtainium", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSemanticSearch(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{0.1, 0.25, -1}}
	mock, s := setupMockDB(t, emb)

	mock.ExpectQuery(`1 - \(embedding <=> \$1::vector\) AS score`).
		WithArgs("[0.1,0.25,-1]", 0.3, 4).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("supplier", "s-9", "SUP-0009", "Northwind Castings", "Iron and aluminium castings", 0.88))

	got, err := s.SemanticSearch(t.Context(), "foundries near Cleveland", 4)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.88, got[0].Score, 1e-9)
	assert.Equal(t, []string{"foundries near Cleveland"}, emb.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSemanticSearch_Errors(t *testing.T) {
	t.Run("no embedder", func(t *testing.T) {
		_, s := setupMockDB(t, nil)
		_, err := s.SemanticSearch(t.Context(), "x", 5)
		assert.ErrorIs(t, err, ErrNoEmbedder)
	})

	t.Run("embedder failure", func(t *testing.T) {
		_, s := setupMockDB(t, &fakeEmbedder{err: errors.New("rate limited")})
		_, err := s.SemanticSearch(t.Context(), "x", 5)
		assert.ErrorContains(t, err, "rate limited")
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, s := setupMockDB(t, &fakeEmbedder{vec: []float32{1, 2}})
		_, err := s.SemanticSearch(t.Context(), "x", 5)
		assert.ErrorContains(t, err, "dimension mismatch")
	})
}

func TestQuery_ClassifiesMissingView(t *testing.T) {
	mock, s := setupMockDB(t, nil)

	mock.ExpectQuery("websearch_to_tsquery").
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "catalog_entries" does not exist`})

	_, err := s.KeywordSearch(t.Context(), "metal", 5)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
}

func TestQuery_WrapsOtherErrors(t *testing.T) {
	mock, s := setupMockDB(t, nil)

	mock.ExpectQuery("FROM catalog_entries").WillReturnError(sql.ErrConnDone)

	_, err := s.LookupEntity(t.Context(), "acme", "", 5)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NotErrorIs(t, err, ErrCatalogUnavailable)
}

func TestClose_DoesNotCloseBorrowedDB(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := NewPostgresStore(Config{DB: db})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.NoError(t, db.Ping(), "borrowed handle must stay open")
}
