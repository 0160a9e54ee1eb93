// ABOUTME: Catalog search result type and the embedding provider contract
// ABOUTME: Shared by the Postgres adapter and the catalog tools

package search

import "context"

// Entity kinds in the procurement catalog.
const (
	KindSupplier = "supplier"
	KindItem     = "item"
	KindRFQ      = "rfq"
	KindQuote    = "quote"
)

// Record is one catalog hit. Score is adapter-specific: similarity for
// semantic search, ts_rank for keyword search, match quality for lookups.
type Record struct {
	Kind    string  `json:"kind"`
	ID      string  `json:"id"`
	Code    string  `json:"code,omitempty"`
	Name    string  `json:"name"`
	Summary string  `json:"summary,omitempty"`
	Score   float64 `json:"score"`
}

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ValidKind reports whether kind names a catalog entity kind.
func ValidKind(kind string) bool {
	switch kind {
	case KindSupplier, KindItem, KindRFQ, KindQuote:
		return true
	}
	return false
}
