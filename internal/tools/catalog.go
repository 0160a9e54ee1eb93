// ABOUTME: Catalog tools (lookup_entity, semantic_search, keyword_search) over a Catalog backend
// ABOUTME: Parses model arguments, clamps limits and renders hits as numbered plain text

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/sourcing-gateway/internal/search"
)

// Catalog is the search backend the catalog tools query.
type Catalog interface {
	LookupEntity(ctx context.Context, query, kind string, limit int) ([]search.Record, error)
	KeywordSearch(ctx context.Context, query string, limit int) ([]search.Record, error)
	SemanticSearch(ctx context.Context, query string, limit int) ([]search.Record, error)
}

const (
	defaultLimit = 5
	maxLimit     = 20
)

type catalogInput struct {
	Query string `json:"query"`
	Kind  string `json:"kind,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func parseCatalogInput(input json.RawMessage) (catalogInput, error) {
	var in catalogInput
	if err := json.Unmarshal(input, &in); err != nil {
		return in, fmt.Errorf("invalid input: %w", err)
	}
	in.Query = strings.TrimSpace(in.Query)
	if in.Query == "" {
		return in, errors.New("query is required")
	}
	if in.Kind != "" && !search.ValidKind(in.Kind) {
		return in, fmt.Errorf("unknown kind %q", in.Kind)
	}
	in.Limit = clampLimit(in.Limit)
	return in, nil
}

// clampLimit maps a requested limit into 1..maxLimit; 0 means the default.
func clampLimit(n int) int {
	switch {
	case n == 0:
		return defaultLimit
	case n < 1:
		return 1
	case n > maxLimit:
		return maxLimit
	}
	return n
}

// RegisterCatalog adds the three catalog tools to r.
func RegisterCatalog(r *Registry, c Catalog) error {
	h := &catalogHandlers{catalog: c}
	for _, t := range []*Tool{
		{
			Definition: Definition{
				Name:        "lookup_entity",
				Description: "Look up suppliers, items, RFQs or quotes by code or name. Use when the user names a specific entity.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Code or name to look up"},"kind":{"type":"string","enum":["supplier","item","rfq","quote"]},"limit":{"type":"integer","minimum":1,"maximum":20}},"required":["query"]}`),
			},
			Summarize: func(input json.RawMessage) string {
				in, _ := parseCatalogInput(input)
				if in.Kind != "" {
					return fmt.Sprintf("Looking up %s %q", in.Kind, in.Query)
				}
				return fmt.Sprintf("Looking up %q", in.Query)
			},
			Handler: h.LookupEntity,
		},
		{
			Definition: Definition{
				Name:        "semantic_search",
				Description: "Find catalog entries similar in meaning to a description, e.g. capabilities or product needs.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Natural language description"},"limit":{"type":"integer","minimum":1,"maximum":20}},"required":["query"]}`),
			},
			Summarize: func(input json.RawMessage) string {
				in, _ := parseCatalogInput(input)
				return fmt.Sprintf("Searching the catalog for matches to %q", in.Query)
			},
			Handler: h.SemanticSearch,
		},
		{
			Definition: Definition{
				Name:        "keyword_search",
				Description: "Full-text keyword search across the catalog. Supports quoted phrases and -exclusions.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Keywords"},"limit":{"type":"integer","minimum":1,"maximum":20}},"required":["query"]}`),
			},
			Summarize: func(input json.RawMessage) string {
				in, _ := parseCatalogInput(input)
				return fmt.Sprintf("Searching the catalog for %q", in.Query)
			},
			Handler: h.KeywordSearch,
		},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type catalogHandlers struct {
	catalog Catalog
}

func (h *catalogHandlers) LookupEntity(ctx context.Context, input json.RawMessage) (Outcome, error) {
	in, err := parseCatalogInput(input)
	if err != nil {
		return Outcome{}, err
	}
	records, err := h.catalog.LookupEntity(ctx, in.Query, in.Kind, in.Limit)
	if err != nil {
		return Outcome{}, err
	}
	return renderRecords(in.Query, records), nil
}

func (h *catalogHandlers) SemanticSearch(ctx context.Context, input json.RawMessage) (Outcome, error) {
	in, err := parseCatalogInput(input)
	if err != nil {
		return Outcome{}, err
	}
	records, err := h.catalog.SemanticSearch(ctx, in.Query, in.Limit)
	if err != nil {
		return Outcome{}, err
	}
	return renderRecords(in.Query, records), nil
}

func (h *catalogHandlers) KeywordSearch(ctx context.Context, input json.RawMessage) (Outcome, error) {
	in, err := parseCatalogInput(input)
	if err != nil {
		return Outcome{}, err
	}
	records, err := h.catalog.KeywordSearch(ctx, in.Query, in.Limit)
	if err != nil {
		return Outcome{}, err
	}
	return renderRecords(in.Query, records), nil
}

var kindNouns = map[string][2]string{
	search.KindSupplier: {"supplier", "suppliers"},
	search.KindItem:     {"item", "items"},
	search.KindRFQ:      {"RFQ", "RFQs"},
	search.KindQuote:    {"quote", "quotes"},
}

// noun names what was found: the shared kind when all hits agree, else "result".
func noun(records []search.Record) string {
	forms := [2]string{"result", "results"}
	if len(records) > 0 {
		if f, ok := kindNouns[records[0].Kind]; ok {
			forms = f
			for _, r := range records[1:] {
				if r.Kind != records[0].Kind {
					forms = [2]string{"result", "results"}
					break
				}
			}
		}
	}
	if len(records) == 1 {
		return forms[0]
	}
	return forms[1]
}

// renderRecords formats hits for the model and writes the completion note.
func renderRecords(query string, records []search.Record) Outcome {
	if len(records) == 0 {
		msg := fmt.Sprintf("No results found for %q", query)
		return Outcome{Text: msg + ".", Note: msg}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d %s for %q:\n", len(records), noun(records), query)
	for i, r := range records {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, r.Kind, r.Name)
		if r.Code != "" {
			fmt.Fprintf(&sb, " (%s)", r.Code)
		}
		fmt.Fprintf(&sb, " id=%s", r.ID)
		if r.Summary != "" {
			fmt.Fprintf(&sb, " - %s", r.Summary)
		}
		fmt.Fprintf(&sb, " [score %.2f]\n", r.Score)
	}

	return Outcome{
		Text: strings.TrimRight(sb.String(), "\n"),
		Note: fmt.Sprintf("Found %d %s", len(records), noun(records)),
	}
}
