// Package catalog provides tenant-scoped product storage with
// vector-similarity search for the assistant pipeline.
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidTenant = errors.New("invalid tenant")
)

// Entry is one catalog row. Optional text columns are carried as empty
// strings rather than pointers; Embedding is nil when the backfill has not
// reached the row yet.
type Entry struct {
	ID            uuid.UUID
	TenantID      string
	Name          string
	Description   string
	Policy        string
	UnitPrice     float64
	StockQuantity int
	Unit          string
	ImageURL      string
	Sellable      bool
	Embedding     []float32
}

// SearchFilters restricts a similarity search. Nil bounds are open.
type SearchFilters struct {
	PriceMin *float64
	PriceMax *float64
}

// SimilarEntry is a catalog row annotated with its similarity to the query
// embedding, in [0, 1], where 1 means identical direction. Similarity is nil
// when the row was produced outside a similarity query.
type SimilarEntry struct {
	Entry
	Similarity *float64
}

// Store is the retrieval-store contract the pipeline depends on. Only rows
// with sellable = true and a non-nil embedding participate; results are
// ordered by similarity descending, ties broken by catalog order.
type Store interface {
	SearchSimilar(ctx context.Context, tenantID string, query []float32, filters SearchFilters, limit int) ([]SimilarEntry, error)
	Close() error
}
