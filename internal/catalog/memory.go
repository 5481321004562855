package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/cwf-platform/shop-assistant/internal/embedding"
)

// MemoryStore is an in-memory Store used by tests and demos. It applies the
// same participation rules as the SQL stores.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry

	// SearchErr, when set, is returned by every search. Lets tests exercise
	// the fatal retrieval path.
	SearchErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add appends entries in catalog order.
func (s *MemoryStore) Add(entries ...Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
}

// SearchSimilar ranks matching entries by cosine similarity.
func (s *MemoryStore) SearchSimilar(ctx context.Context, tenantID string, query []float32, filters SearchFilters, limit int) ([]SimilarEntry, error) {
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []SimilarEntry
	for _, e := range s.entries {
		if e.TenantID != tenantID || !e.Sellable || e.Embedding == nil {
			continue
		}
		if filters.PriceMin != nil && e.UnitPrice < *filters.PriceMin {
			continue
		}
		if filters.PriceMax != nil && e.UnitPrice > *filters.PriceMax {
			continue
		}
		similarity := float64(1 - embedding.CosineDistance(query, e.Embedding))
		results = append(results, SimilarEntry{
			Entry:      e,
			Similarity: &similarity,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return *results[i].Similarity > *results[j].Similarity
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
