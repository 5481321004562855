package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "catalog.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_InsertAndSearch(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	brown := Entry{
		ID: uuid.New(), TenantID: "tenant-a", Name: "Brown Rice",
		Description: "whole-grain rice", UnitPrice: 38, StockQuantity: 120,
		Unit: "bag", Sellable: true, Embedding: []float32{0.9, 0.1, 0},
	}
	jasmine := Entry{
		ID: uuid.New(), TenantID: "tenant-a", Name: "Jasmine Rice",
		Description: "fragrant rice", UnitPrice: 42, StockQuantity: 80,
		Unit: "bag", Sellable: true, Embedding: []float32{1, 0, 0},
	}
	require.NoError(t, store.Insert(ctx, brown))
	require.NoError(t, store.Insert(ctx, jasmine))

	results, err := store.SearchSimilar(ctx, "tenant-a", []float32{1, 0, 0}, SearchFilters{}, 10)
	require.NoError(t, err)

	require.Len(t, results, 2)
	// Jasmine's vector equals the query, so it ranks first.
	assert.Equal(t, jasmine.ID, results[0].ID)
	assert.Equal(t, brown.ID, results[1].ID)
	require.NotNil(t, results[0].Similarity)
	assert.InDelta(t, 1.0, *results[0].Similarity, 1e-6)
}

func TestSQLiteStore_PriceFilters(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, price := range []float64{30, 45, 80} {
		require.NoError(t, store.Insert(ctx, Entry{
			TenantID: "tenant-a", Name: "Veg", UnitPrice: price,
			Sellable: true, Embedding: []float32{1, 0, 0},
		}))
	}

	min, max := 40.0, 50.0
	results, err := store.SearchSimilar(ctx, "tenant-a", []float32{1, 0, 0},
		SearchFilters{PriceMin: &min, PriceMax: &max}, 10)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, 45.0, results[0].UnitPrice)
}

func TestSQLiteStore_ExcludesUnsellableAndUnembedded(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, Entry{
		TenantID: "tenant-a", Name: "Display Basket", UnitPrice: 150,
		Sellable: false, Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, store.Insert(ctx, Entry{
		TenantID: "tenant-a", Name: "No Vector", UnitPrice: 10,
		Sellable: true,
	}))

	results, err := store.SearchSimilar(ctx, "tenant-a", []float32{1, 0, 0}, SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteStore_TenantScoping(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, Entry{
		TenantID: "tenant-b", Name: "Brown Rice", UnitPrice: 38,
		Sellable: true, Embedding: []float32{1, 0, 0},
	}))

	results, err := store.SearchSimilar(ctx, "tenant-a", []float32{1, 0, 0}, SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = store.SearchSimilar(ctx, "", []float32{1, 0, 0}, SearchFilters{}, 10)
	assert.ErrorIs(t, err, ErrInvalidTenant)
}

func TestSQLiteStore_LimitApplied(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, store.Insert(ctx, Entry{
			TenantID: "tenant-a", Name: "Item", UnitPrice: 10,
			Sellable: true, Embedding: []float32{1, 0, float32(i) / 100},
		}))
	}

	results, err := store.SearchSimilar(ctx, "tenant-a", []float32{1, 0, 0}, SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 10)
}

func TestMemoryStore_TieBreakKeepsCatalogOrder(t *testing.T) {
	store := NewMemoryStore()
	first := Entry{ID: uuid.New(), TenantID: "tenant-a", Name: "First",
		UnitPrice: 10, Sellable: true, Embedding: []float32{1, 0, 0}}
	second := Entry{ID: uuid.New(), TenantID: "tenant-a", Name: "Second",
		UnitPrice: 10, Sellable: true, Embedding: []float32{1, 0, 0}}
	store.Add(first, second)

	results, err := store.SearchSimilar(context.Background(), "tenant-a",
		[]float32{1, 0, 0}, SearchFilters{}, 10)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, first.ID, results[0].ID)
	assert.Equal(t, second.ID, results[1].ID)
}
