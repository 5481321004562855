package retrieval

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwf-platform/shop-assistant/internal/catalog"
	"github.com/cwf-platform/shop-assistant/internal/intent"
	"github.com/cwf-platform/shop-assistant/internal/observability"
)

const testTenant = "tenant-a"

func seedVegetables(store *catalog.MemoryStore) (cherry, spinach, kale catalog.Entry) {
	cherry = catalog.Entry{
		ID: uuid.New(), TenantID: testTenant, Name: "Cherry Tomatoes",
		Description: "sweet cherry tomatoes", UnitPrice: 30, StockQuantity: 60,
		Sellable: true, Embedding: []float32{1, 0, 0},
	}
	spinach = catalog.Entry{
		ID: uuid.New(), TenantID: testTenant, Name: "Baby Spinach",
		Description: "washed spinach leaves", UnitPrice: 45, StockQuantity: 25,
		Sellable: true, Embedding: []float32{0.9, 0.1, 0},
	}
	kale = catalog.Entry{
		ID: uuid.New(), TenantID: testTenant, Name: "Organic Kale",
		Description: "curly kale bunch", UnitPrice: 80, StockQuantity: 10,
		Sellable: true, Embedding: []float32{0.8, 0.2, 0},
	}
	store.Add(cherry, spinach, kale)
	return cherry, spinach, kale
}

func newTestRetriever(store catalog.Store, emb *stubEmbedder) *Retriever {
	return NewRetriever(store, emb, NewSubstringFilter(), observability.Nop(), Config{Limit: 10})
}

func TestRetriever_PriceFilterSoundness(t *testing.T) {
	store := catalog.NewMemoryStore()
	cherry, spinach, _ := seedVegetables(store)

	emb := &stubEmbedder{vectors: map[string][]float32{
		"vegetables": {1, 0, 0},
	}}
	r := newTestRetriever(store, emb)

	max := 50.0
	result, err := r.Retrieve(context.Background(), testTenant,
		intent.StructuredQuery{ProductTerms: []string{"vegetables"}, PriceMax: &max},
		intent.RetrievalFilters{PriceMax: &max})
	require.NoError(t, err)

	require.Len(t, result.Candidates, 2)
	for _, c := range result.Candidates {
		assert.LessOrEqual(t, c.UnitPrice, max)
	}
	// Ordered by similarity descending.
	assert.Equal(t, cherry.ID, result.Candidates[0].ID)
	assert.Equal(t, spinach.ID, result.Candidates[1].ID)
}

func TestRetriever_NegationExclusion(t *testing.T) {
	store := catalog.NewMemoryStore()
	jasmine := catalog.Entry{
		ID: uuid.New(), TenantID: testTenant, Name: "Jasmine Rice",
		Description: "fragrant Thai rice", UnitPrice: 42, StockQuantity: 80,
		Sellable: true, Embedding: []float32{1, 0, 0},
	}
	brown := catalog.Entry{
		ID: uuid.New(), TenantID: testTenant, Name: "Brown Rice",
		Description: "whole-grain rice", UnitPrice: 38, StockQuantity: 120,
		Sellable: true, Embedding: []float32{0.9, 0.1, 0},
	}
	store.Add(jasmine, brown)

	emb := &stubEmbedder{vectors: map[string][]float32{"rice": {1, 0, 0}}}
	r := newTestRetriever(store, emb)

	result, err := r.Retrieve(context.Background(), testTenant,
		intent.StructuredQuery{ProductTerms: []string{"rice"}},
		intent.RetrievalFilters{NegatedTerms: []string{"jasmine"}})
	require.NoError(t, err)

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, brown.ID, result.Candidates[0].ID)

	require.Len(t, result.Excluded, 1)
	assert.Equal(t, jasmine.ID, result.Excluded[0].ID)
	assert.Equal(t, "Jasmine Rice", result.Excluded[0].Name)
	assert.Equal(t, "jasmine", result.Excluded[0].NegatedTerm)
}

func TestRetriever_RankStabilityUnderNegation(t *testing.T) {
	store := catalog.NewMemoryStore()
	seedVegetables(store)
	// One more entry ranked between spinach and kale that negation removes.
	store.Add(catalog.Entry{
		ID: uuid.New(), TenantID: testTenant, Name: "Spicy Mix",
		Description: "spicy vegetable mix", UnitPrice: 50, StockQuantity: 5,
		Sellable: true, Embedding: []float32{0.85, 0.15, 0},
	})

	emb := &stubEmbedder{vectors: map[string][]float32{"vegetables": {1, 0, 0}}}
	r := newTestRetriever(store, emb)

	before, err := r.Retrieve(context.Background(), testTenant,
		intent.StructuredQuery{ProductTerms: []string{"vegetables"}},
		intent.RetrievalFilters{})
	require.NoError(t, err)

	after, err := r.Retrieve(context.Background(), testTenant,
		intent.StructuredQuery{ProductTerms: []string{"vegetables"}},
		intent.RetrievalFilters{NegatedTerms: []string{"spicy"}})
	require.NoError(t, err)

	var expected []uuid.UUID
	for _, c := range before.Candidates {
		if c.Name != "Spicy Mix" {
			expected = append(expected, c.ID)
		}
	}
	var got []uuid.UUID
	for _, c := range after.Candidates {
		got = append(got, c.ID)
	}
	assert.Equal(t, expected, got)
}

func TestRetriever_SkipsUnsellableAndUnembedded(t *testing.T) {
	store := catalog.NewMemoryStore()
	store.Add(
		catalog.Entry{ID: uuid.New(), TenantID: testTenant, Name: "Display Basket",
			UnitPrice: 150, Sellable: false, Embedding: []float32{1, 0, 0}},
		catalog.Entry{ID: uuid.New(), TenantID: testTenant, Name: "New Arrival",
			UnitPrice: 20, Sellable: true, Embedding: nil},
	)

	emb := &stubEmbedder{}
	r := newTestRetriever(store, emb)

	result, err := r.Retrieve(context.Background(), testTenant,
		intent.StructuredQuery{ProductTerms: []string{"basket"}}, intent.RetrievalFilters{})
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
}

func TestRetriever_TenantScoping(t *testing.T) {
	store := catalog.NewMemoryStore()
	store.Add(catalog.Entry{
		ID: uuid.New(), TenantID: "tenant-b", Name: "Brown Rice",
		UnitPrice: 38, Sellable: true, Embedding: []float32{1, 0, 0},
	})

	r := newTestRetriever(store, &stubEmbedder{})
	result, err := r.Retrieve(context.Background(), testTenant,
		intent.StructuredQuery{ProductTerms: []string{"rice"}}, intent.RetrievalFilters{})
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
}

func TestRetriever_EmbeddingFailureIsFatal(t *testing.T) {
	store := catalog.NewMemoryStore()
	seedVegetables(store)

	r := newTestRetriever(store, &stubEmbedder{err: assert.AnError})

	result, err := r.Retrieve(context.Background(), testTenant,
		intent.StructuredQuery{ProductTerms: []string{"vegetables"}}, intent.RetrievalFilters{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.Empty(t, result.Candidates)
}

func TestRetriever_StoreFailureIsFatal(t *testing.T) {
	store := catalog.NewMemoryStore()
	store.SearchErr = assert.AnError

	r := newTestRetriever(store, &stubEmbedder{})

	_, err := r.Retrieve(context.Background(), testTenant,
		intent.StructuredQuery{ProductTerms: []string{"vegetables"}}, intent.RetrievalFilters{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
}

func TestRetriever_LimitCapsCandidates(t *testing.T) {
	store := catalog.NewMemoryStore()
	for i := 0; i < 15; i++ {
		store.Add(catalog.Entry{
			ID: uuid.New(), TenantID: testTenant, Name: "Item",
			UnitPrice: 10, Sellable: true, Embedding: []float32{1, 0, float32(i) / 100},
		})
	}

	r := newTestRetriever(store, &stubEmbedder{})
	result, err := r.Retrieve(context.Background(), testTenant,
		intent.StructuredQuery{ProductTerms: []string{"item"}}, intent.RetrievalFilters{})
	require.NoError(t, err)
	assert.Len(t, result.Candidates, 10)
}
