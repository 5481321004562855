package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cwf-platform/shop-assistant/internal/catalog"
	"github.com/cwf-platform/shop-assistant/internal/embedding"
	"github.com/cwf-platform/shop-assistant/internal/intent"
	"github.com/cwf-platform/shop-assistant/internal/observability"
	"github.com/cwf-platform/shop-assistant/internal/retry"
)

// ErrRetrieval indicates an embedding-service or retrieval-store failure.
// Fatal to the turn; there is no cached or stale fallback.
var ErrRetrieval = errors.New("retrieval failed")

// ExcludedCandidate records a candidate removed by negation filtering,
// with the first negated term that matched. Kept only for narration.
type ExcludedCandidate struct {
	ID          uuid.UUID
	Name        string
	NegatedTerm string
}

// Result is the retriever's output: similarity-ranked survivors plus the
// candidates negation removed. Survivor order equals pre-filter rank order.
type Result struct {
	Candidates []catalog.SimilarEntry
	Excluded   []ExcludedCandidate
}

// Retriever embeds the search terms and runs the hybrid catalog query.
type Retriever struct {
	store    catalog.Store
	embedder embedding.Embedder
	negation NegationFilter
	logger   *observability.Logger
	limit    int
	retry    retry.Policy
}

// Config holds retriever settings.
type Config struct {
	// Limit caps the candidate set before negation filtering. Default 10.
	Limit int
	// Retry bounds the embedding call. Zero value means no retries.
	Retry retry.Policy
}

// NewRetriever creates a hybrid retriever.
func NewRetriever(store catalog.Store, embedder embedding.Embedder, negation NegationFilter, logger *observability.Logger, cfg Config) *Retriever {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if negation == nil {
		negation = NewSubstringFilter()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		negation: negation,
		logger:   logger,
		limit:    cfg.Limit,
		retry:    cfg.Retry,
	}
}

// Retrieve embeds the query's search terms, ranks tenant-scoped sellable
// products by similarity under the price filters, and applies negation
// filtering. The surviving order is the pre-negation rank order; removal
// never re-sorts.
func (r *Retriever) Retrieve(ctx context.Context, tenantID string, query intent.StructuredQuery, filters intent.RetrievalFilters) (Result, error) {
	terms := query.SearchTerms()

	var queryVec []float32
	err := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		var embErr error
		queryVec, embErr = r.embedder.EmbedSingle(ctx, terms)
		return embErr
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: embed search terms: %v", ErrRetrieval, err)
	}

	ranked, err := r.store.SearchSimilar(ctx, tenantID, queryVec, catalog.SearchFilters{
		PriceMin: filters.PriceMin,
		PriceMax: filters.PriceMax,
	}, r.limit)
	if err != nil {
		return Result{}, fmt.Errorf("%w: similarity query: %v", ErrRetrieval, err)
	}

	result := Result{Candidates: make([]catalog.SimilarEntry, 0, len(ranked))}
	for _, candidate := range ranked {
		term, matched, err := r.negation.Match(ctx, candidate, filters.NegatedTerms)
		if err != nil {
			return Result{}, fmt.Errorf("%w: negation filter: %v", ErrRetrieval, err)
		}
		if matched {
			result.Excluded = append(result.Excluded, ExcludedCandidate{
				ID:          candidate.ID,
				Name:        candidate.Name,
				NegatedTerm: term,
			})
			continue
		}
		result.Candidates = append(result.Candidates, candidate)
	}

	r.logger.WithContext(ctx).Debug().
		Str("search_terms", terms).
		Int("ranked", len(ranked)).
		Int("survivors", len(result.Candidates)).
		Int("excluded", len(result.Excluded)).
		Msg("hybrid retrieval complete")

	return result, nil
}
