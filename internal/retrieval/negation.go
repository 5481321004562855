// Package retrieval executes hybrid catalog retrieval: vector-similarity
// ranking under scalar filters, followed by negation filtering.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cwf-platform/shop-assistant/internal/catalog"
	"github.com/cwf-platform/shop-assistant/internal/embedding"
)

// NegationFilter decides whether a candidate matches one of the customer's
// negated terms. Implementations must be deterministic for a given input.
type NegationFilter interface {
	// Match returns the first negated term the candidate matches, or
	// ok = false when the candidate survives.
	Match(ctx context.Context, entry catalog.SimilarEntry, negatedTerms []string) (term string, ok bool, err error)
}

// SubstringFilter excludes candidates whose name or description contains a
// negated term, case-insensitively. Cheap and deterministic; this is the
// default strategy.
type SubstringFilter struct{}

// NewSubstringFilter creates the default negation filter.
func NewSubstringFilter() *SubstringFilter {
	return &SubstringFilter{}
}

// Match tests the negated terms in order against name + " " + description.
func (f *SubstringFilter) Match(_ context.Context, entry catalog.SimilarEntry, negatedTerms []string) (string, bool, error) {
	if len(negatedTerms) == 0 {
		return "", false, nil
	}

	haystack := strings.ToLower(entry.Name + " " + entry.Description)
	for _, term := range negatedTerms {
		if term == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(term)) {
			return term, true, nil
		}
	}
	return "", false, nil
}

// EmbeddingThresholdFilter excludes candidates whose text embeds within a
// cosine-similarity threshold of a negated term. Costs one embedding call
// per previously unseen term; trades latency for recall on paraphrased
// negations. One instance is shared across concurrent turns, so the term
// memo is guarded.
type EmbeddingThresholdFilter struct {
	embedder  embedding.Embedder
	threshold float64

	mu       sync.Mutex
	termVecs map[string][]float32
}

// NewEmbeddingThresholdFilter creates the embedding-based strategy.
func NewEmbeddingThresholdFilter(embedder embedding.Embedder, threshold float64) *EmbeddingThresholdFilter {
	if threshold <= 0 {
		threshold = 0.8
	}
	return &EmbeddingThresholdFilter{
		embedder:  embedder,
		threshold: threshold,
		termVecs:  make(map[string][]float32),
	}
}

// Match embeds each negated term once and compares it against the
// candidate's name and description embedding.
func (f *EmbeddingThresholdFilter) Match(ctx context.Context, entry catalog.SimilarEntry, negatedTerms []string) (string, bool, error) {
	if len(negatedTerms) == 0 {
		return "", false, nil
	}

	entryVec, err := f.embedder.EmbedSingle(ctx, entry.Name+" "+entry.Description)
	if err != nil {
		return "", false, fmt.Errorf("embed candidate text: %w", err)
	}

	for _, term := range negatedTerms {
		if term == "" {
			continue
		}
		vec, err := f.termVec(ctx, term)
		if err != nil {
			return "", false, fmt.Errorf("embed negated term %q: %w", term, err)
		}

		similarity := float64(1 - embedding.CosineDistance(entryVec, vec))
		if similarity >= f.threshold {
			return term, true, nil
		}
	}
	return "", false, nil
}

// termVec returns the memoized embedding for a negated term, embedding it on
// first sight. The embedding call happens outside the lock so concurrent
// turns never serialize on the network; a duplicate embed for the same term
// is harmless, the vectors are identical.
func (f *EmbeddingThresholdFilter) termVec(ctx context.Context, term string) ([]float32, error) {
	f.mu.Lock()
	vec, cached := f.termVecs[term]
	f.mu.Unlock()
	if cached {
		return vec, nil
	}

	vec, err := f.embedder.EmbedSingle(ctx, term)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.termVecs[term] = vec
	f.mu.Unlock()
	return vec, nil
}

// Ensure implementations satisfy interface.
var (
	_ NegationFilter = (*SubstringFilter)(nil)
	_ NegationFilter = (*EmbeddingThresholdFilter)(nil)
)
