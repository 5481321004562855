package intent

import "fmt"

// MapFilters projects a StructuredQuery into RetrievalFilters. Pure; the
// only failure mode is a malformed query, reported as ErrInvalidQuery.
func MapFilters(q StructuredQuery) (RetrievalFilters, error) {
	if q.PriceMin != nil && *q.PriceMin < 0 {
		return RetrievalFilters{}, fmt.Errorf("%w: negative price minimum %v", ErrInvalidQuery, *q.PriceMin)
	}
	if q.PriceMax != nil && *q.PriceMax < 0 {
		return RetrievalFilters{}, fmt.Errorf("%w: negative price maximum %v", ErrInvalidQuery, *q.PriceMax)
	}
	if q.PriceMin != nil && q.PriceMax != nil && *q.PriceMin > *q.PriceMax {
		return RetrievalFilters{}, fmt.Errorf("%w: price minimum %v above maximum %v", ErrInvalidQuery, *q.PriceMin, *q.PriceMax)
	}

	negated := make([]string, len(q.NegatedTerms))
	copy(negated, q.NegatedTerms)

	return RetrievalFilters{
		PriceMin:     q.PriceMin,
		PriceMax:     q.PriceMax,
		NegatedTerms: negated,
	}, nil
}
