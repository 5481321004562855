package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestMapFilters_ProjectsBoundsAndTerms(t *testing.T) {
	q := StructuredQuery{
		PriceMin:     floatPtr(10),
		PriceMax:     floatPtr(50),
		NegatedTerms: []string{"jasmine"},
	}

	filters, err := MapFilters(q)
	require.NoError(t, err)

	require.NotNil(t, filters.PriceMin)
	require.NotNil(t, filters.PriceMax)
	assert.Equal(t, 10.0, *filters.PriceMin)
	assert.Equal(t, 50.0, *filters.PriceMax)
	assert.Equal(t, []string{"jasmine"}, filters.NegatedTerms)
}

func TestMapFilters_NoBounds(t *testing.T) {
	filters, err := MapFilters(StructuredQuery{})
	require.NoError(t, err)
	assert.Nil(t, filters.PriceMin)
	assert.Nil(t, filters.PriceMax)
	assert.Empty(t, filters.NegatedTerms)
}

func TestMapFilters_MalformedBounds(t *testing.T) {
	tests := []struct {
		name string
		q    StructuredQuery
	}{
		{"negative min", StructuredQuery{PriceMin: floatPtr(-1)}},
		{"negative max", StructuredQuery{PriceMax: floatPtr(-5)}},
		{"min above max", StructuredQuery{PriceMin: floatPtr(100), PriceMax: floatPtr(50)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MapFilters(tt.q)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestMapFilters_CopiesNegatedTerms(t *testing.T) {
	terms := []string{"jasmine"}
	filters, err := MapFilters(StructuredQuery{NegatedTerms: terms})
	require.NoError(t, err)

	terms[0] = "mutated"
	assert.Equal(t, "jasmine", filters.NegatedTerms[0])
}

func TestRetrievalFilters_Describe(t *testing.T) {
	assert.Equal(t, "", RetrievalFilters{}.Describe())
	assert.Equal(t, "price at most 50.00", RetrievalFilters{PriceMax: floatPtr(50)}.Describe())
	assert.Equal(t, "price at least 10.00", RetrievalFilters{PriceMin: floatPtr(10)}.Describe())
	assert.Equal(t, "price between 10.00 and 50.00",
		RetrievalFilters{PriceMin: floatPtr(10), PriceMax: floatPtr(50)}.Describe())
}
