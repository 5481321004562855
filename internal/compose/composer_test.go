package compose

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwf-platform/shop-assistant/internal/intent"
	"github.com/cwf-platform/shop-assistant/internal/llm"
	"github.com/cwf-platform/shop-assistant/internal/observability"
	"github.com/cwf-platform/shop-assistant/internal/retrieval"
	"github.com/cwf-platform/shop-assistant/internal/retry"
)

func testViews(n int) []retrieval.ProductView {
	views := make([]retrieval.ProductView, 0, n)
	for i := 0; i < n; i++ {
		views = append(views, retrieval.ProductView{
			ID:    uuid.New(),
			Name:  fmt.Sprintf("Product %d", i+1),
			Price: float64(10 * (i + 1)),
		})
	}
	return views
}

func newTestComposer(fake *llm.FakeClient) *Composer {
	return NewComposer(fake, observability.Nop(), retry.Policy{MaxAttempts: 1})
}

func TestCompose_EmptyCandidates_NoCompletionCall(t *testing.T) {
	fake := &llm.FakeClient{}
	c := newTestComposer(fake)

	resp := c.Compose(context.Background(), "show me unicorns", nil,
		intent.StructuredQuery{}, intent.RetrievalFilters{}, nil)

	assert.Equal(t, EmptyResultMessage, resp.Text)
	assert.Empty(t, resp.ProductIDs)
	assert.False(t, resp.UsedFallback)
	assert.Empty(t, fake.Calls)
}

func TestCompose_WellFormedCompletion(t *testing.T) {
	views := testViews(3)
	fake := &llm.FakeClient{Completions: []string{
		fmt.Sprintf(`{"text":"Here are two good options.","productIds":["%s","%s"]}`,
			views[1].ID, views[0].ID),
	}}
	c := newTestComposer(fake)

	resp := c.Compose(context.Background(), "rice", views,
		intent.StructuredQuery{}, intent.RetrievalFilters{}, nil)

	assert.Equal(t, "Here are two good options.", resp.Text)
	assert.Equal(t, []uuid.UUID{views[1].ID, views[0].ID}, resp.ProductIDs)
	assert.False(t, resp.UsedFallback)
}

func TestCompose_FencedCompletion(t *testing.T) {
	views := testViews(1)
	fake := &llm.FakeClient{Completions: []string{
		fmt.Sprintf("```json\n{\"text\":\"One match.\",\"productIds\":[\"%s\"]}\n```", views[0].ID),
	}}
	c := newTestComposer(fake)

	resp := c.Compose(context.Background(), "rice", views,
		intent.StructuredQuery{}, intent.RetrievalFilters{}, nil)

	assert.Equal(t, "One match.", resp.Text)
	assert.Equal(t, []uuid.UUID{views[0].ID}, resp.ProductIDs)
}

func TestCompose_UnparsableCompletion_Fallback(t *testing.T) {
	views := testViews(5)
	fake := &llm.FakeClient{Completions: []string{"Sure, take a look at these!"}}
	c := newTestComposer(fake)

	resp := c.Compose(context.Background(), "rice", views,
		intent.StructuredQuery{}, intent.RetrievalFilters{}, nil)

	assert.Equal(t, "Found 5 items for you.", resp.Text)
	assert.True(t, resp.UsedFallback)
	// First 3 by rank order.
	require.Len(t, resp.ProductIDs, 3)
	assert.Equal(t, views[0].ID, resp.ProductIDs[0])
	assert.Equal(t, views[1].ID, resp.ProductIDs[1])
	assert.Equal(t, views[2].ID, resp.ProductIDs[2])
}

func TestCompose_CompletionError_Fallback(t *testing.T) {
	views := testViews(2)
	fake := &llm.FakeClient{Err: assert.AnError}
	c := newTestComposer(fake)

	resp := c.Compose(context.Background(), "rice", views,
		intent.StructuredQuery{}, intent.RetrievalFilters{}, nil)

	assert.Equal(t, "Found 2 items for you.", resp.Text)
	assert.True(t, resp.UsedFallback)
	assert.Len(t, resp.ProductIDs, 2)
}

func TestCompose_DropsMangledIDs(t *testing.T) {
	views := testViews(1)
	fake := &llm.FakeClient{Completions: []string{
		fmt.Sprintf(`{"text":"ok","productIds":["not-a-uuid","%s"]}`, views[0].ID),
	}}
	c := newTestComposer(fake)

	resp := c.Compose(context.Background(), "rice", views,
		intent.StructuredQuery{}, intent.RetrievalFilters{}, nil)

	assert.Equal(t, []uuid.UUID{views[0].ID}, resp.ProductIDs)
}

func TestCompose_ContextIncludesFiltersAndExclusions(t *testing.T) {
	views := testViews(2)
	max := 50.0
	fake := &llm.FakeClient{Completions: []string{
		fmt.Sprintf(`{"text":"ok","productIds":["%s"]}`, views[0].ID),
	}}
	c := newTestComposer(fake)

	excluded := []retrieval.ExcludedCandidate{
		{ID: uuid.New(), Name: "Jasmine Rice", NegatedTerm: "jasmine"},
	}
	c.Compose(context.Background(), "rice under 50, no jasmine", views,
		intent.StructuredQuery{}, intent.RetrievalFilters{PriceMax: &max}, excluded)

	require.Len(t, fake.Calls, 1)
	prompt := fake.Calls[0][len(fake.Calls[0])-1].Content
	assert.Contains(t, prompt, "Product 1")
	assert.Contains(t, prompt, views[0].ID.String())
	assert.Contains(t, prompt, "price at most 50.00")
	assert.Contains(t, prompt, "Jasmine Rice")
	assert.Contains(t, prompt, `"jasmine"`)
}
