// Package compose turns a candidate set into user-facing text and a product
// selection via the completion service.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cwf-platform/shop-assistant/internal/intent"
	"github.com/cwf-platform/shop-assistant/internal/llm"
	"github.com/cwf-platform/shop-assistant/internal/observability"
	"github.com/cwf-platform/shop-assistant/internal/retrieval"
	"github.com/cwf-platform/shop-assistant/internal/retry"
)

// EmptyResultMessage is returned when no candidates survived retrieval.
// This branch makes no completion call.
const EmptyResultMessage = "Nothing matches right now, want help finding something else?"

// fallbackSelection caps how many products the templated fallback surfaces.
const fallbackSelection = 3

// Response is the composer's output. ProductIDs are untrusted until the
// orchestrator intersects them with the real candidate set.
type Response struct {
	Text         string
	ProductIDs   []uuid.UUID
	UsedFallback bool
}

// Composer narrates retrieval results.
type Composer struct {
	completions llm.CompletionClient
	logger      *observability.Logger
	retry       retry.Policy
}

// NewComposer creates a response composer.
func NewComposer(completions llm.CompletionClient, logger *observability.Logger, retryPolicy retry.Policy) *Composer {
	return &Composer{
		completions: completions,
		logger:      logger,
		retry:       retryPolicy,
	}
}

const composerSystemPrompt = `You are a shopping assistant replying to a customer.
Rules:
- Reply in the customer's language.
- Keep the reply to 1-2 sentences.
- Pick 2-3 product ids from the candidate list to display.
- Respond with a single JSON object and nothing else:
  {"text": "your reply", "productIds": ["id", ...]}`

type composerPayload struct {
	Text       string   `json:"text"`
	ProductIDs []string `json:"productIds"`
}

// Compose produces the turn's reply. An empty candidate list short-circuits
// to the fixed no-match message; a missing or unparsable completion degrades
// to a templated count message over the top-ranked products. Neither path is
// an error.
func (c *Composer) Compose(ctx context.Context, userMessage string, views []retrieval.ProductView, query intent.StructuredQuery, filters intent.RetrievalFilters, excluded []retrieval.ExcludedCandidate) Response {
	if len(views) == 0 {
		return Response{Text: EmptyResultMessage}
	}

	prompt := c.buildContext(userMessage, views, filters, excluded)

	var completion string
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		var compErr error
		completion, compErr = c.completions.Complete(ctx, []llm.Message{
			{Role: "system", Content: composerSystemPrompt},
			{Role: "user", Content: prompt},
		})
		return compErr
	})
	if err != nil {
		c.logger.WithContext(ctx).Warn().
			Err(err).
			Msg("composition completion failed, using templated reply")
		return c.fallback(views)
	}

	payload, err := decodePayload(completion)
	if err != nil {
		c.logger.WithContext(ctx).Warn().
			Err(err).
			Msg("composition completion unparsable, using templated reply")
		return c.fallback(views)
	}

	ids := make([]uuid.UUID, 0, len(payload.ProductIDs))
	for _, raw := range payload.ProductIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			// Hallucinated or mangled id; the orchestrator re-validates the
			// survivors anyway.
			continue
		}
		ids = append(ids, id)
	}

	return Response{Text: strings.TrimSpace(payload.Text), ProductIDs: ids}
}

// buildContext enumerates the candidates, the applied price filter, and the
// negation exclusions for the model.
func (c *Composer) buildContext(userMessage string, views []retrieval.ProductView, filters intent.RetrievalFilters, excluded []retrieval.ExcludedCandidate) string {
	var b strings.Builder

	b.WriteString("Customer message: ")
	b.WriteString(userMessage)
	b.WriteString("\n\nCandidate products:\n")
	for _, v := range views {
		fmt.Fprintf(&b, "- %s (price %.2f) [%s]\n", v.Name, v.Price, v.ID)
	}

	if desc := filters.Describe(); desc != "" {
		b.WriteString("\nApplied filter: ")
		b.WriteString(desc)
		b.WriteString("\n")
	}

	if len(excluded) > 0 {
		b.WriteString("\nExcluded per customer request:\n")
		for _, ex := range excluded {
			fmt.Fprintf(&b, "- %s (matched %q)\n", ex.Name, ex.NegatedTerm)
		}
	}

	return b.String()
}

// fallback builds the templated count reply over the first candidates by
// existing rank order.
func (c *Composer) fallback(views []retrieval.ProductView) Response {
	n := len(views)
	if n > fallbackSelection {
		n = fallbackSelection
	}
	ids := make([]uuid.UUID, 0, n)
	for _, v := range views[:n] {
		ids = append(ids, v.ID)
	}
	return Response{
		Text:         fmt.Sprintf("Found %d items for you.", len(views)),
		ProductIDs:   ids,
		UsedFallback: true,
	}
}

func decodePayload(completion string) (composerPayload, error) {
	var payload composerPayload

	raw := strings.TrimSpace(completion)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, fmt.Errorf("decode: %v", err)
	}

	if payload.Text == "" {
		return payload, fmt.Errorf("missing text field")
	}

	return payload, nil
}
