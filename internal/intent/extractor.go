// Package intent turns free-text customer messages into structured queries
// and projects them into retrieval constraints.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cwf-platform/shop-assistant/internal/conversation"
	"github.com/cwf-platform/shop-assistant/internal/llm"
	"github.com/cwf-platform/shop-assistant/internal/observability"
	"github.com/cwf-platform/shop-assistant/internal/retry"
)

// Errors surfaced by this package. Both are fatal to the turn.
var (
	// ErrBadCompletion indicates the completion service returned output that
	// does not decode into the expected schema.
	ErrBadCompletion = errors.New("unparsable intent completion")
	// ErrInvalidQuery indicates a malformed structured query reached the
	// filter mapper.
	ErrInvalidQuery = errors.New("invalid structured query")
)

// Class is the classified intent of a customer message.
type Class string

const (
	ClassProductSearch Class = "PRODUCT_SEARCH"
	ClassGeneralChat   Class = "GENERAL_CHAT"
	ClassGreeting      Class = "GREETING"
	ClassHelp          Class = "HELP"
	ClassUnknown       Class = "UNKNOWN"
)

// StructuredQuery is the per-turn structured form of a customer message.
// Created fresh each turn and never persisted.
type StructuredQuery struct {
	Intent         Class
	ProductTerms   []string
	PriceMin       *float64
	PriceMax       *float64
	NegatedTerms   []string // case-folded, deduplicated
	ExtractedQuery string
}

// SearchTerms returns the space-joined product terms, falling back to the
// extracted query when no terms were identified.
func (q StructuredQuery) SearchTerms() string {
	if len(q.ProductTerms) > 0 {
		return strings.Join(q.ProductTerms, " ")
	}
	return q.ExtractedQuery
}

// RetrievalFilters is the pure projection of a StructuredQuery used by the
// retriever. Stateless value object.
type RetrievalFilters struct {
	PriceMin     *float64
	PriceMax     *float64
	NegatedTerms []string
}

// Describe renders the price bounds for humans; empty when no bounds are set.
func (f RetrievalFilters) Describe() string {
	switch {
	case f.PriceMin != nil && f.PriceMax != nil:
		return fmt.Sprintf("price between %.2f and %.2f", *f.PriceMin, *f.PriceMax)
	case f.PriceMin != nil:
		return fmt.Sprintf("price at least %.2f", *f.PriceMin)
	case f.PriceMax != nil:
		return fmt.Sprintf("price at most %.2f", *f.PriceMax)
	default:
		return ""
	}
}

// Extractor derives structured queries via the completion service. The
// transport call retries on transient failures; a completion that arrives
// but fails the schema never retries.
type Extractor struct {
	completions llm.CompletionClient
	logger      *observability.Logger
	historyMax  int
	retry       retry.Policy
}

// NewExtractor creates an intent extractor. historyMax caps the turns
// embedded as context.
func NewExtractor(completions llm.CompletionClient, logger *observability.Logger, historyMax int, retryPolicy retry.Policy) *Extractor {
	if historyMax <= 0 {
		historyMax = 4
	}
	return &Extractor{
		completions: completions,
		logger:      logger,
		historyMax:  historyMax,
		retry:       retryPolicy,
	}
}

const extractorSystemPrompt = `You extract shopping intent from customer messages.
Reply with a single JSON object and nothing else:
{
  "intent": "PRODUCT_SEARCH" | "GENERAL_CHAT" | "GREETING" | "HELP" | "UNKNOWN",
  "productTerms": ["term", ...],
  "priceConstraints": {"min": number or null, "max": number or null},
  "negatedTerms": ["term the customer excluded", ...],
  "extractedQuery": "a short standalone search query for the message"
}
Use the conversation context to resolve references like "the first one" or
"cheaper ones". Negated terms are things the customer explicitly does not
want. Prices are plain numbers in the catalog currency.`

// completionPayload mirrors the JSON contract demanded from the model.
type completionPayload struct {
	Intent           string   `json:"intent"`
	ProductTerms     []string `json:"productTerms"`
	PriceConstraints struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	} `json:"priceConstraints"`
	NegatedTerms   []string `json:"negatedTerms"`
	ExtractedQuery string   `json:"extractedQuery"`
}

// Extract derives a StructuredQuery for the message, using at most the last
// historyMax turns as context. Malformed completions fail with
// ErrBadCompletion; the orchestrator surfaces that as a pipeline failure.
func (e *Extractor) Extract(ctx context.Context, message string, window conversation.Window) (StructuredQuery, error) {
	messages := []llm.Message{{Role: "system", Content: extractorSystemPrompt}}

	for _, turn := range window.Trim(e.historyMax) {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Text})
	}
	messages = append(messages, llm.Message{Role: "user", Content: message})

	var completion string
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		var compErr error
		completion, compErr = e.completions.Complete(ctx, messages)
		return compErr
	})
	if err != nil {
		return StructuredQuery{}, fmt.Errorf("intent completion: %w", err)
	}

	payload, err := decodePayload(completion)
	if err != nil {
		e.logger.WithContext(ctx).Warn().
			Err(err).
			Str("completion", truncate(completion, 200)).
			Msg("intent completion did not match schema")
		return StructuredQuery{}, fmt.Errorf("%w: %v", ErrBadCompletion, err)
	}

	query := StructuredQuery{
		Intent:         classFor(payload.Intent),
		ProductTerms:   cleanTerms(payload.ProductTerms),
		PriceMin:       payload.PriceConstraints.Min,
		PriceMax:       payload.PriceConstraints.Max,
		NegatedTerms:   foldTerms(payload.NegatedTerms),
		ExtractedQuery: strings.TrimSpace(payload.ExtractedQuery),
	}

	e.logger.WithContext(ctx).Debug().
		Str("intent", string(query.Intent)).
		Strs("product_terms", query.ProductTerms).
		Strs("negated_terms", query.NegatedTerms).
		Msg("extracted structured query")

	return query, nil
}

// decodePayload strictly decodes the completion into the expected schema.
// A surrounding markdown fence is tolerated; anything else is a schema error.
func decodePayload(completion string) (completionPayload, error) {
	var payload completionPayload

	raw := strings.TrimSpace(completion)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode: %v", err)
	}

	if payload.Intent == "" {
		return payload, errors.New("missing intent field")
	}

	return payload, nil
}

// classFor maps a completion intent string onto the Class enum; anything
// unrecognized is UNKNOWN, which is a classification, not a schema failure.
func classFor(s string) Class {
	switch Class(strings.ToUpper(strings.TrimSpace(s))) {
	case ClassProductSearch:
		return ClassProductSearch
	case ClassGeneralChat:
		return ClassGeneralChat
	case ClassGreeting:
		return ClassGreeting
	case ClassHelp:
		return ClassHelp
	default:
		return ClassUnknown
	}
}

// cleanTerms trims and drops empty terms, preserving order.
func cleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// foldTerms case-folds, trims, and deduplicates negated terms, preserving
// first-seen order.
func foldTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// truncate cuts s to at most n bytes, never splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
