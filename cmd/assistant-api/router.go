// Package main provides the API router setup.
package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cwf-platform/shop-assistant/internal/assistant"
	"github.com/cwf-platform/shop-assistant/internal/intent"
	"github.com/cwf-platform/shop-assistant/internal/observability"
	"github.com/cwf-platform/shop-assistant/internal/retrieval"
	"github.com/cwf-platform/shop-assistant/internal/session"
)

// NewRouter creates the API router.
func NewRouter(logger *observability.Logger, pipeline *assistant.Pipeline, sessions session.Store) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"shop-assistant"}`))
	})

	h := &chatHandler{logger: logger, pipeline: pipeline, sessions: sessions}
	r.Post("/v1/chat", h.handle)

	return r
}

type chatHandler struct {
	logger   *observability.Logger
	pipeline *assistant.Pipeline
	sessions session.Store
}

type chatRequest struct {
	TenantID       string `json:"tenantId"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

type chatResponse struct {
	Text            string                   `json:"text"`
	Products        []retrieval.ProductView  `json:"products"`
	FiltersApplied  filtersPayload           `json:"filtersApplied"`
	StructuredQuery queryPayload             `json:"structuredQuery"`
	TraceID         string                   `json:"traceId"`
	ElapsedMs       int64                    `json:"elapsedMs"`
	UsedFallback    bool                     `json:"usedFallback"`
	Excluded        []excludedPayload        `json:"excluded,omitempty"`
	Stages          []assistant.StageTiming  `json:"stages,omitempty"`
}

type filtersPayload struct {
	PriceMin     *float64 `json:"priceMin"`
	PriceMax     *float64 `json:"priceMax"`
	NegatedTerms []string `json:"negatedTerms"`
}

type queryPayload struct {
	Intent         string   `json:"intent"`
	ProductTerms   []string `json:"productTerms"`
	PriceMin       *float64 `json:"priceMin"`
	PriceMax       *float64 `json:"priceMax"`
	NegatedTerms   []string `json:"negatedTerms"`
	ExtractedQuery string   `json:"extractedQuery"`
}

type excludedPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NegatedTerm string `json:"negatedTerm"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	TraceID string `json:"traceId,omitempty"`
}

func (h *chatHandler) handle(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "bad_request"})
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" || req.TenantID == "" || req.ConversationID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "tenantId, conversationId, and message are required", Code: "bad_request"})
		return
	}

	ctx := r.Context()

	window, err := h.sessions.Load(ctx, req.ConversationID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		h.logger.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("Session load failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "session unavailable", Code: "session_error"})
		return
	}

	result, err := h.pipeline.Execute(ctx, req.Message, req.TenantID, window)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{
			Error:   "something went wrong, please try again",
			Code:    codeFor(err),
			TraceID: result.TraceID,
		})
		return
	}

	if err := h.sessions.Save(ctx, req.ConversationID, result.Window); err != nil {
		// The turn already succeeded; losing one window update only costs
		// context on the next turn.
		h.logger.Warn().Err(err).Str("conversation_id", req.ConversationID).Msg("Session save failed")
	}

	writeJSON(w, http.StatusOK, buildResponse(result))
}

func buildResponse(result assistant.Result) chatResponse {
	resp := chatResponse{
		Text:     result.Text,
		Products: result.Products,
		FiltersApplied: filtersPayload{
			PriceMin:     result.FiltersApplied.PriceMin,
			PriceMax:     result.FiltersApplied.PriceMax,
			NegatedTerms: result.FiltersApplied.NegatedTerms,
		},
		StructuredQuery: queryPayload{
			Intent:         string(result.Query.Intent),
			ProductTerms:   result.Query.ProductTerms,
			PriceMin:       result.Query.PriceMin,
			PriceMax:       result.Query.PriceMax,
			NegatedTerms:   result.Query.NegatedTerms,
			ExtractedQuery: result.Query.ExtractedQuery,
		},
		TraceID:      result.TraceID,
		ElapsedMs:    result.Elapsed.Milliseconds(),
		UsedFallback: result.UsedFallback,
		Stages:       result.Stages,
	}
	if resp.Products == nil {
		resp.Products = []retrieval.ProductView{}
	}
	for _, ex := range result.Excluded {
		resp.Excluded = append(resp.Excluded, excludedPayload{
			ID:          ex.ID.String(),
			Name:        ex.Name,
			NegatedTerm: ex.NegatedTerm,
		})
	}
	return resp
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, intent.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, intent.ErrBadCompletion), errors.Is(err, retrieval.ErrRetrieval):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, intent.ErrBadCompletion):
		return "bad_completion"
	case errors.Is(err, intent.ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, retrieval.ErrRetrieval):
		return "retrieval_error"
	default:
		return "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
