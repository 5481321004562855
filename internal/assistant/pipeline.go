// Package assistant sequences a single conversational search turn through
// intent extraction, filter mapping, hybrid retrieval, formatting, and
// response composition.
package assistant

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cwf-platform/shop-assistant/internal/compose"
	"github.com/cwf-platform/shop-assistant/internal/conversation"
	"github.com/cwf-platform/shop-assistant/internal/intent"
	"github.com/cwf-platform/shop-assistant/internal/observability"
	"github.com/cwf-platform/shop-assistant/internal/retrieval"
)

// Stage identifies one step of the turn pipeline.
type Stage string

const (
	StageRewriting   Stage = "rewriting"
	StageFiltering   Stage = "filtering"
	StageRetrieval   Stage = "retrieval"
	StageFormatting  Stage = "formatting"
	StageComposition Stage = "composition"
	StageDone        Stage = "done"
)

// defaultHistoryWindow caps the conversation window at two exchanges.
const defaultHistoryWindow = 4

// surfacedFallback caps how many products are surfaced when the composer's
// selection survives validation empty-handed.
const surfacedFallback = 3

// StageTiming records how long one stage took.
type StageTiming struct {
	Stage   Stage         `json:"stage"`
	Elapsed time.Duration `json:"elapsed"`
}

// Result is the assembled payload for one completed turn.
type Result struct {
	Text           string
	Products       []retrieval.ProductView
	FiltersApplied intent.RetrievalFilters
	Query          intent.StructuredQuery
	Excluded       []retrieval.ExcludedCandidate
	TraceID        string
	Elapsed        time.Duration
	Stages         []StageTiming
	UsedFallback   bool

	// Window is the updated conversation window the caller should persist.
	// The inbound window is never mutated.
	Window conversation.Window
}

// Config holds the orchestrator's tunables.
type Config struct {
	HistoryWindow int           // turns kept in the window
	TurnDeadline  time.Duration // zero means no deadline
}

// Pipeline runs turns. Each execution is fully request-scoped; a single
// Pipeline is safe for concurrent use.
type Pipeline struct {
	extractor *intent.Extractor
	retriever *retrieval.Retriever
	composer  *compose.Composer
	logger    *observability.Logger
	cfg       Config
}

// NewPipeline wires the stage components into an orchestrator.
func NewPipeline(extractor *intent.Extractor, retriever *retrieval.Retriever, composer *compose.Composer, logger *observability.Logger, cfg Config) *Pipeline {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Pipeline{
		extractor: extractor,
		retriever: retriever,
		composer:  composer,
		logger:    logger,
		cfg:       cfg,
	}
}

// Execute runs one turn. Stages run strictly in order; the first stage error
// aborts the turn and is the single terminal error. The inbound window is
// treated as a value; the updated copy comes back in the result.
func (p *Pipeline) Execute(ctx context.Context, message, tenantID string, window conversation.Window) (Result, error) {
	traceID := uuid.NewString()
	ctx = observability.ContextWithTraceID(ctx, traceID)
	if p.cfg.TurnDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TurnDeadline)
		defer cancel()
	}

	log := p.logger.WithContext(ctx).WithTenant(tenantID)
	start := time.Now()
	res := Result{TraceID: traceID}

	log.Info().
		Str("message", message).
		Int("window_turns", len(window)).
		Msg("turn started")

	// Rewriting
	stageStart := time.Now()
	query, err := p.extractor.Extract(ctx, message, window)
	res.Stages = append(res.Stages, StageTiming{Stage: StageRewriting, Elapsed: time.Since(stageStart)})
	if err != nil {
		log.WithStage(string(StageRewriting)).Error().Err(err).Msg("turn failed")
		return res, err
	}
	res.Query = query
	log.WithStage(string(StageRewriting)).Debug().
		Str("intent", string(query.Intent)).
		Strs("product_terms", query.ProductTerms).
		Dur("elapsed", res.Stages[len(res.Stages)-1].Elapsed).
		Msg("intent extracted")

	// Filtering
	stageStart = time.Now()
	filters, err := intent.MapFilters(query)
	res.Stages = append(res.Stages, StageTiming{Stage: StageFiltering, Elapsed: time.Since(stageStart)})
	if err != nil {
		log.WithStage(string(StageFiltering)).Error().Err(err).Msg("turn failed")
		return res, err
	}
	res.FiltersApplied = filters

	// Retrieval
	stageStart = time.Now()
	retrieved, err := p.retriever.Retrieve(ctx, tenantID, query, filters)
	res.Stages = append(res.Stages, StageTiming{Stage: StageRetrieval, Elapsed: time.Since(stageStart)})
	if err != nil {
		log.WithStage(string(StageRetrieval)).Error().Err(err).Msg("turn failed")
		return res, err
	}
	res.Excluded = retrieved.Excluded
	log.WithStage(string(StageRetrieval)).Debug().
		Int("candidates", len(retrieved.Candidates)).
		Int("excluded", len(retrieved.Excluded)).
		Dur("elapsed", res.Stages[len(res.Stages)-1].Elapsed).
		Msg("catalog searched")

	// Formatting
	stageStart = time.Now()
	views := retrieval.FormatProducts(retrieved.Candidates)
	res.Stages = append(res.Stages, StageTiming{Stage: StageFormatting, Elapsed: time.Since(stageStart)})

	// Composition
	stageStart = time.Now()
	reply := p.composer.Compose(ctx, message, views, query, filters, retrieved.Excluded)
	res.Stages = append(res.Stages, StageTiming{Stage: StageComposition, Elapsed: time.Since(stageStart)})
	res.UsedFallback = reply.UsedFallback

	res.Text = reply.Text
	res.Products = p.selectProducts(views, reply.ProductIDs)
	res.Window = p.updateWindow(window, message, reply.Text, res.Products)
	res.Elapsed = time.Since(start)
	res.Stages = append(res.Stages, StageTiming{Stage: StageDone, Elapsed: res.Elapsed})

	log.WithStage(string(StageDone)).Info().
		Int("products", len(res.Products)).
		Bool("fallback", res.UsedFallback).
		Dur("elapsed", res.Elapsed).
		Msg("turn completed")

	return res, nil
}

// selectProducts intersects the composer's product ids with the real
// candidate set. The composer is untrusted here; hallucinated or duplicate
// ids are dropped, and an empty intersection surfaces the top-ranked views
// instead.
func (p *Pipeline) selectProducts(views []retrieval.ProductView, ids []uuid.UUID) []retrieval.ProductView {
	if len(views) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]retrieval.ProductView, len(views))
	for _, v := range views {
		byID[v.ID] = v
	}

	selected := make([]retrieval.ProductView, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		if v, ok := byID[id]; ok {
			selected = append(selected, v)
			seen[id] = struct{}{}
		}
	}

	if len(selected) == 0 {
		n := surfacedFallback
		if len(views) < n {
			n = len(views)
		}
		selected = append(selected, views[:n]...)
	}

	return selected
}

// updateWindow appends the exchange and trims to the configured bound.
func (p *Pipeline) updateWindow(window conversation.Window, message, replyText string, products []retrieval.ProductView) conversation.Window {
	names := make([]string, 0, len(products))
	for _, v := range products {
		names = append(names, v.Name)
	}

	return window.Append(
		conversation.Turn{Role: conversation.RoleUser, Text: message},
		conversation.Turn{Role: conversation.RoleAssistant, Text: replyText, ShownProductNames: names},
	).Trim(p.cfg.HistoryWindow)
}
