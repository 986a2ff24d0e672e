package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"cartscout/internal/config"
	"cartscout/internal/models"
	"cartscout/internal/pkg/logger"
)

// Stage seams of the pipeline. The orchestrator only ever talks to these,
// which keeps the stage machine testable with hand-rolled fakes.
type QueryInterpreter interface {
	Interpret(ctx context.Context, utterance string, prev models.SearchContext) (models.ParsedQuery, error)
}

type ListingFetcher interface {
	FetchListings(ctx context.Context, searchTerm string, filters models.Filters) ([]models.Product, error)
}

type ProductRanker interface {
	Rank(products []models.Product, filters models.Filters, prefs models.Preferences) []models.ScoredProduct
}

type RelevanceValidator interface {
	ValidateTop(ctx context.Context, scored []models.ScoredProduct, searchTerm string) []models.ValidatedProduct
}

type Summarizer interface {
	Summarize(ctx context.Context, searchTerm string, results models.RankedResultSet) (string, error)
}

type ListingCache interface {
	Get(ctx context.Context, searchTerm string, filters models.Filters) ([]models.Product, bool)
	Put(ctx context.Context, searchTerm string, filters models.Filters, products []models.Product)
}

// Orchestrator runs one full pipeline pass per request:
// parse -> fetch -> score -> validate -> summarize -> respond.
// Parse and fetch failures abort the request; validation and summary
// failures degrade it. All conversational state rides in the request's
// SearchContext, so any instance can serve any turn.
type Orchestrator struct {
	interpreter QueryInterpreter
	fetcher     ListingFetcher
	ranker      ProductRanker
	validator   RelevanceValidator
	summarizer  Summarizer
	cache       ListingCache

	config config.PipelineConfig
	logger *logger.Logger

	activeRequests sync.Map // request_id -> *models.PipelineContext
	closing        chan struct{}
	closeOnce      sync.Once
	inFlight       sync.WaitGroup

	startTime time.Time

	statsMu         sync.Mutex
	totalRequests   int64
	failedRequests  int64
	cacheHits       int64
	summaryFailures int64
}

func NewOrchestrator(
	interpreter QueryInterpreter,
	fetcher ListingFetcher,
	ranker ProductRanker,
	validator RelevanceValidator,
	summarizer Summarizer,
	cache ListingCache,
	cfg config.PipelineConfig,
	log *logger.Logger) *Orchestrator {

	orchestrator := &Orchestrator{
		interpreter: interpreter,
		fetcher:     fetcher,
		ranker:      ranker,
		validator:   validator,
		summarizer:  summarizer,
		cache:       cache,
		config:      cfg,
		logger:      log,
		closing:     make(chan struct{}),
		startTime:   time.Now(),
	}

	log.Info("Orchestrator initialized",
		"top_n_for_validation", cfg.TopNForValidation,
		"validation_concurrency", cfg.ValidationConcurrency,
		"request_timeout", cfg.RequestTimeout.String())

	return orchestrator
}

var ErrShuttingDown = errors.New("server is shutting down")

func (orchestrator *Orchestrator) ExecuteQuery(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	select {
	case <-orchestrator.closing:
		return nil, ErrShuttingDown
	default:
	}
	orchestrator.inFlight.Add(1)
	defer orchestrator.inFlight.Done()

	requestID := models.GenerateRequestID()
	pipelineCtx := models.NewPipelineContext(*req, requestID)

	orchestrator.activeRequests.Store(requestID, pipelineCtx)
	defer orchestrator.activeRequests.Delete(requestID)

	orchestrator.logger.LogRequest(requestID, "query_started", 0, nil)
	orchestrator.countRequest()

	runCtx, cancel := context.WithTimeout(ctx, orchestrator.config.RequestTimeout)
	defer cancel()

	err := orchestrator.runPipeline(runCtx, pipelineCtx)
	duration := time.Since(pipelineCtx.StartTime)

	if err != nil {
		pipelineCtx.MarkFailed()
		orchestrator.countFailure()
		orchestrator.logger.LogRequest(requestID, "query_failed", duration, err)
		return nil, err
	}

	pipelineCtx.MarkCompleted()
	orchestrator.logger.LogRequest(requestID, "query_completed", duration, nil)

	results := models.RankedResultSet{Products: pipelineCtx.Validated, Summary: pipelineCtx.Summary}
	totalTimeMs := float64(duration.Milliseconds())

	return &models.QueryResponse{
		Products:   pipelineCtx.Validated,
		Summary:    pipelineCtx.Summary,
		NewContext: models.NewSearchContext(pipelineCtx.ParsedQuery, results.Digest(orchestrator.config.DigestItems)),
		RequestID:  requestID,
		TotalTime:  &totalTimeMs,
	}, nil
}

func (orchestrator *Orchestrator) runPipeline(ctx context.Context, pipelineCtx *models.PipelineContext) error {
	// Parse. Fatal on failure; without a structured query nothing downstream
	// can run.
	stageStart := time.Now()
	parsed, err := orchestrator.interpreter.Interpret(ctx, pipelineCtx.UserInput, pipelineCtx.PreviousContext)
	if err != nil {
		orchestrator.finishStage(pipelineCtx, models.StageParseQuery, stageStart, "failed", err)
		return err
	}
	pipelineCtx.ParsedQuery = parsed
	orchestrator.finishStage(pipelineCtx, models.StageParseQuery, stageStart, "completed", nil)

	// Fetch. Also fatal: an empty result page is fine, an unreachable source
	// is not.
	stageStart = time.Now()
	listings, cacheHit := orchestrator.fetchListings(ctx, parsed)
	if listings == nil && !cacheHit {
		fetchCtx, cancelFetch := context.WithTimeout(ctx, orchestrator.config.FetchTimeout)
		var fetchErr error
		listings, fetchErr = orchestrator.fetcher.FetchListings(fetchCtx, parsed.SearchTerm, parsed.Filters)
		cancelFetch()
		if fetchErr != nil {
			orchestrator.finishStage(pipelineCtx, models.StageFetchListings, stageStart, "failed", fetchErr)
			return fetchErr
		}
		if orchestrator.cache != nil {
			orchestrator.cache.Put(ctx, parsed.SearchTerm, parsed.Filters, listings)
		}
	}
	pipelineCtx.Listings = listings
	pipelineCtx.Stats.ListingsFetched = len(listings)
	pipelineCtx.Stats.CacheHit = cacheHit
	orchestrator.finishStage(pipelineCtx, models.StageFetchListings, stageStart, "completed", nil)

	// Score. Pure and local; cannot fail.
	stageStart = time.Now()
	pipelineCtx.Ranked = orchestrator.ranker.Rank(listings, parsed.Filters, parsed.Preferences)
	pipelineCtx.Stats.ListingsRanked = len(pipelineCtx.Ranked)
	orchestrator.finishStage(pipelineCtx, models.StageScore, stageStart, "completed", nil)

	// Validate. Advisory; the validator absorbs its own failures fail-open.
	stageStart = time.Now()
	pipelineCtx.Validated = orchestrator.validator.ValidateTop(ctx, pipelineCtx.Ranked, parsed.SearchTerm)
	calls := orchestrator.config.TopNForValidation
	if len(pipelineCtx.Ranked) < calls {
		calls = len(pipelineCtx.Ranked)
	}
	pipelineCtx.Stats.ValidationCalls = calls
	orchestrator.finishStage(pipelineCtx, models.StageValidateTopN, stageStart, "completed", nil)

	// Summarize. Optional; a failed summary ships as nil.
	stageStart = time.Now()
	summary, err := orchestrator.summarizer.Summarize(ctx, parsed.SearchTerm, models.RankedResultSet{Products: pipelineCtx.Validated})
	if err != nil {
		orchestrator.countSummaryFailure()
		orchestrator.finishStage(pipelineCtx, models.StageSummarize, stageStart, "degraded", err)
	} else {
		if summary != "" {
			pipelineCtx.Summary = &summary
		}
		orchestrator.finishStage(pipelineCtx, models.StageSummarize, stageStart, "completed", nil)
	}

	return nil
}

// finishStage records the stage outcome on the pipeline context and emits the
// matching structured log line.
func (orchestrator *Orchestrator) finishStage(pipelineCtx *models.PipelineContext, stage models.Stage, start time.Time, status string, err error) {
	pipelineCtx.RecordStage(stage, start, status)
	orchestrator.logger.LogStage(pipelineCtx.RequestID, string(stage), time.Since(start), map[string]any{
		"status": status,
	}, err)
}

func (orchestrator *Orchestrator) fetchListings(ctx context.Context, parsed models.ParsedQuery) ([]models.Product, bool) {
	if orchestrator.cache == nil {
		return nil, false
	}
	listings, ok := orchestrator.cache.Get(ctx, parsed.SearchTerm, parsed.Filters)
	if !ok {
		return nil, false
	}
	orchestrator.countCacheHit()
	return listings, true
}

type OrchestratorStats struct {
	Uptime          string `json:"uptime"`
	ActiveRequests  int    `json:"active_requests"`
	TotalRequests   int64  `json:"total_requests"`
	FailedRequests  int64  `json:"failed_requests"`
	CacheHits       int64  `json:"cache_hits"`
	SummaryFailures int64  `json:"summary_failures"`
}

func (orchestrator *Orchestrator) GetStats() OrchestratorStats {
	active := 0
	orchestrator.activeRequests.Range(func(_, _ any) bool {
		active++
		return true
	})

	orchestrator.statsMu.Lock()
	defer orchestrator.statsMu.Unlock()
	return OrchestratorStats{
		Uptime:          time.Since(orchestrator.startTime).Round(time.Second).String(),
		ActiveRequests:  active,
		TotalRequests:   orchestrator.totalRequests,
		FailedRequests:  orchestrator.failedRequests,
		CacheHits:       orchestrator.cacheHits,
		SummaryFailures: orchestrator.summaryFailures,
	}
}

// Close stops admitting new requests and waits for in-flight ones, up to the
// deadline on ctx.
func (orchestrator *Orchestrator) Close(ctx context.Context) error {
	orchestrator.closeOnce.Do(func() { close(orchestrator.closing) })

	drained := make(chan struct{})
	go func() {
		orchestrator.inFlight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		orchestrator.logger.Info("Orchestrator drained cleanly")
		return nil
	case <-ctx.Done():
		return models.NewTimeoutError("SHUTDOWN_TIMEOUT", "in-flight requests did not drain").WithCause(ctx.Err())
	}
}

func (orchestrator *Orchestrator) countRequest() {
	orchestrator.statsMu.Lock()
	orchestrator.totalRequests++
	orchestrator.statsMu.Unlock()
}

func (orchestrator *Orchestrator) countFailure() {
	orchestrator.statsMu.Lock()
	orchestrator.failedRequests++
	orchestrator.statsMu.Unlock()
}

func (orchestrator *Orchestrator) countCacheHit() {
	orchestrator.statsMu.Lock()
	orchestrator.cacheHits++
	orchestrator.statsMu.Unlock()
}

func (orchestrator *Orchestrator) countSummaryFailure() {
	orchestrator.statsMu.Lock()
	orchestrator.summaryFailures++
	orchestrator.statsMu.Unlock()
}
