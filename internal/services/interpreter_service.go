package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cartscout/internal/config"
	"cartscout/internal/models"
	"cartscout/internal/pkg/logger"
)

// InterpreterService turns a raw user utterance plus the previous turn's
// context into a fully merged ParsedQuery. The model only ever produces a
// delta; all merging is deterministic and happens here, so a flaky model can
// never silently drop a constraint the user set two turns ago.
type InterpreterService struct {
	llm    CompletionClient
	config config.PipelineConfig
	logger *logger.Logger
}

// llmQueryUpdate is the JSON contract with the model. Every field is optional;
// omitted fields mean "keep whatever the previous turn had".
type llmQueryUpdate struct {
	SearchTerm  *string                   `json:"search_term"`
	NewSubject  bool                      `json:"new_subject"`
	Filters     *models.FiltersUpdate     `json:"filters"`
	Preferences *models.PreferencesUpdate `json:"preferences"`
}

func NewInterpreterService(llm CompletionClient, cfg config.PipelineConfig, log *logger.Logger) *InterpreterService {
	return &InterpreterService{
		llm:    llm,
		config: cfg,
		logger: log,
	}
}

// Interpret parses one conversational turn. A first turn (empty previous
// context) must yield a usable search term; a follow-up turn is interpreted
// as a delta against prev and merged deterministically.
func (service *InterpreterService) Interpret(ctx context.Context, utterance string, prev models.SearchContext) (models.ParsedQuery, error) {
	startTime := time.Now()

	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return models.ParsedQuery{}, models.NewParseError("EMPTY_QUERY", "empty query")
	}

	parseCtx, cancel := context.WithTimeout(ctx, service.config.ParseTimeout)
	defer cancel()

	parsed, err := service.parseTurn(parseCtx, utterance, prev)
	if err != nil {
		// One clean retry for any output that fails the structured contract,
		// malformed JSON and missing search term alike. Transport retries
		// already happened inside the completion client.
		service.logger.Warn("query parse failed, retrying once", "error", err.Error())
		parsed, err = service.parseTurn(parseCtx, utterance, prev)
	}
	if err != nil {
		service.logger.LogService("interpreter", "interpret", time.Since(startTime), nil, err)
		return models.ParsedQuery{}, models.NewParseError("PARSE_FAILED", "could not interpret query").WithCause(err)
	}

	service.logger.LogService("interpreter", "interpret", time.Since(startTime), map[string]any{
		"search_term": parsed.SearchTerm,
		"features":    len(parsed.Preferences.Features),
	}, nil)

	return parsed, nil
}

// parseTurn is one full parse attempt: model call, schema validation, and the
// deterministic merge. Everything here is retryable as a unit; a response
// that parses as JSON but yields no usable search term is just as broken as
// unparseable output.
func (service *InterpreterService) parseTurn(ctx context.Context, utterance string, prev models.SearchContext) (models.ParsedQuery, error) {
	update, err := service.requestUpdate(ctx, utterance, prev)
	if err != nil {
		return models.ParsedQuery{}, err
	}
	return service.merge(update, prev)
}

func (service *InterpreterService) requestUpdate(ctx context.Context, utterance string, prev models.SearchContext) (*llmQueryUpdate, error) {
	req := &CompletionRequest{
		Temperature: 0,
		JSONOutput:  true,
	}

	if prev.IsEmpty() {
		req.TemplateID = TemplateQueryParser
		req.Variables = map[string]string{"user_input": utterance}
	} else {
		req.TemplateID = TemplateQueryParserFollowUp
		req.Variables = map[string]string{
			"user_input":      utterance,
			"search_term":     prev.SearchTerm,
			"filters":         marshalForPrompt(prev.Filters),
			"preferences":     marshalForPrompt(prev.Preferences),
			"results_summary": prev.ResultsSummary,
		}
	}

	raw, err := service.llm.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var update llmQueryUpdate
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &update); err != nil {
		return nil, fmt.Errorf("malformed parser output: %w", err)
	}
	if err := validateUpdate(&update); err != nil {
		return nil, err
	}
	return &update, nil
}

// merge applies the turn's delta to the previous context. A subject change
// discards old filters and preferences; otherwise every untouched field
// carries over verbatim.
func (service *InterpreterService) merge(update *llmQueryUpdate, prev models.SearchContext) (models.ParsedQuery, error) {
	base := prev
	if update.NewSubject {
		base = models.SearchContext{}
	}

	parsed := models.ParsedQuery{
		SearchTerm:  base.SearchTerm,
		Filters:     base.Filters,
		Preferences: base.Preferences,
	}
	if update.SearchTerm != nil && strings.TrimSpace(*update.SearchTerm) != "" {
		parsed.SearchTerm = strings.TrimSpace(*update.SearchTerm)
	}
	if parsed.SearchTerm == "" {
		return models.ParsedQuery{}, models.NewParseError("NO_SEARCH_TERM", "no search term in query")
	}

	if update.Filters != nil {
		parsed.Filters = parsed.Filters.MergedWith(*update.Filters)
	}
	if update.Preferences != nil {
		parsed.Preferences = parsed.Preferences.MergedWith(*update.Preferences)
	}
	return parsed, nil
}

func validateUpdate(update *llmQueryUpdate) error {
	if update.Filters == nil {
		return nil
	}
	f := update.Filters
	if f.SortBy != nil && !f.SortBy.Valid() {
		return fmt.Errorf("unknown sort option %q", *f.SortBy)
	}
	if f.PriceMin != nil && *f.PriceMin < 0 {
		return fmt.Errorf("negative price_min %v", *f.PriceMin)
	}
	if f.PriceMax != nil && *f.PriceMax < 0 {
		return fmt.Errorf("negative price_max %v", *f.PriceMax)
	}
	if f.MinRating != nil && (*f.MinRating < 0 || *f.MinRating > 5) {
		return fmt.Errorf("min_rating %v out of range", *f.MinRating)
	}
	if f.MinReviews != nil && *f.MinReviews < 0 {
		return fmt.Errorf("negative min_reviews %v", *f.MinReviews)
	}
	return nil
}

func marshalForPrompt(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// stripCodeFence tolerates models that wrap JSON in markdown fences despite
// being asked for a bare object.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}
