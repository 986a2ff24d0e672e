package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"cartscout/internal/config"
	"cartscout/internal/models"
	"cartscout/internal/pkg/logger"
)

// ValidatorService asks the model a yes/no relevance question for each of the
// top-N ranked products, fanned out under a bounded semaphore. The stage is
// strictly advisory: any failure, timeout or garbled answer leaves the
// product in place, fail-open, with Validated=false.
type ValidatorService struct {
	llm    CompletionClient
	config config.PipelineConfig
	logger *logger.Logger
}

func NewValidatorService(llm CompletionClient, cfg config.PipelineConfig, log *logger.Logger) *ValidatorService {
	return &ValidatorService{
		llm:    llm,
		config: cfg,
		logger: log,
	}
}

// ValidateTop annotates the first TopN products with a relevance verdict and
// passes the rest through untouched. Output order and length always equal the
// input's; validation never reorders or drops.
func (service *ValidatorService) ValidateTop(ctx context.Context, scored []models.ScoredProduct, searchTerm string) []models.ValidatedProduct {
	startTime := time.Now()

	results := make([]models.ValidatedProduct, len(scored))
	for i, p := range scored {
		// Fail-open defaults; goroutines overwrite on success.
		results[i] = models.ValidatedProduct{ScoredProduct: p, Relevant: true, Validated: false}
	}

	topN := service.config.TopNForValidation
	if topN > len(scored) {
		topN = len(scored)
	}
	if topN == 0 {
		return results
	}

	fanCtx, cancel := context.WithTimeout(ctx, service.config.ValidationTimeout)
	defer cancel()

	concurrency := service.config.ValidationConcurrency
	if topN < concurrency {
		concurrency = topN
	}
	semaphore := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	var validatedCount, irrelevantCount int64
	var mu sync.Mutex

	for i := 0; i < topN; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-fanCtx.Done():
				return
			}

			relevant, err := service.checkRelevance(fanCtx, searchTerm, scored[slot].Title)
			if err != nil {
				service.logger.Debug("relevance check failed, keeping product",
					"position", slot, "error", err.Error())
				return
			}

			results[slot].Relevant = relevant
			results[slot].Validated = true

			mu.Lock()
			validatedCount++
			if !relevant {
				irrelevantCount++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	service.logger.LogService("validator", "validate_top", time.Since(startTime), map[string]any{
		"candidates": topN,
		"validated":  validatedCount,
		"irrelevant": irrelevantCount,
	}, nil)

	return results
}

// checkRelevance retries a malformed answer once; transport-level retries
// already live inside the completion client.
func (service *ValidatorService) checkRelevance(ctx context.Context, searchTerm, title string) (bool, error) {
	verdict, err := service.askModel(ctx, searchTerm, title)
	if err != nil {
		verdict, err = service.askModel(ctx, searchTerm, title)
	}
	return verdict, err
}

func (service *ValidatorService) askModel(ctx context.Context, searchTerm, title string) (bool, error) {
	answer, err := service.llm.Complete(ctx, &CompletionRequest{
		TemplateID: TemplateRelevanceValidator,
		Variables: map[string]string{
			"search_term":   searchTerm,
			"product_title": title,
		},
		Temperature: 0,
		MaxTokens:   3,
	})
	if err != nil {
		return false, err
	}
	return parseYesNo(answer)
}

func parseYesNo(answer string) (bool, error) {
	cleaned := strings.ToLower(strings.Trim(strings.TrimSpace(answer), ".!\"'"))
	switch cleaned {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return false, models.NewValidationError("BAD_VERDICT", "unparseable relevance verdict: "+answer)
}
