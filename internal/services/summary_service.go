package services

import (
	"context"
	"strings"
	"time"

	"cartscout/internal/config"
	"cartscout/internal/models"
	"cartscout/internal/pkg/logger"
)

// SummaryService produces the optional natural-language wrap-up of a result
// set. It is the most expendable stage in the pipeline; callers absorb its
// errors and ship results without a summary.
type SummaryService struct {
	llm    CompletionClient
	config config.PipelineConfig
	logger *logger.Logger
}

func NewSummaryService(llm CompletionClient, cfg config.PipelineConfig, log *logger.Logger) *SummaryService {
	return &SummaryService{
		llm:    llm,
		config: cfg,
		logger: log,
	}
}

// Summarize returns a short prose summary of the top results, or "" with no
// error for an empty result set.
func (service *SummaryService) Summarize(ctx context.Context, searchTerm string, results models.RankedResultSet) (string, error) {
	if len(results.Products) == 0 {
		return "", nil
	}

	startTime := time.Now()
	sumCtx, cancel := context.WithTimeout(ctx, service.config.SummaryTimeout)
	defer cancel()

	summary, err := service.llm.Complete(sumCtx, &CompletionRequest{
		TemplateID: TemplateResultsSummarizer,
		Variables: map[string]string{
			"search_term":    searchTerm,
			"product_digest": results.Digest(service.config.DigestItems),
		},
		Temperature: 0.3,
	})

	duration := time.Since(startTime)
	if err != nil {
		service.logger.LogService("summarizer", "summarize", duration, nil, err)
		return "", models.NewSummaryError("SUMMARY_FAILED", "summary generation failed").WithCause(err)
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		service.logger.LogService("summarizer", "summarize", duration, nil, nil)
		return "", models.NewSummaryError("EMPTY_SUMMARY", "empty summary returned")
	}

	service.logger.LogService("summarizer", "summarize", duration, map[string]any{
		"summary_length": len(summary),
	}, nil)

	return summary, nil
}
