package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryRequest is the body of POST /api/query. PreviousContext is empty on
// the first turn and must otherwise be echoed verbatim from the previous
// response's NewContext.
type QueryRequest struct {
	UserInput       string        `json:"user_input" binding:"required"`
	PreviousContext SearchContext `json:"previous_context"`
}

type QueryResponse struct {
	Products   []ValidatedProduct `json:"products"`
	Summary    *string            `json:"summary"`
	NewContext SearchContext      `json:"new_context"`
	RequestID  string             `json:"request_id"`
	TotalTime  *float64           `json:"total_time_ms,omitempty"`
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

type PipelineStatus string

const (
	PipelineStatusPending   PipelineStatus = "pending"
	PipelineStatusCompleted PipelineStatus = "completed"
	PipelineStatusFailed    PipelineStatus = "failed"
)

type Stage string

const (
	StageParseQuery    Stage = "parse_query"
	StageFetchListings Stage = "fetch_listings"
	StageScore         Stage = "score"
	StageValidateTopN  Stage = "validate_top_n"
	StageSummarize     Stage = "summarize"
)

type StageStats struct {
	Stage     Stage         `json:"stage"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
}

type ProcessingStats struct {
	TotalDuration   time.Duration        `json:"total_duration"`
	StageStats      map[Stage]StageStats `json:"stage_stats"`
	ListingsFetched int                  `json:"listings_fetched,omitempty"`
	ListingsRanked  int                  `json:"listings_ranked,omitempty"`
	ValidationCalls int                  `json:"validation_calls,omitempty"`
	CacheHit        bool                 `json:"cache_hit,omitempty"`
}

// PipelineContext is the per-request working state of one pipeline pass.
// It lives only for the duration of the request; cross-turn state travels
// in SearchContext.
type PipelineContext struct {
	RequestID       string             `json:"request_id"`
	UserInput       string             `json:"user_input"`
	PreviousContext SearchContext      `json:"previous_context"`
	ParsedQuery     ParsedQuery        `json:"parsed_query"`
	Listings        []Product          `json:"listings,omitempty"`
	Ranked          []ScoredProduct    `json:"ranked,omitempty"`
	Validated       []ValidatedProduct `json:"validated,omitempty"`
	Summary         *string            `json:"summary,omitempty"`
	Status          PipelineStatus     `json:"status"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         *time.Time         `json:"end_time,omitempty"`
	Stats           ProcessingStats    `json:"stats"`
}

func NewPipelineContext(req QueryRequest, requestID string) *PipelineContext {
	return &PipelineContext{
		RequestID:       requestID,
		UserInput:       req.UserInput,
		PreviousContext: req.PreviousContext,
		Status:          PipelineStatusPending,
		StartTime:       time.Now(),
		Stats: ProcessingStats{
			StageStats: make(map[Stage]StageStats),
		},
	}
}

func (pc *PipelineContext) MarkCompleted() {
	pc.Status = PipelineStatusCompleted
	now := time.Now()
	pc.EndTime = &now
	pc.Stats.TotalDuration = time.Since(pc.StartTime)
}

func (pc *PipelineContext) MarkFailed() {
	pc.Status = PipelineStatusFailed
	now := time.Now()
	pc.EndTime = &now
	pc.Stats.TotalDuration = time.Since(pc.StartTime)
}

func (pc *PipelineContext) RecordStage(stage Stage, start time.Time, status string) {
	pc.Stats.StageStats[stage] = StageStats{
		Stage:     stage,
		Duration:  time.Since(start),
		Status:    status,
		StartTime: start,
		EndTime:   time.Now(),
	}
}

func GenerateRequestID() string {
	return uuid.New().String()
}
