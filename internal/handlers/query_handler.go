package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cartscout/internal/models"
	"cartscout/internal/pkg/logger"
	"cartscout/internal/services"
)

type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error)
	GetStats() services.OrchestratorStats
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type QueryHandler struct {
	executor QueryExecutor
	checkers map[string]HealthChecker
	logger   *logger.Logger
}

func NewQueryHandler(executor QueryExecutor, checkers map[string]HealthChecker, log *logger.Logger) *QueryHandler {
	return &QueryHandler{
		executor: executor,
		checkers: checkers,
		logger:   log,
	}
}

// ExecuteQuery handles POST /api/query. The client owns the conversation:
// it sends the previous turn's context back with each new utterance and
// stores the context this handler returns.
func (handler *QueryHandler) ExecuteQuery(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Details: map[string]any{"binding": err.Error()},
		})
		return
	}

	resp, err := handler.executor.ExecuteQuery(c.Request.Context(), &req)
	if err != nil {
		handler.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// writeError maps the pipeline's error taxonomy onto HTTP statuses. Only
// parse and fetch errors reach here by design; anything else is a server
// fault.
func (handler *QueryHandler) writeError(c *gin.Context, err error) {
	var appErr *models.AppError
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, services.ErrShuttingDown):
		status = http.StatusServiceUnavailable
		message = "server is shutting down"
	case models.IsParseError(err):
		status = http.StatusUnprocessableEntity
		message = "could not interpret query"
	case models.IsFetchError(err):
		status = http.StatusBadGateway
		message = "could not fetch listings"
	}

	details := map[string]any{}
	if errors.As(err, &appErr) {
		details["type"] = string(appErr.Type)
		details["message"] = appErr.Message
	}

	handler.logger.WithError(err).Error("query request failed", "status", status)
	c.JSON(status, models.ErrorResponse{Error: message, Details: details})
}

// Health handles GET /health, checking each registered dependency with a
// short deadline. Any failing dependency turns the report degraded.
func (handler *QueryHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	healthy := true
	components := make(map[string]string, len(handler.checkers))
	for name, checker := range handler.checkers {
		if err := checker.HealthCheck(ctx); err != nil {
			healthy = false
			components[name] = err.Error()
		} else {
			components[name] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(status, gin.H{
		"status":     state,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats handles GET /stats.
func (handler *QueryHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, handler.executor.GetStats())
}
