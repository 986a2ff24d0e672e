package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"cartscout/internal/config"
	"cartscout/internal/models"
	"cartscout/internal/pkg/logger"
)

// CompletionClient is the single seam to the language-model provider. The
// pipeline only ever exchanges rendered prompt templates for raw text; the
// callers own parsing and schema validation of whatever comes back.
type CompletionClient interface {
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
}

type CompletionRequest struct {
	TemplateID  string
	Variables   map[string]string
	Temperature float32
	MaxTokens   int
	JSONOutput  bool
}

type LLMService struct {
	client  *openai.Client
	config  config.LLMConfig
	logger  *logger.Logger
	breaker *gobreaker.CircuitBreaker
}

func NewLLMService(cfg config.LLMConfig, log *logger.Logger) (*LLMService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("LLM API key required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("LLM circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	service := &LLMService{
		client:  openai.NewClientWithConfig(clientCfg),
		config:  cfg,
		logger:  log,
		breaker: breaker,
	}

	log.Info("LLM service initialized",
		"model", cfg.Model,
		"max_retries", cfg.MaxRetries,
		"timeout", cfg.Timeout.String())

	return service, nil
}

func (service *LLMService) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	startTime := time.Now()

	systemPrompt, userPrompt, err := renderTemplate(req.TemplateID, req.Variables)
	if err != nil {
		return "", err
	}

	operation := func() (string, error) {
		result, err := service.breaker.Execute(func() (interface{}, error) {
			return service.makeCompletionRequest(ctx, req, systemPrompt, userPrompt)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return "", backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return result.(string), nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond

	content, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(service.config.MaxRetries)))

	duration := time.Since(startTime)
	if err != nil {
		service.logger.LogService("llm", "complete", duration, map[string]any{
			"template_id": req.TemplateID,
			"max_tries":   service.config.MaxRetries,
		}, err)
		return "", models.WrapExternalError("LLM", err)
	}

	service.logger.LogService("llm", "complete", duration, map[string]any{
		"template_id":     req.TemplateID,
		"response_length": len(content),
	}, nil)

	return content, nil
}

func (service *LLMService) makeCompletionRequest(ctx context.Context, req *CompletionRequest, systemPrompt, userPrompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, service.config.Timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model: service.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	} else {
		chatReq.MaxTokens = service.config.MaxTokens
	}
	if req.JSONOutput {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := service.client.CreateChatCompletion(callCtx, chatReq)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (service *LLMService) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := service.client.ListModels(checkCtx); err != nil {
		return fmt.Errorf("LLM provider unreachable: %w", err)
	}
	return nil
}
