package services_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cartscout/internal/models"
	"cartscout/internal/services"
)

// concurrentClient answers every relevance check with a fixed verdict or
// error, counting calls. Safe for the validator's fan-out.
type concurrentClient struct {
	mu     sync.Mutex
	calls  int
	answer string
	err    error
}

func (c *concurrentClient) Complete(_ context.Context, req *services.CompletionRequest) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.answer, c.err
}

func (c *concurrentClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func scoredFixture(n int) []models.ScoredProduct {
	products := make([]models.ScoredProduct, n)
	for i := range products {
		products[i] = models.ScoredProduct{
			Product: models.Product{Title: "kettle " + strings.Repeat("x", i+1), URL: "u"},
			Score:   1 - float64(i)*0.01,
		}
	}
	return products
}

func TestValidateTopAnnotatesTopN(t *testing.T) {
	client := &concurrentClient{answer: "yes"}
	cfg := testPipelineConfig()
	cfg.TopNForValidation = 3
	validator := services.NewValidatorService(client, cfg, testLogger(t))

	results := validator.ValidateTop(context.Background(), scoredFixture(10), "electric kettle")

	if len(results) != 10 {
		t.Fatalf("validation changed result count: %d", len(results))
	}
	for i, p := range results {
		if i < 3 && !p.Validated {
			t.Errorf("position %d within top-N not validated", i)
		}
		if i >= 3 && p.Validated {
			t.Errorf("position %d beyond top-N marked validated", i)
		}
		if !p.Relevant && i >= 3 {
			t.Errorf("unvalidated position %d lost its fail-open relevance", i)
		}
	}
	if client.callCount() != 3 {
		t.Errorf("expected 3 model calls, got %d", client.callCount())
	}
}

func TestValidateTopMarksIrrelevant(t *testing.T) {
	client := &concurrentClient{answer: "no"}
	cfg := testPipelineConfig()
	cfg.TopNForValidation = 2
	validator := services.NewValidatorService(client, cfg, testLogger(t))

	results := validator.ValidateTop(context.Background(), scoredFixture(2), "electric kettle")
	for i, p := range results {
		if !p.Validated {
			t.Errorf("position %d not validated", i)
		}
		if p.Relevant {
			t.Errorf("position %d kept relevant despite a no verdict", i)
		}
	}
}

func TestValidateTopFailsOpen(t *testing.T) {
	client := &concurrentClient{err: errors.New("provider down")}
	validator := services.NewValidatorService(client, testPipelineConfig(), testLogger(t))

	scored := scoredFixture(8)
	results := validator.ValidateTop(context.Background(), scored, "electric kettle")

	if len(results) != len(scored) {
		t.Fatalf("fail-open validation dropped products: %d of %d", len(results), len(scored))
	}
	for i, p := range results {
		if p.Validated {
			t.Errorf("position %d marked validated despite total failure", i)
		}
		if !p.Relevant {
			t.Errorf("position %d dropped relevance on failure", i)
		}
	}
}

// blockingClient never answers until its context is cancelled.
type blockingClient struct {
	mu    sync.Mutex
	calls int
}

func (c *blockingClient) Complete(ctx context.Context, _ *services.CompletionRequest) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	<-ctx.Done()
	return "", ctx.Err()
}

func TestValidateTopDeadlineFailsOpen(t *testing.T) {
	client := &blockingClient{}
	cfg := testPipelineConfig()
	cfg.TopNForValidation = 10
	cfg.ValidationConcurrency = 2
	cfg.ValidationTimeout = 200 * time.Millisecond
	validator := services.NewValidatorService(client, cfg, testLogger(t))

	scored := scoredFixture(10)
	start := time.Now()
	results := validator.ValidateTop(context.Background(), scored, "electric kettle")
	elapsed := time.Since(start)

	if len(results) != len(scored) {
		t.Fatalf("deadline dropped products: %d of %d", len(results), len(scored))
	}
	for i, p := range results {
		if p.Validated {
			t.Errorf("position %d marked validated despite the deadline", i)
		}
		if !p.Relevant {
			t.Errorf("position %d lost fail-open relevance on deadline", i)
		}
	}
	if elapsed > 2*time.Second {
		t.Errorf("stage did not honor its deadline, took %v", elapsed)
	}
}

func TestValidateTopPreservesOrder(t *testing.T) {
	client := &concurrentClient{answer: "yes"}
	validator := services.NewValidatorService(client, testPipelineConfig(), testLogger(t))

	scored := scoredFixture(6)
	results := validator.ValidateTop(context.Background(), scored, "electric kettle")
	for i := range results {
		if results[i].Title != scored[i].Title {
			t.Fatalf("order changed at position %d", i)
		}
	}
}

func TestValidateTopGarbledVerdictFailsOpen(t *testing.T) {
	client := &concurrentClient{answer: "perhaps"}
	cfg := testPipelineConfig()
	cfg.TopNForValidation = 1
	validator := services.NewValidatorService(client, cfg, testLogger(t))

	results := validator.ValidateTop(context.Background(), scoredFixture(1), "electric kettle")
	if results[0].Validated {
		t.Error("garbled verdict counted as validated")
	}
	if !results[0].Relevant {
		t.Error("garbled verdict dropped the product")
	}
	// One retry per candidate.
	if client.callCount() != 2 {
		t.Errorf("expected 2 attempts, got %d", client.callCount())
	}
}

func TestValidateTopEmptyInput(t *testing.T) {
	client := &concurrentClient{answer: "yes"}
	validator := services.NewValidatorService(client, testPipelineConfig(), testLogger(t))

	results := validator.ValidateTop(context.Background(), nil, "electric kettle")
	if len(results) != 0 {
		t.Fatalf("expected empty output, got %d", len(results))
	}
	if client.callCount() != 0 {
		t.Error("empty input should make no model calls")
	}
}
