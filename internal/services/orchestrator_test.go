package services_test

import (
	"context"
	"strings"
	"testing"

	"cartscout/internal/models"
	"cartscout/internal/services"
)

type stubInterpreter struct {
	parsed models.ParsedQuery
	err    error
}

func (s *stubInterpreter) Interpret(context.Context, string, models.SearchContext) (models.ParsedQuery, error) {
	return s.parsed, s.err
}

type stubFetcher struct {
	products []models.Product
	err      error
	calls    int
}

func (s *stubFetcher) FetchListings(context.Context, string, models.Filters) ([]models.Product, error) {
	s.calls++
	return s.products, s.err
}

type stubRanker struct{}

func (stubRanker) Rank(products []models.Product, _ models.Filters, _ models.Preferences) []models.ScoredProduct {
	scored := make([]models.ScoredProduct, len(products))
	for i, p := range products {
		scored[i] = models.ScoredProduct{Product: p, Score: 1 - float64(i)*0.1}
	}
	return scored
}

type stubValidator struct{}

func (stubValidator) ValidateTop(_ context.Context, scored []models.ScoredProduct, _ string) []models.ValidatedProduct {
	validated := make([]models.ValidatedProduct, len(scored))
	for i, p := range scored {
		validated[i] = models.ValidatedProduct{ScoredProduct: p, Relevant: true, Validated: true}
	}
	return validated
}

type stubSummarizer struct {
	summary string
	err     error
}

func (s *stubSummarizer) Summarize(context.Context, string, models.RankedResultSet) (string, error) {
	return s.summary, s.err
}

type stubCache struct {
	products []models.Product
	puts     int
}

func (s *stubCache) Get(context.Context, string, models.Filters) ([]models.Product, bool) {
	return s.products, s.products != nil
}

func (s *stubCache) Put(_ context.Context, _ string, _ models.Filters, _ []models.Product) {
	s.puts++
}

func kettleQuery() models.ParsedQuery {
	return models.ParsedQuery{
		SearchTerm:  "electric kettle",
		Preferences: models.Preferences{Features: []string{"stainless steel"}},
	}
}

func listings(n int) []models.Product {
	products := make([]models.Product, n)
	for i := range products {
		products[i] = models.Product{Title: "kettle", Price: "24.99", URL: "u"}
	}
	return products
}

func newTestOrchestrator(t *testing.T, interp services.QueryInterpreter, fetcher services.ListingFetcher, summarizer services.Summarizer, cache services.ListingCache) *services.Orchestrator {
	t.Helper()
	return services.NewOrchestrator(interp, fetcher, stubRanker{}, stubValidator{}, summarizer, cache, testPipelineConfig(), testLogger(t))
}

func TestExecuteQuerySuccess(t *testing.T) {
	fetcher := &stubFetcher{products: listings(4)}
	summarizer := &stubSummarizer{summary: "Four kettles around $25."}
	orch := newTestOrchestrator(t, &stubInterpreter{parsed: kettleQuery()}, fetcher, summarizer, &stubCache{})

	resp, err := orch.ExecuteQuery(context.Background(), &models.QueryRequest{UserInput: "a kettle"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Products) != 4 {
		t.Errorf("product count = %d", len(resp.Products))
	}
	if resp.Summary == nil || *resp.Summary == "" {
		t.Error("expected a summary")
	}
	if resp.NewContext.SearchTerm != "electric kettle" {
		t.Errorf("new context search term = %q", resp.NewContext.SearchTerm)
	}
	if !strings.Contains(resp.NewContext.ResultsSummary, "kettle") {
		t.Errorf("results digest missing product info: %q", resp.NewContext.ResultsSummary)
	}
	if resp.RequestID == "" {
		t.Error("missing request id")
	}
}

func TestExecuteQueryParseFailureIsFatal(t *testing.T) {
	interp := &stubInterpreter{err: models.NewParseError("PARSE_FAILED", "nope")}
	fetcher := &stubFetcher{products: listings(1)}
	orch := newTestOrchestrator(t, interp, fetcher, &stubSummarizer{}, &stubCache{})

	_, err := orch.ExecuteQuery(context.Background(), &models.QueryRequest{UserInput: "???"})
	if !models.IsParseError(err) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if fetcher.calls != 0 {
		t.Error("fetch ran after a fatal parse failure")
	}
}

func TestExecuteQueryFetchFailureIsFatal(t *testing.T) {
	fetcher := &stubFetcher{err: models.NewFetchError("FETCH_FAILED", "site unreachable")}
	orch := newTestOrchestrator(t, &stubInterpreter{parsed: kettleQuery()}, fetcher, &stubSummarizer{}, &stubCache{})

	_, err := orch.ExecuteQuery(context.Background(), &models.QueryRequest{UserInput: "a kettle"})
	if !models.IsFetchError(err) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestExecuteQuerySummaryFailureDegrades(t *testing.T) {
	fetcher := &stubFetcher{products: listings(2)}
	summarizer := &stubSummarizer{err: models.NewSummaryError("SUMMARY_FAILED", "provider down")}
	orch := newTestOrchestrator(t, &stubInterpreter{parsed: kettleQuery()}, fetcher, summarizer, &stubCache{})

	resp, err := orch.ExecuteQuery(context.Background(), &models.QueryRequest{UserInput: "a kettle"})
	if err != nil {
		t.Fatalf("summary failure should not fail the request: %v", err)
	}
	if resp.Summary != nil {
		t.Error("degraded summary should be nil")
	}
	if len(resp.Products) != 2 {
		t.Errorf("products lost on summary degradation: %d", len(resp.Products))
	}
}

func TestExecuteQueryEmptyListings(t *testing.T) {
	fetcher := &stubFetcher{products: []models.Product{}}
	orch := newTestOrchestrator(t, &stubInterpreter{parsed: kettleQuery()}, fetcher, &stubSummarizer{}, &stubCache{})

	resp, err := orch.ExecuteQuery(context.Background(), &models.QueryRequest{UserInput: "a kettle"})
	if err != nil {
		t.Fatalf("empty listings should not be an error: %v", err)
	}
	if len(resp.Products) != 0 {
		t.Errorf("expected no products, got %d", len(resp.Products))
	}
	if resp.NewContext.SearchTerm != "electric kettle" {
		t.Error("context should still advance on empty results")
	}
}

func TestExecuteQueryCacheHitSkipsFetch(t *testing.T) {
	cache := &stubCache{products: listings(3)}
	fetcher := &stubFetcher{products: listings(9)}
	orch := newTestOrchestrator(t, &stubInterpreter{parsed: kettleQuery()}, fetcher, &stubSummarizer{summary: "s"}, cache)

	resp, err := orch.ExecuteQuery(context.Background(), &models.QueryRequest{UserInput: "a kettle"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls != 0 {
		t.Error("fetcher ran despite a cache hit")
	}
	if len(resp.Products) != 3 {
		t.Errorf("expected cached listings, got %d products", len(resp.Products))
	}
}

func TestExecuteQueryCacheMissPopulatesCache(t *testing.T) {
	cache := &stubCache{}
	fetcher := &stubFetcher{products: listings(2)}
	orch := newTestOrchestrator(t, &stubInterpreter{parsed: kettleQuery()}, fetcher, &stubSummarizer{summary: "s"}, cache)

	if _, err := orch.ExecuteQuery(context.Background(), &models.QueryRequest{UserInput: "a kettle"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher calls = %d", fetcher.calls)
	}
	if cache.puts != 1 {
		t.Errorf("cache puts = %d", cache.puts)
	}
}

func TestCloseRejectsNewRequests(t *testing.T) {
	fetcher := &stubFetcher{products: listings(1)}
	orch := newTestOrchestrator(t, &stubInterpreter{parsed: kettleQuery()}, fetcher, &stubSummarizer{}, &stubCache{})

	if err := orch.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := orch.ExecuteQuery(context.Background(), &models.QueryRequest{UserInput: "a kettle"}); err != services.ErrShuttingDown {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestGetStatsCountsRequests(t *testing.T) {
	fetcher := &stubFetcher{products: listings(1)}
	orch := newTestOrchestrator(t, &stubInterpreter{parsed: kettleQuery()}, fetcher, &stubSummarizer{summary: "s"}, &stubCache{})

	for i := 0; i < 3; i++ {
		if _, err := orch.ExecuteQuery(context.Background(), &models.QueryRequest{UserInput: "a kettle"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	stats := orch.GetStats()
	if stats.TotalRequests != 3 {
		t.Errorf("total requests = %d", stats.TotalRequests)
	}
	if stats.FailedRequests != 0 {
		t.Errorf("failed requests = %d", stats.FailedRequests)
	}
	if stats.ActiveRequests != 0 {
		t.Errorf("active requests = %d", stats.ActiveRequests)
	}
}
