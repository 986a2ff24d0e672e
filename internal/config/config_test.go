package config_test

import (
	"testing"
	"time"

	"cartscout/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("port = %d", cfg.HTTP.Port)
	}
	if cfg.Pipeline.TopNForValidation != 25 {
		t.Errorf("top-n = %d", cfg.Pipeline.TopNForValidation)
	}
	if cfg.Pipeline.MissingScore != 0.15 {
		t.Errorf("missing score = %f", cfg.Pipeline.MissingScore)
	}
	if cfg.Pipeline.ValidationConcurrency != 5 {
		t.Errorf("validation concurrency = %d", cfg.Pipeline.ValidationConcurrency)
	}
	if cfg.Scraper.BaseURL != "https://www.amazon.com" {
		t.Errorf("scraper base url = %q", cfg.Scraper.BaseURL)
	}
	if cfg.Redis.Enabled {
		t.Error("cache should default to disabled")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("PORT", "9090")
	t.Setenv("TOP_N_FOR_LLM_VALIDATION", "10")
	t.Setenv("MISSING_SCORE", "0.3")
	t.Setenv("OPENAI_TIMEOUT", "45s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Errorf("port = %d", cfg.HTTP.Port)
	}
	if cfg.Pipeline.TopNForValidation != 10 {
		t.Errorf("top-n = %d", cfg.Pipeline.TopNForValidation)
	}
	if cfg.Pipeline.MissingScore != 0.3 {
		t.Errorf("missing score = %f", cfg.Pipeline.MissingScore)
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("llm timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected an error without OPENAI_API_KEY")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	cases := map[string]string{
		"PORT":                     "-1",
		"TOP_N_FOR_LLM_VALIDATION": "0",
		"MISSING_SCORE":            "1.5",
		"VALIDATION_CONCURRENCY":   "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := config.Load(); err == nil {
				t.Errorf("expected an error for %s=%s", key, value)
			}
		})
	}
}
