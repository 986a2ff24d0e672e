package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	HTTP     HTTPConfig
	Log      LogConfig
	LLM      LLMConfig
	Scraper  ScraperConfig
	Redis    RedisConfig
	Pipeline PipelineConfig
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	MaxRetries  int
	Timeout     time.Duration

	BreakerFailures uint32
	BreakerCooldown time.Duration
}

type ScraperConfig struct {
	BaseURL           string
	MaxResults        int
	MaxPages          int
	RequestsPerMinute int
	RequestTimeout    time.Duration
}

type RedisConfig struct {
	Enabled      bool
	URL          string
	PoolSize     int
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LocalEntries int
}

type PipelineConfig struct {
	TopNForValidation     int
	MissingScore          float64
	ValidationConcurrency int
	ValidationTimeout     time.Duration
	ParseTimeout          time.Duration
	FetchTimeout          time.Duration
	SummaryTimeout        time.Duration
	RequestTimeout        time.Duration
	DigestItems           int
}

func Load() (*Config, error) {
	// Missing .env is fine in deployed environments; real env vars win.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTP: HTTPConfig{
			Port:         getEnvInt("PORT", 8080),
			ReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Format:   getEnv("LOG_FORMAT", "json"),
			Output:   getEnv("LOG_OUTPUT", "stdout"),
			FilePath: getEnv("LOG_FILE_PATH", "logs/cartscout.log"),
		},
		LLM: LLMConfig{
			APIKey:          os.Getenv("OPENAI_API_KEY"),
			BaseURL:         getEnv("OPENAI_BASE_URL", ""),
			Model:           getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
			Temperature:     float32(getEnvFloat("OPENAI_TEMPERATURE", 0)),
			MaxTokens:       getEnvInt("OPENAI_MAX_TOKENS", 1024),
			MaxRetries:      getEnvInt("OPENAI_MAX_RETRIES", 2),
			Timeout:         getEnvDuration("OPENAI_TIMEOUT", 20*time.Second),
			BreakerFailures: uint32(getEnvInt("OPENAI_BREAKER_FAILURES", 5)),
			BreakerCooldown: getEnvDuration("OPENAI_BREAKER_COOLDOWN", 30*time.Second),
		},
		Scraper: ScraperConfig{
			BaseURL:           getEnv("AMAZON_BASE_URL", "https://www.amazon.com"),
			MaxResults:        getEnvInt("SCRAPER_MAX_RESULTS", 100),
			MaxPages:          getEnvInt("SCRAPER_MAX_PAGES", 5),
			RequestsPerMinute: getEnvInt("SCRAPER_REQUESTS_PER_MINUTE", 30),
			RequestTimeout:    getEnvDuration("SCRAPER_REQUEST_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			Enabled:      getEnvBool("REDIS_ENABLED", false),
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			TTL:          getEnvDuration("LISTINGS_CACHE_TTL", 15*time.Minute),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			LocalEntries: getEnvInt("LISTINGS_CACHE_LOCAL_ENTRIES", 128),
		},
		Pipeline: PipelineConfig{
			TopNForValidation:     getEnvInt("TOP_N_FOR_LLM_VALIDATION", 25),
			MissingScore:          getEnvFloat("MISSING_SCORE", 0.15),
			ValidationConcurrency: getEnvInt("VALIDATION_CONCURRENCY", 5),
			ValidationTimeout:     getEnvDuration("VALIDATION_TIMEOUT", 30*time.Second),
			ParseTimeout:          getEnvDuration("PARSE_TIMEOUT", 30*time.Second),
			FetchTimeout:          getEnvDuration("FETCH_TIMEOUT", 120*time.Second),
			SummaryTimeout:        getEnvDuration("SUMMARY_TIMEOUT", 20*time.Second),
			RequestTimeout:        getEnvDuration("PIPELINE_REQUEST_TIMEOUT", 180*time.Second),
			DigestItems:           getEnvInt("RESULTS_DIGEST_ITEMS", 5),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.HTTP.Port)
	}
	if c.Pipeline.TopNForValidation <= 0 {
		return fmt.Errorf("TOP_N_FOR_LLM_VALIDATION must be positive")
	}
	if c.Pipeline.MissingScore < 0 || c.Pipeline.MissingScore > 1 {
		return fmt.Errorf("MISSING_SCORE must be in [0,1]")
	}
	if c.Pipeline.ValidationConcurrency <= 0 {
		return fmt.Errorf("VALIDATION_CONCURRENCY must be positive")
	}
	if c.Scraper.RequestsPerMinute <= 0 {
		return fmt.Errorf("SCRAPER_REQUESTS_PER_MINUTE must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
