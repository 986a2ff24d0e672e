package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"cartscout/internal/config"
	"cartscout/internal/models"
	"cartscout/internal/pkg/logger"
)

// CacheService keeps recently scraped listing sets so identical follow-up
// turns (same term, same filters) skip the expensive fetch. Two tiers: a
// small in-process LRU in front of Redis. Both are best-effort; every method
// degrades to a miss or a no-op on failure, and the whole service is a no-op
// when disabled.
type CacheService struct {
	client *redis.Client
	local  *lru.Cache[string, []models.Product]
	config config.RedisConfig
	logger *logger.Logger
}

func NewCacheService(cfg config.RedisConfig, log *logger.Logger) (*CacheService, error) {
	service := &CacheService{config: cfg, logger: log}
	if !cfg.Enabled {
		log.Info("Listing cache disabled")
		return service, nil
	}

	localEntries := cfg.LocalEntries
	if localEntries <= 0 {
		localEntries = 128
	}
	local, err := lru.New[string, []models.Product](localEntries)
	if err != nil {
		return nil, fmt.Errorf("local cache init failed: %w", err)
	}
	service.local = local

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	service.client = redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := service.client.Ping(pingCtx).Err(); err != nil {
		return nil, models.WrapExternalError("redis", err)
	}

	log.Info("Listing cache initialized",
		"pool_size", opts.PoolSize,
		"ttl", cfg.TTL.String(),
		"local_entries", localEntries)

	return service, nil
}

// Get returns the cached listings for this term and filter set, or false on
// any miss or error.
func (service *CacheService) Get(ctx context.Context, searchTerm string, filters models.Filters) ([]models.Product, bool) {
	if !service.config.Enabled {
		return nil, false
	}

	key := listingKey(searchTerm, filters)
	if products, ok := service.local.Get(key); ok {
		return products, true
	}

	data, err := service.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			service.logger.Warn("cache read failed", "error", err.Error())
		}
		return nil, false
	}

	var products []models.Product
	if err := json.Unmarshal(data, &products); err != nil {
		service.logger.Warn("cache entry corrupt, dropping", "key", key)
		service.client.Del(ctx, key)
		return nil, false
	}

	service.local.Add(key, products)
	return products, true
}

func (service *CacheService) Put(ctx context.Context, searchTerm string, filters models.Filters, products []models.Product) {
	if !service.config.Enabled || len(products) == 0 {
		return
	}

	key := listingKey(searchTerm, filters)
	service.local.Add(key, products)

	data, err := json.Marshal(products)
	if err != nil {
		return
	}
	if err := service.client.Set(ctx, key, data, service.config.TTL).Err(); err != nil {
		service.logger.Warn("cache write failed", "error", err.Error())
	}
}

// listingKey hashes the term plus the canonical JSON of the filters, so any
// filter change is a distinct entry.
func listingKey(searchTerm string, filters models.Filters) string {
	payload, _ := json.Marshal(filters)
	sum := sha256.Sum256([]byte(searchTerm + "|" + string(payload)))
	return "listings:" + hex.EncodeToString(sum[:16])
}

func (service *CacheService) HealthCheck(ctx context.Context) error {
	if !service.config.Enabled {
		return nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := service.client.Ping(checkCtx).Err(); err != nil {
		return models.WrapExternalError("redis", err)
	}
	return nil
}

func (service *CacheService) Close() error {
	if service.client == nil {
		return nil
	}
	return service.client.Close()
}
