package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/metrics"
	"github.com/raaihank/langmodel/internal/pooling"
)

// VectorCache caches extracted vectors in Redis
type VectorCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewVectorCache creates a new Redis-based vector cache
func NewVectorCache(config *Config, logger *zap.Logger) (*VectorCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	cache := &VectorCache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.client.Ping(ctx).Err(); err != nil {
		cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Vector cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// Get returns the cached prediction for key, or nil on a miss. Lookup
// failures are logged and reported as misses.
func (vc *VectorCache) Get(ctx context.Context, key Key) (*pooling.Prediction, error) {
	cacheKey := vc.generateKey(key)

	data, err := vc.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		vc.miss()
		return nil, nil
	} else if err != nil {
		vc.logger.Error("Cache lookup failed", zap.Error(err))
		vc.miss()
		return nil, nil
	}

	var cached CachedPrediction
	if err := json.Unmarshal(data, &cached); err != nil {
		vc.logger.Error("Failed to unmarshal cached prediction", zap.Error(err))
		vc.client.Del(ctx, cacheKey)
		vc.miss()
		return nil, nil
	}

	vc.hits.Add(1)
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	vc.logger.Debug("Cache hit", zap.String("key", cacheKey))
	return &cached.Prediction, nil
}

func (vc *VectorCache) miss() {
	vc.misses.Add(1)
	metrics.CacheRequests.WithLabelValues("miss").Inc()
}

// Set caches a single prediction
func (vc *VectorCache) Set(ctx context.Context, key Key, pred pooling.Prediction) error {
	return vc.SetBatch(ctx, []Key{key}, []pooling.Prediction{pred})
}

// SetBatch caches predictions using a Redis pipeline
func (vc *VectorCache) SetBatch(ctx context.Context, keys []Key, preds []pooling.Prediction) error {
	if len(keys) != len(preds) {
		return fmt.Errorf("keys and predictions length mismatch: %d != %d", len(keys), len(preds))
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := vc.client.Pipeline()
	now := time.Now()

	for i, key := range keys {
		data, err := json.Marshal(CachedPrediction{
			Prediction: preds[i],
			CachedAt:   now,
			TTL:        int64(vc.config.DefaultTTL.Seconds()),
		})
		if err != nil {
			vc.logger.Error("Failed to marshal prediction for caching", zap.Error(err))
			continue
		}
		pipe.Set(ctx, vc.generateKey(key), data, vc.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		vc.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	vc.logger.Debug("Batch cache operation completed", zap.Int("cached_predictions", len(keys)))
	return nil
}

// GetStats returns cache performance statistics
func (vc *VectorCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := vc.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   vc.hits.Load(),
		Misses: vc.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := vc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached predictions under the key prefix
func (vc *VectorCache) Clear(ctx context.Context) error {
	iter := vc.client.Scan(ctx, 0, vc.config.KeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := vc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			vc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	vc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (vc *VectorCache) Close() error {
	if vc.client != nil {
		return vc.client.Close()
	}
	return nil
}

func (vc *VectorCache) generateKey(key Key) string {
	return GenerateKey(vc.config.KeyPrefix, key)
}

// GenerateKey hashes a cache key into its Redis key name
func GenerateKey(prefix string, key Key) string {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s\x00%s\x00%d\x00%t\x00%s", key.Model, key.Strategy, key.Layer, key.IgnoreFirstToken, key.Text)
	hash := hex.EncodeToString(hasher.Sum(nil))
	return fmt.Sprintf("%s:vec:%s", prefix, hash[:32])
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	start := strings.Index(url, "//") + 2
	if start < 2 || start > at {
		start = 0
	}
	colon := strings.Index(url[start:at], ":")
	if colon < 0 {
		return url
	}
	return url[:start+colon+1] + "***" + url[at:]
}
