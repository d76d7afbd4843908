package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alpaca-lotto/internal/types"
)

// CacheService provides high-level caching for lottery reads. Entries carry
// their provenance: a cached mock payload stays marked as mock.
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyLottery is for single lottery payloads
	CacheKeyLottery CacheKeyType = "lottery"
	// CacheKeyLotteries is for lottery list payloads
	CacheKeyLotteries CacheKeyType = "lotteries"
	// CacheKeyTickets is for per-address ticket payloads
	CacheKeyTickets CacheKeyType = "tickets"
	// CacheKeyWinner is for winner-check payloads
	CacheKeyWinner CacheKeyType = "winner"
)

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	// Normalize all parameters to lowercase for consistency
	normalizedParams := make([]string, len(params))
	for i, param := range params {
		normalizedParams[i] = strings.ToLower(param)
	}

	parts := append([]string{string(keyType)}, normalizedParams...)
	return strings.Join(parts, ":")
}

// GenerateLotteryKey generates a cache key for a single lottery
// Format: lottery:<id>
func (c *CacheService) GenerateLotteryKey(lotteryID int64) string {
	return c.GenerateCacheKey(CacheKeyLottery, strconv.FormatInt(lotteryID, 10))
}

// GenerateLotteriesKey generates a cache key for a lottery list
// Format: lotteries:all or lotteries:active
func (c *CacheService) GenerateLotteriesKey(activeOnly bool) string {
	if activeOnly {
		return c.GenerateCacheKey(CacheKeyLotteries, "active")
	}
	return c.GenerateCacheKey(CacheKeyLotteries, "all")
}

// GenerateTicketsKey generates a cache key for an address's tickets
// Format: tickets:<id>:<address>
func (c *CacheService) GenerateTicketsKey(lotteryID int64, address string) string {
	return c.GenerateCacheKey(CacheKeyTickets, strconv.FormatInt(lotteryID, 10), address)
}

// GenerateWinnerKey generates a cache key for a winner check
// Format: winner:<id>:<address>
func (c *CacheService) GenerateWinnerKey(lotteryID int64, address string) string {
	return c.GenerateCacheKey(CacheKeyWinner, strconv.FormatInt(lotteryID, 10), address)
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	// Serialize value to JSON
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.redis.Set(ctx, key, data, ttl)
}

// Get retrieves a value from cache and deserializes it
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		// Key not found is not an error, just a cache miss
		if err.Error() == "redis: nil" {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	// Deserialize JSON into destination
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// InvalidatePattern removes all keys matching a pattern
// Pattern examples: "tickets:3:*", "lotteries:*"
func (c *CacheService) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := c.redis.Keys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to find keys matching pattern: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	return c.redis.Del(ctx, keys...)
}

// InvalidateLottery invalidates all cache entries touching one lottery,
// including the list payloads that embed its state
func (c *CacheService) InvalidateLottery(ctx context.Context, lotteryID int64) error {
	for _, pattern := range []string{
		fmt.Sprintf("tickets:%d:*", lotteryID),
		fmt.Sprintf("winner:%d:*", lotteryID),
	} {
		if err := c.InvalidatePattern(ctx, pattern); err != nil {
			return fmt.Errorf("failed to invalidate lottery cache: %w", err)
		}
	}

	return c.Invalidate(ctx,
		c.GenerateLotteryKey(lotteryID),
		c.GenerateLotteriesKey(true),
		c.GenerateLotteriesKey(false),
	)
}

// Exists checks if a key exists in cache
func (c *CacheService) Exists(ctx context.Context, key string) (bool, error) {
	return c.redis.Exists(ctx, key)
}

// Refresh updates the TTL on an existing key
func (c *CacheService) Refresh(ctx context.Context, key string) error {
	return c.redis.Expire(ctx, key, c.ttl)
}

// GetTTL returns the configured TTL for this cache service
func (c *CacheService) GetTTL() time.Duration {
	return c.ttl
}

// SetTTL updates the default TTL for this cache service
func (c *CacheService) SetTTL(ttl time.Duration) {
	c.ttl = ttl
}

// CachedLottery represents a cached lottery payload
type CachedLottery struct {
	Lottery  *types.Lottery `json:"lottery"`
	CachedAt time.Time      `json:"cachedAt"`
}

// CachedLotteryList represents a cached lottery list payload
type CachedLotteryList struct {
	Lotteries []types.Lottery  `json:"lotteries"`
	Source    types.DataSource `json:"source"`
	CachedAt  time.Time        `json:"cachedAt"`
}

// CachedTickets represents a cached ticket listing
type CachedTickets struct {
	Result   *types.TicketsResult `json:"result"`
	CachedAt time.Time            `json:"cachedAt"`
}

// CachedWinner represents a cached winner check
type CachedWinner struct {
	Result   *types.WinnerResult `json:"result"`
	CachedAt time.Time           `json:"cachedAt"`
}
