package storage

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// PriceFetchFunc fetches the current USD price for a token symbol
type PriceFetchFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

// PriceCache is an in-memory TTL cache for token USD prices. Prices are hot,
// tiny, and per-process, so they live in memory rather than Redis. Concurrent
// misses for the same symbol share a single upstream fetch to prevent cache
// stampede against the price API.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]priceEntry
	ttl     time.Duration
	now     func() time.Time

	// Atomic counters for statistics
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	// In-flight request tracking to prevent cache stampede
	inflightMu sync.Mutex
	inflight   map[string]*inflightFetch
}

// inflightFetch carries one shared fetch. The owner fills price/err and then
// closes done; any number of waiters read the fields after done is closed.
type inflightFetch struct {
	done  chan struct{}
	price decimal.Decimal
	err   error
}

// NewPriceCache creates a new price cache with the given entry TTL
func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{
		entries:  make(map[string]priceEntry),
		ttl:      ttl,
		now:      time.Now,
		inflight: make(map[string]*inflightFetch),
	}
}

type priceEntry struct {
	price     decimal.Decimal
	expiresAt time.Time
}

// Get returns the cached price for a symbol, fetching it via fetch on a miss.
// Multiple concurrent misses for the same symbol share one fetch.
func (pc *PriceCache) Get(ctx context.Context, symbol string, fetch PriceFetchFunc) (decimal.Decimal, error) {
	key := strings.ToUpper(symbol)

	if price, ok := pc.lookup(key); ok {
		pc.cacheHits.Add(1)
		return price, nil
	}

	pc.cacheMisses.Add(1)

	call, isOwner := pc.getOrCreateInflight(key)
	if !isOwner {
		// Another goroutine is already fetching this symbol
		select {
		case <-call.done:
			return call.price, call.err
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}

	price, err := fetch(ctx, symbol)
	if err == nil {
		pc.Set(symbol, price)
	}

	pc.completeInflight(key, call, price, err)

	return price, err
}

// Set stores a price directly, bypassing any fetch
func (pc *PriceCache) Set(symbol string, price decimal.Decimal) {
	key := strings.ToUpper(symbol)

	pc.mu.Lock()
	pc.entries[key] = priceEntry{
		price:     price,
		expiresAt: pc.now().Add(pc.ttl),
	}
	pc.mu.Unlock()
}

// Invalidate drops a symbol from the cache
func (pc *PriceCache) Invalidate(symbol string) {
	pc.mu.Lock()
	delete(pc.entries, strings.ToUpper(symbol))
	pc.mu.Unlock()
}

// PurgeExpired removes expired entries and returns how many were dropped
func (pc *PriceCache) PurgeExpired() int {
	now := pc.now()

	pc.mu.Lock()
	defer pc.mu.Unlock()

	purged := 0
	for key, entry := range pc.entries {
		if !now.Before(entry.expiresAt) {
			delete(pc.entries, key)
			purged++
		}
	}
	return purged
}

func (pc *PriceCache) lookup(key string) (decimal.Decimal, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	entry, ok := pc.entries[key]
	if !ok || !pc.now().Before(entry.expiresAt) {
		return decimal.Zero, false
	}
	return entry.price, true
}

// getOrCreateInflight atomically checks for or creates an in-flight fetch.
// Returns the shared call and whether this caller owns the fetch.
func (pc *PriceCache) getOrCreateInflight(key string) (*inflightFetch, bool) {
	pc.inflightMu.Lock()
	defer pc.inflightMu.Unlock()

	if call, exists := pc.inflight[key]; exists {
		return call, false
	}

	call := &inflightFetch{done: make(chan struct{})}
	pc.inflight[key] = call
	return call, true
}

// completeInflight broadcasts the result to all waiting goroutines and cleans up
func (pc *PriceCache) completeInflight(key string, call *inflightFetch, price decimal.Decimal, err error) {
	pc.inflightMu.Lock()
	delete(pc.inflight, key)
	pc.inflightMu.Unlock()

	call.price = price
	call.err = err
	close(call.done)
}

// GetStats returns cache statistics
func (pc *PriceCache) GetStats() *PriceCacheStats {
	hits := pc.cacheHits.Load()
	misses := pc.cacheMisses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	pc.mu.RLock()
	entries := len(pc.entries)
	pc.mu.RUnlock()

	pc.inflightMu.Lock()
	inflightCount := len(pc.inflight)
	pc.inflightMu.Unlock()

	return &PriceCacheStats{
		CacheHits:     hits,
		CacheMisses:   misses,
		HitRate:       hitRate,
		Entries:       entries,
		InflightCount: inflightCount,
	}
}

// ResetStats resets cache statistics
func (pc *PriceCache) ResetStats() {
	pc.cacheHits.Store(0)
	pc.cacheMisses.Store(0)
}

// PriceCacheStats represents price cache statistics
type PriceCacheStats struct {
	CacheHits     int64
	CacheMisses   int64
	HitRate       float64 // Percentage
	Entries       int
	InflightCount int // Number of in-flight fetches
}
