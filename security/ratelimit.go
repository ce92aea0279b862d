package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxLimiterEntries bounds the number of identifiers tracked at once
	DefaultMaxLimiterEntries = 10000

	limiterIdleTimeout     = 30 * time.Minute
	limiterCleanupInterval = 5 * time.Minute
)

type limiterEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a per-identifier token bucket limiter with LRU eviction.
// The auditor uses it to keep a misbehaving client from flooding the audit log.
type RateLimiter struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	limit      rate.Limit
	burst      int
	maxEntries int
	logger     *slog.Logger
	stop       chan struct{}
	stopOnce   sync.Once
	evictions  int64
}

// NewRateLimiter creates a limiter allowing perSecond events with the given burst per identifier.
func NewRateLimiter(perSecond float64, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithMaxEntries(perSecond, burst, DefaultMaxLimiterEntries, logger)
}

// NewRateLimiterWithMaxEntries is NewRateLimiter with a custom identifier bound.
// A maxEntries of 0 disables eviction.
func NewRateLimiterWithMaxEntries(perSecond float64, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		logger.Warn("Invalid maxEntries, using default", "max_entries", maxEntries)
		maxEntries = DefaultMaxLimiterEntries
	}
	if burst < 1 {
		burst = 1
	}

	rl := &RateLimiter{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		maxEntries: maxEntries,
		logger:     logger,
		stop:       make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether an event for identifier may proceed now.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.entries[identifier]; ok {
		rl.lru.MoveToFront(elem)
		e := elem.Value.(*limiterEntry)
		e.lastAccess = now
		return e.limiter.AllowN(now, 1)
	}

	if rl.maxEntries > 0 && len(rl.entries) >= rl.maxEntries {
		if back := rl.lru.Back(); back != nil {
			delete(rl.entries, back.Value.(*limiterEntry).key)
			rl.lru.Remove(back)
			rl.evictions++
		}
	}

	e := &limiterEntry{
		key:        identifier,
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	}
	rl.entries[identifier] = rl.lru.PushFront(e)

	return e.limiter.AllowN(now, 1)
}

// Len returns the number of identifiers currently tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Cleanup drops identifiers idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	// The list is ordered by recency, so stop at the first fresh entry.
	for elem := rl.lru.Back(); elem != nil; {
		e := elem.Value.(*limiterEntry)
		if e.lastAccess.After(cutoff) {
			break
		}
		prev := elem.Prev()
		delete(rl.entries, e.key)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.entries),
			"total_evictions", rl.evictions)
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(limiterIdleTimeout)
		case <-rl.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
