package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterStore keeps one limiter per client, bounded by maxSize
type LimiterStore struct {
	mu       sync.Mutex
	limiters map[uint64]*timestampedLimiter
	maxSize  int
	rate     int
}

type timestampedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore creates a new limiter store
func NewLimiterStore(maxSize, rateLimit int) *LimiterStore {
	return &LimiterStore{
		limiters: make(map[uint64]*timestampedLimiter),
		maxSize:  maxSize,
		rate:     rateLimit,
	}
}

// Get retrieves or creates a limiter for the given key
func (s *LimiterStore) Get(key uint64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if tl, ok := s.limiters[key]; ok {
		tl.lastSeen = now
		return tl.limiter
	}

	if len(s.limiters) >= s.maxSize {
		s.evictOne()
	}

	rl := rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.rate)), s.rate)

	s.limiters[key] = &timestampedLimiter{
		limiter:  rl,
		lastSeen: now,
	}

	return rl
}

// evictOne removes the oldest entry out of a sample
func (s *LimiterStore) evictOne() {
	var oldestKey uint64
	var oldestTime time.Time

	sampled := 0
	for k, v := range s.limiters {
		if sampled == 0 || v.lastSeen.Before(oldestTime) {
			oldestKey = k
			oldestTime = v.lastSeen
		}

		sampled++
		if sampled >= 100 {
			break
		}
	}

	if sampled > 0 {
		delete(s.limiters, oldestKey)
	}
}

// Len returns the number of limiters
func (s *LimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}
