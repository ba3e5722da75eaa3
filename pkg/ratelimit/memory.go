package ratelimit

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxKeys = 10000

type bucket struct {
	mu     sync.Mutex
	window int64
	prev   int64
	curr   int64
}

// MemoryLimiter keeps counters in process. It is only correct for a single
// instance; the busiest keys are retained when the key bound is reached.
type MemoryLimiter struct {
	rules   map[string]Rule
	buckets *lru.Cache[string, *bucket]
	base    time.Time
	elapsed func() time.Duration
}

// NewMemory builds a MemoryLimiter holding at most maxKeys buckets.
func NewMemory(rules map[string]Rule, maxKeys int) (*MemoryLimiter, error) {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	cache, err := lru.New[string, *bucket](maxKeys)
	if err != nil {
		return nil, err
	}

	m := &MemoryLimiter{rules: rules, buckets: cache, base: time.Now()}
	m.elapsed = func() time.Duration { return time.Since(m.base) }
	return m, nil
}

// Check implements Limiter. The estimate and the increment run under the
// bucket lock so concurrent callers cannot both take the last slot.
func (m *MemoryLimiter) Check(_ context.Context, route, ip string) (Decision, error) {
	rule, ok := m.rules[route]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return unlimited(), nil
	}

	b := m.bucket(bucketKey(route, ip))
	now := m.elapsed()
	window := int64(now / rule.Window)
	offset := now % rule.Window

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case window == b.window:
	case window == b.window+1:
		b.prev, b.curr = b.curr, 0
	default:
		b.prev, b.curr = 0, 0
	}
	b.window = window

	decision, admitted := evaluate(rule, b.prev, b.curr, offset)
	if admitted {
		b.curr++
	}
	return decision, nil
}

func (m *MemoryLimiter) bucket(key string) *bucket {
	if b, ok := m.buckets.Get(key); ok {
		return b
	}
	fresh := &bucket{}
	if existing, ok, _ := m.buckets.PeekOrAdd(key, fresh); ok {
		return existing
	}
	return fresh
}

// Len reports how many keys are being tracked.
func (m *MemoryLimiter) Len() int {
	return m.buckets.Len()
}
