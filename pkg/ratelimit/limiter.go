// Package ratelimit implements a sliding-window request limiter keyed by
// route and client IP.
//
// The estimate for a key is the count admitted in the current fixed window
// plus the previous window's count weighted by how much of it still overlaps
// the sliding window. Only admitted requests are counted.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Rule is a per-route budget.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request may proceed. Routes without a rule are
// always allowed.
type Limiter interface {
	Check(ctx context.Context, route, ip string) (Decision, error)
}

func unlimited() Decision {
	return Decision{Allowed: true}
}

func bucketKey(route, ip string) string {
	return route + "|" + ip
}

// evaluate applies the sliding-window estimate. offset is the position inside
// the current window; prev and curr are admitted counts before this request.
func evaluate(rule Rule, prev, curr int64, offset time.Duration) (Decision, bool) {
	weight := 1 - float64(offset)/float64(rule.Window)
	estimate := float64(prev)*weight + float64(curr)
	limit := float64(rule.Limit)

	if estimate+1 > limit {
		return Decision{
			Allowed:    false,
			Limit:      rule.Limit,
			Remaining:  0,
			RetryAfter: retryAfter(rule, prev, curr, offset),
		}, false
	}

	remaining := int(math.Floor(limit - estimate - 1))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: rule.Limit, Remaining: remaining}, true
}

// retryAfter is the time until one more request would fit.
func retryAfter(rule Rule, prev, curr int64, offset time.Duration) time.Duration {
	w := float64(rule.Window)
	room := float64(rule.Limit) - 1

	// Still within this window: wait for the previous window's share to decay.
	if float64(curr) <= room && prev > 0 {
		f := 1 - (room-float64(curr))/float64(prev)
		if wait := time.Duration(f*w) - offset; wait > 0 {
			return wait
		}
	}

	// Otherwise the current count becomes the previous window's count.
	untilNext := rule.Window - offset
	if curr == 0 {
		return untilNext
	}
	g := 1 - room/float64(curr)
	if g < 0 {
		g = 0
	}
	return untilNext + time.Duration(g*w)
}
