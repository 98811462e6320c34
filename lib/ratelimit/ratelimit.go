// Package ratelimit implements the sliding-window request counters named in
// spec.md §7: general API 100/min, auth endpoints 10/15min, pairing
// 20/hour, notifications 30/min — keyed by device id when authenticated,
// peer address otherwise.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Bucket names the rate-limited surface, matching spec.md §7's categories.
type Bucket string

const (
	BucketGeneral       Bucket = "general"
	BucketAuth          Bucket = "auth"
	BucketPairing       Bucket = "pairing"
	BucketNotifications Bucket = "notifications"
)

// Limit is a bucket's (count, window) allowance.
type Limit struct {
	Count  int
	Window time.Duration
}

// DefaultLimits are the allowances spec.md §7 specifies.
var DefaultLimits = map[Bucket]Limit{
	BucketGeneral:       {Count: 100, Window: time.Minute},
	BucketAuth:          {Count: 10, Window: 15 * time.Minute},
	BucketPairing:       {Count: 20, Window: time.Hour},
	BucketNotifications: {Count: 30, Window: time.Minute},
}

// Limiter tracks per-(bucket,key) sliding windows. Increments must be
// atomic; eventual consistency across replicas is acceptable (spec.md §5),
// which is why the in-process implementation below uses a single mutex
// rather than trying to coordinate with any other process.
type Limiter struct {
	mu     sync.Mutex
	limits map[Bucket]Limit
	clock  clockwork.Clock
	hits   map[string][]time.Time // "bucket|key" -> hit timestamps within the window
}

// New constructs a Limiter. limits defaults to DefaultLimits when nil.
func New(limits map[Bucket]Limit, clock clockwork.Clock) *Limiter {
	if limits == nil {
		limits = DefaultLimits
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		limits: limits,
		clock:  clock,
		hits:   make(map[string][]time.Time),
	}
}

// Result reports the outcome of an Allow call, mirroring the
// X-RateLimit-* / Retry-After headers spec.md §6 requires.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Allow records one attempt for (bucket, key) and reports whether it is
// within the configured allowance.
func (l *Limiter) Allow(bucket Bucket, key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[bucket]
	if !ok {
		limit = l.limits[BucketGeneral]
	}

	now := l.clock.Now()
	cutoff := now.Add(-limit.Window)
	mapKey := string(bucket) + "|" + key

	hits := l.hits[mapKey]
	filtered := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			filtered = append(filtered, h)
		}
	}

	if len(filtered) >= limit.Count {
		l.hits[mapKey] = filtered
		oldest := filtered[0]
		return Result{
			Allowed:    false,
			Limit:      limit.Count,
			Remaining:  0,
			RetryAfter: oldest.Add(limit.Window).Sub(now),
		}
	}

	filtered = append(filtered, now)
	l.hits[mapKey] = filtered

	return Result{
		Allowed:   true,
		Limit:     limit.Count,
		Remaining: limit.Count - len(filtered),
	}
}
