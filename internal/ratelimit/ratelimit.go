// Package ratelimit provides per-API-key request admission using in-process
// token buckets. Buckets refill continuously at rpm/60 per second with a
// burst equal to the full per-minute allowance.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Result is a single admission decision. Remaining and Limit feed the
// X-RateLimit-* response headers; RetryAfter is set only when denied.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type bucket struct {
	lim *rate.Limiter
	rpm int
}

// Limiter holds one token bucket per API key. Buckets are created lazily;
// the limit in effect at creation time sticks for the bucket's lifetime,
// so changing a key's limit requires a process restart.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[uuid.UUID]*bucket
	defaultRPM int
}

func NewLimiter(defaultRPM int) *Limiter {
	return &Limiter{
		buckets:    make(map[uuid.UUID]*bucket),
		defaultRPM: defaultRPM,
	}
}

func (l *Limiter) bucketFor(keyID uuid.UUID, overrideRPM int) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[keyID]; ok {
		return b
	}
	rpm := l.defaultRPM
	if overrideRPM > 0 {
		rpm = overrideRPM
	}
	b := &bucket{
		lim: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		rpm: rpm,
	}
	l.buckets[keyID] = b
	return b
}

// Acquire consumes one token from the key's bucket, or reports how long
// the caller should wait. overrideRPM replaces the default limit for
// newly created buckets only.
func (l *Limiter) Acquire(keyID uuid.UUID, overrideRPM int) Result {
	b := l.bucketFor(keyID, overrideRPM)

	rsv := b.lim.Reserve()
	if delay := rsv.Delay(); delay > 0 {
		// Do not hold the reservation while denied, or every rejected
		// request would push the next refill further out.
		rsv.Cancel()
		retry := time.Duration(math.Ceil(delay.Seconds())) * time.Second
		if retry < time.Second {
			retry = time.Second
		}
		return Result{Limit: b.rpm, RetryAfter: retry}
	}

	return Result{
		Allowed:   true,
		Limit:     b.rpm,
		Remaining: int(b.lim.Tokens()),
	}
}
