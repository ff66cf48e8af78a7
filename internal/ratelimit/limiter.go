// Package ratelimit implements a per-key sliding-window request limiter and
// the HTTP middleware that applies it to inbound API calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/austindbirch/taskhook/internal/logging"
	"github.com/austindbirch/taskhook/internal/metrics"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultRetention     = time.Hour
)

// Options configures a Limiter. Zero values fall back to defaults.
type Options struct {
	Now func() time.Time
}

// Limiter keeps the accepted request timestamps of every key. All buckets
// share a single mutex; check-and-record is atomic per key.
type Limiter struct {
	now func() time.Time

	mu      sync.Mutex
	buckets map[string][]time.Time
}

func New(opts Options) *Limiter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		now:     now,
		buckets: map[string][]time.Time{},
	}
}

// Allow reports whether one more request for key fits within max requests
// per window. Accepted requests are recorded, rejected ones are not.
func (l *Limiter) Allow(key string, max int, window time.Duration) bool {
	if max <= 0 {
		return false
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := prune(l.buckets[key], now.Add(-window))
	if len(kept) >= max {
		l.buckets[key] = kept
		return false
	}
	l.buckets[key] = append(kept, now)
	return true
}

// Sweep prunes every bucket to the retention window and drops empty ones.
// It returns the number of buckets removed.
func (l *Limiter) Sweep(retention time.Duration) int {
	cutoff := l.now().Add(-retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, stamps := range l.buckets {
		kept := prune(stamps, cutoff)
		if len(kept) == 0 {
			delete(l.buckets, key)
			removed++
			continue
		}
		l.buckets[key] = kept
	}
	return removed
}

// Len returns the number of live buckets
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run sweeps on every tick until ctx is done
func (l *Limiter) Run(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	logger := logging.New("taskhook-ratelimit")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := l.Sweep(retention)
			live := l.Len()
			metrics.UpdateRateLimitBuckets(live)
			if removed > 0 {
				logger.Plain().WithFields(map[string]any{
					"removed": removed,
					"live":    live,
				}).Debug("rate limit sweep")
			}
		}
	}
}

// prune drops timestamps at or before cutoff. Timestamps are appended in
// order, so the survivors are a suffix.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	if i == len(stamps) {
		return nil
	}
	return append([]time.Time(nil), stamps[i:]...)
}
