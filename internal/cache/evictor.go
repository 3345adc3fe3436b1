package cache

import (
	"context"
	"log/slog"
	"time"
)

// EvictorOption configures an [Evictor].
type EvictorOption func(*Evictor)

// WithInterval sets the period between sweeps. Zero disables periodic sweeps;
// [Evictor.Trigger] still works.
func WithInterval(d time.Duration) EvictorOption {
	return func(e *Evictor) { e.interval = d }
}

// WithMaxBytes bounds the total artifact size. Zero means unbounded.
func WithMaxBytes(n int64) EvictorOption {
	return func(e *Evictor) { e.maxBytes = n }
}

// WithMaxAge removes entries older than d. Zero means no age limit.
func WithMaxAge(d time.Duration) EvictorOption {
	return func(e *Evictor) { e.maxAge = d }
}

// Evictor removes audio entries, oldest first, until the cache fits its
// limits. Every removal goes through [DualCache] so alignments and artifacts
// are removed with their audio.
type Evictor struct {
	cache    *DualCache
	interval time.Duration
	maxBytes int64
	maxAge   time.Duration
	trigger  chan struct{}
}

// NewEvictor returns an [Evictor] for c.
func NewEvictor(c *DualCache, opts ...EvictorOption) *Evictor {
	e := &Evictor{
		cache:    c,
		interval: 10 * time.Minute,
		trigger:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Trigger requests a sweep without blocking. Requests made while one is
// pending are coalesced.
func (e *Evictor) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run sweeps periodically and on [Evictor.Trigger] until ctx is done.
func (e *Evictor) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if e.interval > 0 {
		t := time.NewTicker(e.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-e.trigger:
		}
		if n, err := e.Sweep(ctx); err != nil {
			slog.Warn("cache: eviction sweep failed", "err", err)
		} else if n > 0 {
			slog.Info("cache: evicted entries", "count", n)
		}
	}
}

// Sweep performs one eviction pass and returns the number of entries removed.
// Expired entries go first, then the oldest entries until the total size is
// within bounds.
func (e *Evictor) Sweep(ctx context.Context) (int, error) {
	if e.maxAge <= 0 && e.maxBytes <= 0 {
		return 0, nil
	}
	entries, err := e.cache.Entries(ctx)
	if err != nil {
		return 0, err
	}

	now := e.cache.now()
	var (
		removed int
		total   int64
		keep    = entries[:0]
	)
	for _, ent := range entries {
		if e.maxAge > 0 && now.Sub(ent.CreatedAt) > e.maxAge {
			if err := e.cache.deleteEntry(ctx, ent); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		total += ent.Size
		keep = append(keep, ent)
	}

	if e.maxBytes > 0 {
		for _, ent := range keep {
			if total <= e.maxBytes {
				break
			}
			if err := e.cache.deleteEntry(ctx, ent); err != nil {
				return removed, err
			}
			total -= ent.Size
			removed++
		}
	}

	if removed > 0 && e.cache.metrics != nil {
		e.cache.metrics.CacheEvictions.Add(ctx, int64(removed))
	}
	return removed, nil
}
