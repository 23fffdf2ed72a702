// Package eas computes the Earned Autonomy Score (spec section 4.2): a
// sliding-window PERMIT ratio over the verdict store that feeds back
// into the policy engine's confidence thresholds.
//
// Grounded on the teacher's pkg/trust/leaderboard.go (RWMutex-guarded
// cached score, recomputed on demand rather than kept incrementally up
// to date) and pkg/trust/compliance.go's score-in-[0,1] discipline.
package eas

import (
	"context"
	"sync"
	"time"

	"github.com/netauton/sna-pdp/pkg/pdptypes"
	"github.com/netauton/sna-pdp/pkg/verdictstore"
)

// DefaultWindow is the lookback window used when none is configured.
const DefaultWindow = 30 * 24 * time.Hour

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Calculator computes and caches the Earned Autonomy Score over a
// sliding window of the verdict store.
type Calculator struct {
	store  verdictstore.Store
	window time.Duration
	clock  Clock

	mu      sync.RWMutex
	cached  float64
	stale   bool
}

// New returns a Calculator reading from store with the given lookback
// window. A zero window defaults to DefaultWindow.
func New(store verdictstore.Store, window time.Duration) *Calculator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Calculator{
		store:  store,
		window: window,
		clock:  time.Now,
		stale:  true,
	}
}

// WithClock overrides the calculator's time source; intended for tests.
func (c *Calculator) WithClock(clock Clock) *Calculator {
	c.clock = clock
	return c
}

// Current returns the cached EAS, recomputing first if the cache was
// invalidated since the last read.
func (c *Calculator) Current(ctx context.Context) (float64, error) {
	c.mu.RLock()
	if !c.stale {
		v := c.cached
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()
	return c.Recompute(ctx)
}

// Recompute unconditionally recomputes EAS from the verdict store and
// refreshes the cache. Idempotent: calling it repeatedly with an
// unchanged verdict store yields the same value.
func (c *Calculator) Recompute(ctx context.Context) (float64, error) {
	since := c.clock().Add(-c.window)

	counts, err := c.store.CountByVerdictSince(ctx, since)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	var score float64
	if total == 0 {
		score = 0.0 // ground truth: a new agent has no trust
	} else {
		score = float64(counts[pdptypes.VerdictPermit]) / float64(total)
	}

	c.mu.Lock()
	c.cached = score
	c.stale = false
	c.mu.Unlock()

	return score, nil
}

// Invalidate marks the cache stale. Call after every verdict store
// append so the next Current() observes the new entry.
func (c *Calculator) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}
