package admission

import (
	"sync"
	"time"
)

// windowCounter counts hits per key inside fixed windows. A window resets
// entirely at expiry rather than sliding; stale keys are swept opportunistically
// to bound memory.
type windowCounter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	hits      map[string]*windowEntry
	now       func() time.Time
	lastSweep time.Time
	sweepEvery time.Duration
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

func newWindowCounter(window time.Duration, max int, now func() time.Time) *windowCounter {
	if now == nil {
		now = time.Now
	}
	return &windowCounter{
		window:     window,
		max:        max,
		hits:       make(map[string]*windowEntry),
		now:        now,
		lastSweep:  now(),
		sweepEvery: 10 * window,
	}
}

// Hit records one request for key and reports whether it fits inside the
// current window, along with how long until the window resets when it does not.
func (w *windowCounter) Hit(key string) (bool, time.Duration) {
	if w == nil || w.max <= 0 || key == "" {
		return true, 0
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sweepLocked(now)

	entry, ok := w.hits[key]
	if !ok || !now.Before(entry.resetAt) {
		w.hits[key] = &windowEntry{count: 1, resetAt: now.Add(w.window)}
		return true, 0
	}
	if entry.count >= w.max {
		return false, entry.resetAt.Sub(now)
	}
	entry.count++
	return true, 0
}

func (w *windowCounter) sweepLocked(now time.Time) {
	if now.Sub(w.lastSweep) < w.sweepEvery {
		return
	}
	for key, entry := range w.hits {
		if !now.Before(entry.resetAt) {
			delete(w.hits, key)
		}
	}
	w.lastSweep = now
}
