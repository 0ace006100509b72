package progress

import (
	"sync"
	"time"
)

const defaultPollWindow = 1 * time.Second

// PollLimiter throttles progress polling per identity+job pair so an
// aggressive client cannot hammer the snapshot endpoint.
type PollLimiter struct {
	mu      sync.Mutex
	lastHit map[string]time.Time
	now     func() time.Time
	window  time.Duration
}

// NewPollLimiter constructs a PollLimiter. A nil now func uses the wall clock.
func NewPollLimiter(window time.Duration, now func() time.Time) *PollLimiter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = defaultPollWindow
	}
	return &PollLimiter{
		lastHit: make(map[string]time.Time),
		now:     now,
		window:  window,
	}
}

// Allow reports whether the identity may poll the job again.
func (l *PollLimiter) Allow(identity, jobID string) bool {
	if l == nil {
		return true
	}
	key := identity + "|" + jobID
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastHit[key]; ok {
		if now.Sub(last) < l.window {
			return false
		}
	}
	l.lastHit[key] = now
	return true
}

// RetryAfterSeconds returns the advisory wait for a throttled poll.
func (l *PollLimiter) RetryAfterSeconds() int {
	if l == nil {
		return int(defaultPollWindow.Seconds())
	}
	return int(l.window.Seconds())
}
