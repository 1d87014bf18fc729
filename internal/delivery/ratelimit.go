package delivery

import (
	"sync"
	"time"
)

const (
	DefaultGlobalLimit       = 5
	DefaultGlobalWindow      = time.Second
	DefaultRecipientInterval = 10 * time.Second

	// recipientPruneAt bounds the last-send map; entries past the interval carry no delay.
	recipientPruneAt = 1024
)

// RateLimiter combines a global sliding window with a per-recipient minimum interval.
//
// It only computes delays; the caller decides whether and how long to wait.
// The queue worker is its only writer, the mutex covers Apply and admin reads.
type RateLimiter struct {
	mu    sync.Mutex
	clock Clock

	limit    int
	window   time.Duration
	interval time.Duration

	sends    []time.Time // oldest first
	lastSend map[string]time.Time
}

func NewRateLimiter(clock Clock, limit int, window, interval time.Duration) *RateLimiter {
	if clock == nil {
		clock = SystemClock()
	}
	rl := &RateLimiter{clock: clock, lastSend: map[string]time.Time{}}
	rl.setLimits(limit, window, interval)
	return rl
}

func (r *RateLimiter) setLimits(limit int, window, interval time.Duration) {
	if limit <= 0 {
		limit = DefaultGlobalLimit
	}
	if window <= 0 {
		window = DefaultGlobalWindow
	}
	if interval < 0 {
		interval = 0
	}
	r.limit, r.window, r.interval = limit, window, interval
}

// SetLimits swaps the limits at runtime. Recorded history is kept.
func (r *RateLimiter) SetLimits(limit int, window, interval time.Duration) {
	r.mu.Lock()
	r.setLimits(limit, window, interval)
	r.mu.Unlock()
}

// GlobalDelay returns how long to wait before the next send fits the window.
func (r *RateLimiter) GlobalDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.trimLocked(now)
	if len(r.sends) < r.limit {
		return 0
	}
	// The oldest send that still counts against the limit.
	d := r.sends[len(r.sends)-r.limit].Add(r.window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (r *RateLimiter) trimLocked(now time.Time) {
	i := 0
	for i < len(r.sends) && now.Sub(r.sends[i]) >= r.window {
		i++
	}
	if i > 0 {
		r.sends = append(r.sends[:0], r.sends[i:]...)
	}
}

// RecipientDelay returns the remaining part of the per-recipient interval.
func (r *RateLimiter) RecipientDelay(recipient string) time.Duration {
	key := NormalizeRecipient(recipient)
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.lastSend[key]
	if !ok {
		return 0
	}
	d := last.Add(r.interval).Sub(r.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// RecordAttempt adds now to the global window.
func (r *RateLimiter) RecordAttempt() {
	r.mu.Lock()
	r.sends = append(r.sends, r.clock.Now())
	r.mu.Unlock()
}

// RecordSuccess stamps the recipient's last successful send.
func (r *RateLimiter) RecordSuccess(recipient string) {
	key := NormalizeRecipient(recipient)
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.lastSend[key] = now
	if len(r.lastSend) > recipientPruneAt {
		for k, t := range r.lastSend {
			if now.Sub(t) >= r.interval {
				delete(r.lastSend, k)
			}
		}
	}
}
