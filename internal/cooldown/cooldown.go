// Package cooldown tracks per-subject, per-action cooldowns in memory.
package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Outcome is the result of a cooldown check.
type Outcome struct {
	// Allowed is true if the action may proceed. The cooldown has already been
	// stamped when this is true.
	Allowed bool
	// Remaining is the time left until the action is allowed again. It is zero
	// if Allowed is true.
	Remaining time.Duration
}

// Seconds returns Remaining in whole seconds, rounded up.
func (o Outcome) Seconds() int {
	if o.Remaining <= 0 {
		return 0
	}
	return int((o.Remaining + time.Second - 1) / time.Second)
}

type recordKey struct {
	subject string
	action  string
}

// Tracker holds at most one cooldown record per subject and action.
// A zero Tracker is not usable; use New.
type Tracker struct {
	clock   clockwork.Clock
	mu      sync.Mutex
	records map[recordKey]time.Time // expiry instants
}

// New creates a new Tracker. If c is nil, the real clock is used.
func New(c clockwork.Clock) *Tracker {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Tracker{
		clock:   c,
		records: make(map[recordKey]time.Time),
	}
}

// CheckAndStamp checks whether subject may perform action. If it may, a new
// cooldown lasting window is recorded before returning. A non-positive window
// means no cooldown is configured: the action is allowed and nothing is
// recorded.
func (t *Tracker) CheckAndStamp(subject, action string, window time.Duration) Outcome {
	if window <= 0 {
		return Outcome{Allowed: true}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	key := recordKey{subject, action}

	if expiresAt, ok := t.records[key]; ok && expiresAt.After(now) {
		return Outcome{Remaining: expiresAt.Sub(now)}
	}

	t.records[key] = now.Add(window)
	return Outcome{Allowed: true}
}

// Clear drops the cooldown of subject for action, if any.
func (t *Tracker) Clear(subject, action string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, recordKey{subject, action})
}

// Len returns the number of records held, including expired ones that have
// not been swept yet.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Sweep removes every expired record and returns how many were removed. It
// only reclaims memory: CheckAndStamp ignores expired records regardless.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var n int
	for key, expiresAt := range t.records {
		if !expiresAt.After(now) {
			delete(t.records, key)
			n++
		}
	}
	return n
}

// Run sweeps the tracker every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	ticker := t.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			t.Sweep()
		}
	}
}
