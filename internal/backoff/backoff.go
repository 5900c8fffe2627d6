// Package backoff provides the capped exponential delay the bot loop
// applies after a failed poll of the chat platform, so a chat API that
// stays down is retried at 2s, 4s, 8s ... up to the cap instead of in a
// tight loop.
package backoff

import (
	"context"
	"time"
)

// Policy controls delay growth.
type Policy struct {
	// Initial is the first delay after a failure (default 2s).
	Initial time.Duration
	// Max is the ceiling for delay growth (default 60s).
	Max time.Duration
	// Multiplier scales the delay after each consecutive failure
	// (default 2.0).
	Multiplier float64
}

// DefaultPolicy returns 2s, 4s, 8s, 16s, 32s, 60s (capped).
func DefaultPolicy() Policy {
	return Policy{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// Backoff tracks consecutive failures under a Policy. It is not safe
// for concurrent use; the bot loop owns exactly one.
type Backoff struct {
	policy Policy
	next   time.Duration
}

// New returns a Backoff positioned at the policy's initial delay.
func New(p Policy) *Backoff {
	p = p.withDefaults()
	return &Backoff{policy: p, next: p.Initial}
}

// Next returns the delay to wait now and grows the following one.
func (b *Backoff) Next() time.Duration {
	d := b.next
	grown := time.Duration(float64(b.next) * b.policy.Multiplier)
	if grown > b.policy.Max {
		grown = b.policy.Max
	}
	b.next = grown
	return d
}

// Reset returns to the initial delay after a success.
func (b *Backoff) Reset() {
	b.next = b.policy.Initial
}

// Sleep sleeps for d or until ctx is cancelled. Returns false if cancelled.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
