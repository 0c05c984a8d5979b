// Package backoff implements the jittered exponential backoff shape
// used by both the transport connection cache (spec: base 100ms, cap
// 5s, ±25% jitter) and the orchestrator's provider retry policy (spec:
// base 500ms, cap 30s, max 6 attempts).
package backoff

import (
	"math/rand"
	"time"
)

// Policy describes one exponential-backoff schedule.
type Policy struct {
	Base       time.Duration
	Cap        time.Duration
	Jitter     float64 // fraction, e.g. 0.25 for ±25%
	MaxRetries int     // 0 means unlimited
}

// TransportPolicy is the §4.1 connection-reuse backoff.
func TransportPolicy() Policy {
	return Policy{Base: 100 * time.Millisecond, Cap: 5 * time.Second, Jitter: 0.25}
}

// ProviderPolicy is the §4.6 cloud-provider retry backoff.
func ProviderPolicy() Policy {
	return Policy{Base: 500 * time.Millisecond, Cap: 30 * time.Second, Jitter: 0.25, MaxRetries: 5}
}

// Duration returns the delay before retry attempt n (0-indexed).
func (p Policy) Duration(attempt int) time.Duration {
	d := p.Base << uint(attempt)
	if d <= 0 || d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 {
		delta := float64(d) * p.Jitter
		d = time.Duration(float64(d) - delta + rand.Float64()*2*delta)
	}
	return d
}

// Done reports whether attempt (0-indexed) has exhausted MaxRetries.
func (p Policy) Done(attempt int) bool {
	return p.MaxRetries > 0 && attempt >= p.MaxRetries
}
