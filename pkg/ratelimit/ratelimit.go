// Package ratelimit throttles ingestion per organization.
//
// Two backends implement the same Limiter contract: an in-process
// token bucket for single-node deployments and a Redis-backed bucket
// shared across nodes. Both answer with a Decision carrying the
// Retry-After hint surfaced on 429 responses.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default per-organization policy.
const (
	DefaultPerMinute = 600
	DefaultBurst     = 100
)

// Policy defines the per-organization bucket shape.
type Policy struct {
	PerMinute int
	Burst     int
}

// DefaultPolicy returns the standard ingestion policy.
func DefaultPolicy() Policy {
	return Policy{PerMinute: DefaultPerMinute, Burst: DefaultBurst}
}

func (p Policy) ratePerSec() float64 {
	r := float64(p.PerMinute) / 60.0
	if r <= 0 {
		r = 1.0
	}
	return r
}

func (p Policy) burst() int {
	if p.Burst <= 0 {
		return 1
	}
	return p.Burst
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is the suggested wait before retrying, rounded up to
	// whole seconds and at least one second when denied.
	RetryAfter time.Duration
}

// Limiter admits or throttles one event for an organization.
type Limiter interface {
	Allow(ctx context.Context, orgID string) (Decision, error)
}

// retryAfterSeconds rounds a wait up to whole seconds, minimum one.
func retryAfterSeconds(d time.Duration) time.Duration {
	secs := math.Ceil(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// orgLimiter tracks the limiter and last activity for one org.
type orgLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps one token bucket per organization in process.
type LocalLimiter struct {
	mu     sync.Mutex
	orgs   map[string]*orgLimiter
	policy Policy
	now    func() time.Time
}

// NewLocalLimiter creates an in-process limiter and starts background
// cleanup of idle organizations.
func NewLocalLimiter(policy Policy) *LocalLimiter {
	l := &LocalLimiter{
		orgs:   make(map[string]*orgLimiter),
		policy: policy,
		now:    time.Now,
	}
	go l.cleanupIdle()
	return l
}

// WithClock overrides the limiter clock for deterministic testing.
func (l *LocalLimiter) WithClock(now func() time.Time) *LocalLimiter {
	l.now = now
	return l
}

func (l *LocalLimiter) get(orgID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, exists := l.orgs[orgID]
	if !exists {
		o = &orgLimiter{
			limiter: rate.NewLimiter(rate.Limit(l.policy.ratePerSec()), l.policy.burst()),
		}
		l.orgs[orgID] = o
	}
	o.lastSeen = l.now()
	return o.limiter
}

// Allow consumes one token for the org, or reports how long to wait.
func (l *LocalLimiter) Allow(_ context.Context, orgID string) (Decision, error) {
	lim := l.get(orgID)

	now := l.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: retryAfterSeconds(time.Second)}, nil
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return Decision{Allowed: true}, nil
	}
	// The reservation was for a future token; give it back rather than
	// penalizing the next caller.
	r.CancelAt(now)
	return Decision{Allowed: false, RetryAfter: retryAfterSeconds(delay)}, nil
}

// cleanupIdle removes idle org entries to keep the map from growing
// without bound. Checks every minute, drops orgs idle for three.
func (l *LocalLimiter) cleanupIdle() {
	for {
		time.Sleep(1 * time.Minute)
		l.mu.Lock()
		for orgID, o := range l.orgs {
			if time.Since(o.lastSeen) > 3*time.Minute {
				delete(l.orgs, orgID)
			}
		}
		l.mu.Unlock()
	}
}
