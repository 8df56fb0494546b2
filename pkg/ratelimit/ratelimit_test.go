package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiterBurstThenDeny(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(Policy{PerMinute: 60, Burst: 2}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "org-a")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("burst call %d must be allowed", i)
		}
	}

	d, err := l.Allow(ctx, "org-a")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("third call in the same instant must be denied")
	}
	if d.RetryAfter < time.Second {
		t.Fatalf("retryAfter = %v, want >= 1s", d.RetryAfter)
	}
}

func TestLocalLimiterDeniedCallsDoNotCompound(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(Policy{PerMinute: 60, Burst: 1}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "org-a"); !d.Allowed {
		t.Fatal("first call must be allowed")
	}

	// A throttled producer hammering the endpoint must not push its
	// own retry window further out.
	var last Decision
	for i := 0; i < 5; i++ {
		last, _ = l.Allow(ctx, "org-a")
		if last.Allowed {
			t.Fatalf("call %d must be denied", i)
		}
	}
	if last.RetryAfter != time.Second {
		t.Fatalf("retryAfter after repeated denials = %v, want 1s", last.RetryAfter)
	}
}

func TestLocalLimiterRefills(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(Policy{PerMinute: 60, Burst: 1}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "org-a"); !d.Allowed {
		t.Fatal("first call must be allowed")
	}
	if d, _ := l.Allow(ctx, "org-a"); d.Allowed {
		t.Fatal("bucket must be empty")
	}

	now = now.Add(1100 * time.Millisecond)
	if d, _ := l.Allow(ctx, "org-a"); !d.Allowed {
		t.Fatal("one token must have refilled after a second")
	}
}

func TestLocalLimiterIsolatesOrgs(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(Policy{PerMinute: 60, Burst: 1}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "org-a"); !d.Allowed {
		t.Fatal("org-a first call must be allowed")
	}
	if d, _ := l.Allow(ctx, "org-a"); d.Allowed {
		t.Fatal("org-a must be throttled")
	}
	if d, _ := l.Allow(ctx, "org-b"); !d.Allowed {
		t.Fatal("org-b must not share org-a's bucket")
	}
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, time.Second},
		{time.Millisecond, time.Second},
		{time.Second, time.Second},
		{1200 * time.Millisecond, 2 * time.Second},
		{30 * time.Second, 30 * time.Second},
	}
	for _, c := range cases {
		if got := retryAfterSeconds(c.in); got != c.want {
			t.Errorf("retryAfterSeconds(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestPolicyFallbacks(t *testing.T) {
	p := Policy{}
	if p.ratePerSec() != 1.0 {
		t.Errorf("zero policy rate = %v, want 1.0", p.ratePerSec())
	}
	if p.burst() != 1 {
		t.Errorf("zero policy burst = %d, want 1", p.burst())
	}
	if DefaultPolicy().PerMinute != DefaultPerMinute || DefaultPolicy().Burst != DefaultBurst {
		t.Error("default policy constants drifted")
	}
}
