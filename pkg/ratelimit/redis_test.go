package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// TestRedisLimiterIntegration requires a running Redis and skips when
// none is reachable on the default address.
func TestRedisLimiterIntegration(t *testing.T) {
	l := NewRedisLimiter("localhost:6379", "", 0, Policy{PerMinute: 60, Burst: 1})
	ctx := context.Background()
	if err := l.Ping(ctx); err != nil {
		t.Skip("skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() { _ = l.Close() })

	// Fresh org per run so leftover bucket state cannot leak in.
	orgID := fmt.Sprintf("org-test-%d", time.Now().UnixNano())

	d, err := l.Allow(ctx, orgID)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !d.Allowed {
		t.Fatal("fresh bucket must allow")
	}

	d, err = l.Allow(ctx, orgID)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("empty bucket must deny")
	}
	if d.RetryAfter < time.Second {
		t.Fatalf("retryAfter = %v, want >= 1s", d.RetryAfter)
	}

	time.Sleep(1100 * time.Millisecond)
	d, err = l.Allow(ctx, orgID)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !d.Allowed {
		t.Fatal("bucket must refill after a second")
	}
}
