package ratelimit

import (
	"testing"
	"time"

	"github.com/r3nzsec/irflow-timeline/pkg/config"
)

func TestBucketConsumeAndRefill(t *testing.T) {
	b := NewBucket(2, 100)

	if !b.TryConsume(1) || !b.TryConsume(1) {
		t.Fatal("full bucket must allow its capacity")
	}
	if b.TryConsume(1) {
		t.Fatal("empty bucket must reject")
	}

	// 100 tokens/second refills quickly.
	time.Sleep(30 * time.Millisecond)
	if !b.TryConsume(1) {
		t.Error("bucket did not refill")
	}
}

func TestBucketTimeToWait(t *testing.T) {
	b := NewBucket(1, 10)
	b.TryConsume(1)
	if w := b.TimeToWait(1); w <= 0 {
		t.Errorf("TimeToWait = %v, want positive", w)
	}
	b.Refund(1)
	if w := b.TimeToWait(1); w != 0 {
		t.Errorf("TimeToWait after refund = %v, want 0", w)
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(&config.RateLimitConfig{Enabled: false})
	for i := 0; i < 1000; i++ {
		if r := l.Allow("query"); !r.Allowed {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}

func TestLimiterEndpointBucket(t *testing.T) {
	l := NewLimiter(&config.RateLimitConfig{
		Enabled: true,
		Global:  config.LimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
		Endpoints: []config.EndpointLimit{
			{Name: "analytics", RequestsPerSecond: 0.001, BurstSize: 2},
		},
	})

	if r := l.Allow("analytics"); !r.Allowed {
		t.Fatal("first request must pass")
	}
	if r := l.Allow("analytics"); !r.Allowed {
		t.Fatal("burst must pass")
	}
	r := l.Allow("analytics")
	if r.Allowed {
		t.Fatal("exhausted endpoint bucket must reject")
	}
	if r.LimitType != "analytics" {
		t.Errorf("limit type = %q", r.LimitType)
	}
	if r.RetryAfter <= 0 {
		t.Errorf("retryAfter = %v", r.RetryAfter)
	}

	// Other endpoints ride the global bucket only.
	if r := l.Allow("query"); !r.Allowed {
		t.Error("unrelated endpoint throttled")
	}
}

func TestLimiterGlobalBucket(t *testing.T) {
	l := NewLimiter(&config.RateLimitConfig{
		Enabled: true,
		Global:  config.LimitConfig{RequestsPerSecond: 0.001, BurstSize: 1},
	})

	if r := l.Allow(""); !r.Allowed {
		t.Fatal("first request must pass")
	}
	if r := l.Allow(""); r.Allowed {
		t.Fatal("global bucket must reject when drained")
	}
}
