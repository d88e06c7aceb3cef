package ratelimit

import (
	"time"

	"github.com/r3nzsec/irflow-timeline/pkg/config"
)

// Result is one rate-limit decision.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	LimitType  string // "global", "disabled", or the endpoint name
	Remaining  float64
}

// Limiter holds the global bucket plus per-endpoint buckets. Endpoint
// names are the route identifiers the API middleware passes in.
type Limiter struct {
	enabled   bool
	global    *Bucket
	endpoints map[string]*Bucket
}

// NewLimiter builds a limiter from the rate-limit configuration.
func NewLimiter(cfg *config.RateLimitConfig) *Limiter {
	l := &Limiter{
		enabled:   cfg.Enabled,
		endpoints: make(map[string]*Bucket),
	}
	l.global = NewBucket(float64(cfg.Global.BurstSize), cfg.Global.RequestsPerSecond)
	for _, ep := range cfg.Endpoints {
		l.endpoints[ep.Name] = NewBucket(float64(ep.BurstSize), ep.RequestsPerSecond)
	}
	return l
}

// Allow checks one request against the global bucket and then the
// endpoint's bucket, refunding the global token on endpoint rejection.
func (l *Limiter) Allow(endpoint string) *Result {
	if !l.enabled {
		return &Result{Allowed: true, LimitType: "disabled", Remaining: -1}
	}

	if !l.global.TryConsume(1) {
		return &Result{
			Allowed:    false,
			RetryAfter: l.global.TimeToWait(1),
			LimitType:  "global",
			Remaining:  l.global.Tokens(),
		}
	}

	if bucket, ok := l.endpoints[endpoint]; ok {
		if !bucket.TryConsume(1) {
			l.global.Refund(1)
			return &Result{
				Allowed:    false,
				RetryAfter: bucket.TimeToWait(1),
				LimitType:  endpoint,
				Remaining:  bucket.Tokens(),
			}
		}
		return &Result{Allowed: true, LimitType: endpoint, Remaining: bucket.Tokens()}
	}

	return &Result{Allowed: true, LimitType: "global", Remaining: l.global.Tokens()}
}

// Enabled reports whether limiting is active.
func (l *Limiter) Enabled() bool { return l.enabled }
