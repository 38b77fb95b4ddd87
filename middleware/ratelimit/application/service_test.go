package application

import (
	"context"
	"testing"
	"time"

	"memoria-gateway/middleware/ratelimit/domain"
)

type fakeLimiter struct {
	allowed     bool
	whitelisted bool
	calls       int
	lastBurst   float64
}

func (f *fakeLimiter) IsAllowed(_ context.Context, key domain.Key, limit int, window time.Duration, burst float64) domain.Decision {
	f.calls++
	f.lastBurst = burst
	return domain.Decision{Allowed: f.allowed, Limit: limit, Remaining: limit - 1, ResetTime: time.Now().Add(window)}
}

func (f *fakeLimiter) IsWhitelisted(context.Context, domain.Key) bool { return f.whitelisted }

func TestService_Decide_AllowsWhenDisabled(t *testing.T) {
	lim := &fakeLimiter{allowed: false}
	svc := Service{Limiter: lim, Enabled: false}

	dec := svc.Decide(context.Background(), domain.Check{Scope: "ip", Key: "k", Limit: 10, Window: time.Minute})
	if !dec.Allowed {
		t.Fatalf("expected allowed when disabled")
	}
	if dec.Remaining != 10 {
		t.Fatalf("expected full quota when disabled, got %d", dec.Remaining)
	}
	if lim.calls != 0 {
		t.Fatalf("expected no backend call when disabled, got %d", lim.calls)
	}
}

func TestService_Decide_AllowsWhenNoLimiter(t *testing.T) {
	svc := Service{Enabled: true}
	dec := svc.Decide(context.Background(), domain.Check{Key: "k", Limit: 5, Window: time.Minute})
	if !dec.Allowed {
		t.Fatalf("expected allowed without limiter")
	}
}

func TestService_Decide_WhitelistSkipsCount(t *testing.T) {
	lim := &fakeLimiter{allowed: false, whitelisted: true}
	svc := Service{Limiter: lim, Enabled: true}

	dec := svc.Decide(context.Background(), domain.Check{Key: "vip", Limit: 10, Window: time.Minute})
	if !dec.Allowed {
		t.Fatalf("expected whitelisted key to be allowed")
	}
	if lim.calls != 0 {
		t.Fatalf("expected whitelisted key to skip the window, got %d calls", lim.calls)
	}
}

func TestService_Decide_DelegatesToLimiter(t *testing.T) {
	lim := &fakeLimiter{allowed: false}
	svc := Service{Limiter: lim, Enabled: true}

	dec := svc.Decide(context.Background(), domain.Check{Key: "k", Limit: 10, Window: time.Minute})
	if dec.Allowed {
		t.Fatalf("expected limiter rejection to propagate")
	}
	if lim.calls != 1 {
		t.Fatalf("expected one limiter call, got %d", lim.calls)
	}
}

func TestService_Decide_DefaultBurstMultiplier(t *testing.T) {
	lim := &fakeLimiter{allowed: true}
	svc := Service{Limiter: lim, Enabled: true}

	svc.Decide(context.Background(), domain.Check{Key: "k", Limit: 10, Window: time.Minute})
	if lim.lastBurst != DefaultBurstMultiplier {
		t.Fatalf("expected default burst %.2f, got %.2f", DefaultBurstMultiplier, lim.lastBurst)
	}
}
