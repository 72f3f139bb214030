package risk

import (
	"context"
	"testing"
	"time"
)

func TestAllowAdmitsUpToLimit(t *testing.T) {
	tiers := [3]Tier{
		{Limit: 5, Jitter: 0, WindowMs: 1000},
		{Limit: 5, Jitter: 0, WindowMs: 1000},
		{Limit: 5, Jitter: 0, WindowMs: 1000},
	}
	rl := NewRateLimiter(tiers)
	now := time.Unix(1_700_000_000, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		blocked, err := rl.Allow(ctx, nil, "1.2.3.4", now)
		if err != nil {
			t.Fatal(err)
		}
		if blocked != nil {
			t.Fatalf("request %d: expected admission within limit, got blocked", i)
		}
	}
}

func TestSixthViolationWithin120sEscalatesToBlock(t *testing.T) {
	tiers := [3]Tier{
		{Limit: 1, Jitter: 0, WindowMs: 1000},
		{Limit: 1, Jitter: 0, WindowMs: 1000},
		{Limit: 1, Jitter: 0, WindowMs: 1000},
	}
	rl := NewRateLimiter(tiers)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	var lastBlocked *time.Time
	for burst := 0; burst < 7; burst++ {
		now := base.Add(time.Duration(burst) * 2 * time.Second)
		// first request in a fresh bucket is always admitted by the
		// tier limit (limit=1); the second is the violation.
		if _, err := rl.Allow(ctx, nil, "9.9.9.9", now); err != nil {
			t.Fatal(err)
		}
		blocked, err := rl.Allow(ctx, nil, "9.9.9.9", now.Add(time.Millisecond))
		if err != nil {
			t.Fatal(err)
		}
		if blocked != nil {
			tm := now
			lastBlocked = &tm
			break
		}
	}
	if lastBlocked == nil {
		t.Fatal("expected escalation to a block within 7 violation bursts")
	}
}

func TestBlockedIPReturnsRetryAfterWhileBlocked(t *testing.T) {
	tiers := [3]Tier{
		{Limit: 1, Jitter: 0, WindowMs: 1000},
		{Limit: 1, Jitter: 0, WindowMs: 1000},
		{Limit: 1, Jitter: 0, WindowMs: 1000},
	}
	rl := NewRateLimiter(tiers)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	ip := "5.5.5.5"
	st := rl.stateFor(ip)
	st.blockUntil = now.Add(10 * time.Second)

	blocked, err := rl.Allow(ctx, nil, ip, now)
	if err != nil {
		t.Fatal(err)
	}
	if blocked == nil {
		t.Fatal("expected a block result")
	}
	if blocked.RetryAfter < 1 || blocked.RetryAfter > 10 {
		t.Fatalf("retry-after = %d, want in [1,10]", blocked.RetryAfter)
	}
}
