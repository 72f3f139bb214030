// Package risk implements the two-stage admission-control gate: a
// tiered, violation-escalating rate limiter and a weighted header/ASN
// risk scorer, both run before any protected route handler.
package risk

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/synnergy-labs/challenge-gate/apierr"
	"github.com/synnergy-labs/challenge-gate/kv"
)

// Tier is one of the three (limit, jitter, windowMs) rate-limit bands,
// indexed by min(violationCount, 2).
type Tier struct {
	Limit    int
	Jitter   int
	WindowMs int64
}

// DefaultTiers are the default tier table: looser for clean IPs,
// progressively tighter after repeated violations. The exact numbers
// are tunable.
var DefaultTiers = [3]Tier{
	{Limit: 30, Jitter: 5, WindowMs: 1000},
	{Limit: 15, Jitter: 3, WindowMs: 1000},
	{Limit: 5, Jitter: 2, WindowMs: 1000},
}

const violationWindow = 120 * time.Second
const maxBlockSeconds = 25

// ipState is the in-process bookkeeping for one source IP: recent
// violation timestamps (a timestamped ring used as a sliding window,
// not bucket counts) and the current block.
type ipState struct {
	mu           sync.Mutex
	violations   []time.Time
	blockUntil   time.Time
	blockCount   int
	bucketCounts map[string]int // "tier:bucket" -> count, reset as buckets roll
	limiters     map[int]*rate.Limiter
}

// RateLimiter is the gate's first stage. Bucket/tier bookkeeping is
// process-local (rate limiting is inherently best-effort across
// replicas); kv.Store carries only the durable risk:rl:{ip} block
// record so escalation is visible when this service runs behind a
// shared store.
type RateLimiter struct {
	mu    sync.Mutex
	ips   map[string]*ipState
	tiers [3]Tier
}

// NewRateLimiter builds a RateLimiter with the given tier table.
func NewRateLimiter(tiers [3]Tier) *RateLimiter {
	return &RateLimiter{ips: make(map[string]*ipState), tiers: tiers}
}

func (rl *RateLimiter) stateFor(ip string) *ipState {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	st, ok := rl.ips[ip]
	if !ok {
		st = &ipState{bucketCounts: make(map[string]int), limiters: make(map[int]*rate.Limiter)}
		rl.ips[ip] = st
	}
	return st
}

// seededJitter draws a value in [-jitter, +jitter] using rejection
// sampling over a CSPRNG; the rate-limit path never uses a
// non-cryptographic source.
func seededJitter(jitter int) (int, error) {
	if jitter <= 0 {
		return 0, nil
	}
	span := uint32(2*jitter + 1)
	limit := (^uint32(0) / span) * span
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("risk: csprng read: %w", err)
		}
		v := binary.LittleEndian.Uint32(buf[:])
		if v < limit {
			return int(v%span) - jitter, nil
		}
	}
}

// Allow runs the rate limiter for a single request from ip at time
// now. It returns nil if the request is admitted, or a *apierr.Error
// with Kind KindRateLimited (carrying RetryAfter) if the IP is
// currently blocked. store may be nil in tests; in production it
// receives a best-effort copy of the active block under risk:rl:{ip}.
func (rl *RateLimiter) Allow(ctx context.Context, store kv.Store, ip string, now time.Time) (*apierr.Error, error) {
	st := rl.stateFor(ip)
	st.mu.Lock()
	defer st.mu.Unlock()

	if now.Before(st.blockUntil) {
		retryAfter := int(math.Ceil(st.blockUntil.Sub(now).Seconds()))
		return apierr.RateLimited(retryAfter), nil
	}

	tierIdx := len(st.violations)
	if tierIdx > 2 {
		tierIdx = 2
	}
	tier := rl.tiers[tierIdx]

	// A per-tier token bucket guards against sub-window bursts that a
	// coarse windowMs bucket count alone would admit (e.g. all of a
	// tier's allowance spent in the bucket's first millisecond).
	limiter, ok := st.limiters[tierIdx]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(tier.Limit)/rate.Limit(float64(tier.WindowMs)/1000), tier.Limit)
		st.limiters[tierIdx] = limiter
	}
	burstAllowed := limiter.AllowN(now, 1)

	bucket := now.UnixMilli() / tier.WindowMs
	key := fmt.Sprintf("%d:%d", tierIdx, bucket)
	st.bucketCounts[key]++
	count := st.bucketCounts[key]

	jitter, err := seededJitter(tier.Jitter)
	if err != nil {
		return nil, err
	}
	effectiveLimit := tier.Limit + jitter
	if effectiveLimit < 0 {
		effectiveLimit = 0
	}

	if count <= effectiveLimit && burstAllowed {
		return nil, nil
	}

	// Violation: record it and prune anything outside the 2-minute
	// window before checking the escalation threshold.
	st.violations = append(st.violations, now)
	cutoff := now.Add(-violationWindow)
	kept := st.violations[:0]
	for _, v := range st.violations {
		if v.After(cutoff) {
			kept = append(kept, v)
		}
	}
	st.violations = kept

	if len(st.violations) < 6 {
		return nil, nil
	}

	st.blockCount++
	st.violations = nil
	blockJitter, err := seededJitter(2)
	if err != nil {
		return nil, err
	}
	blockSeconds := 8 + 3*(st.blockCount-1) + blockJitter
	if blockSeconds > maxBlockSeconds {
		blockSeconds = maxBlockSeconds
	}
	if blockSeconds < 1 {
		blockSeconds = 1
	}
	st.blockUntil = now.Add(time.Duration(blockSeconds) * time.Second)
	persistBlock(ctx, store, ip, st.blockUntil)
	return apierr.RateLimited(blockSeconds), nil
}

// persistBlock records the active block in kv.Store under
// risk:rl:{ip}, best-effort: a failure here does not affect the
// in-process decision already made.
func persistBlock(ctx context.Context, store kv.Store, ip string, blockUntil time.Time) {
	if store == nil {
		return
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(blockUntil.UnixMilli()))
	_ = store.Set(ctx, "risk:rl:"+ip, buf[:], time.Until(blockUntil)+10*time.Second)
}
