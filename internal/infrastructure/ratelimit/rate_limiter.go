package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage = "send_message"
	ActionFlush       = "flush"
	ActionRequest     = "request"
)

// Policy is a token bucket: Burst tokens, refilled one every Every.
type Policy struct {
	Burst int
	Every time.Duration
}

var defaultPolicies = map[string]Policy{
	// 10 messages per minute
	ActionSendMessage: {Burst: 10, Every: 6 * time.Second},
	// Manual flushes are cheap to repeat but pointless when hammered.
	ActionFlush: {Burst: 3, Every: 10 * time.Second},
	// Any API call, keyed by client IP.
	ActionRequest: {Burst: 60, Every: 500 * time.Millisecond},
}

var fallbackPolicy = Policy{Burst: 20, Every: 3 * time.Second}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting for different users and actions
type RateLimiter struct {
	policies map[string]Policy
	buckets  map[string]*bucket
	mutex    sync.Mutex
	idleTTL  time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter. Policies override the
// defaults per action.
func NewRateLimiter(policies map[string]Policy) *RateLimiter {
	merged := make(map[string]Policy, len(defaultPolicies)+len(policies))
	for action, p := range defaultPolicies {
		merged[action] = p
	}
	for action, p := range policies {
		merged[action] = p
	}
	return &RateLimiter{
		policies: merged,
		buckets:  make(map[string]*bucket),
		idleTTL:  time.Hour,
		now:      time.Now,
	}
}

// Allow checks if a user action is allowed. When it is not, the returned
// duration is how long until the next token.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	now := rl.now()
	r := rl.limiterFor(userID+":"+action, action, now).ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// GetStatus returns current rate limit status for a user action
func (rl *RateLimiter) GetStatus(userID, action string) (tokens int, maxTokens int) {
	rl.mutex.Lock()
	b, ok := rl.buckets[userID+":"+action]
	rl.mutex.Unlock()

	policy := rl.policy(action)
	if !ok {
		return policy.Burst, policy.Burst
	}
	return int(b.limiter.TokensAt(rl.now())), policy.Burst
}

func (rl *RateLimiter) limiterFor(key, action string, now time.Time) *rate.Limiter {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	policy := rl.policy(action)
	b := &bucket{
		limiter:  rate.NewLimiter(rate.Every(policy.Every), policy.Burst),
		lastSeen: now,
	}
	rl.buckets[key] = b
	return b.limiter
}

func (rl *RateLimiter) policy(action string) Policy {
	if p, ok := rl.policies[action]; ok {
		return p
	}
	return fallbackPolicy
}

// Cleanup removes buckets that haven't been used recently
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
