package infrastructure

import (
	"context"
	"sync"
	"time"

	"chatrelay/internal/interfaces"

	"golang.org/x/time/rate"
)

// LimiterIdleTTL is how long an unused limiter is kept before it is swept.
const LimiterIdleTTL = 10 * time.Minute

// KeyedLimiters hands out one token bucket per key and forgets keys that have
// been idle longer than the TTL.
type KeyedLimiters struct {
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	now       func() time.Time
	mu        sync.Mutex
	buckets   map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func NewKeyedLimiters(limit rate.Limit, burst int, ttl time.Duration) *KeyedLimiters {
	return &KeyedLimiters{
		limit:     limit,
		burst:     burst,
		ttl:       ttl,
		now:       time.Now,
		buckets:   make(map[string]*limiterEntry),
		lastSweep: time.Now(),
	}
}

// Get returns the limiter for key, creating it on first use.
func (k *KeyedLimiters) Get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if now.Sub(k.lastSweep) >= k.ttl {
		for key, e := range k.buckets {
			if now.Sub(e.lastUsed) > k.ttl {
				delete(k.buckets, key)
			}
		}
		k.lastSweep = now
	}

	e, ok := k.buckets[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = e
	}
	e.lastUsed = now
	return e.limiter
}

// ThrottledSender rate limits outbound sends per integration. Callers block
// until a token is available or their context ends.
type ThrottledSender struct {
	next     interfaces.Sender
	limiters *KeyedLimiters
}

func NewThrottledSender(next interfaces.Sender, perSecond float64, burst int) *ThrottledSender {
	return &ThrottledSender{
		next:     next,
		limiters: NewKeyedLimiters(rate.Limit(perSecond), burst, LimiterIdleTTL),
	}
}

func (s *ThrottledSender) SendText(ctx context.Context, req interfaces.SendRequest) (string, error) {
	if err := s.wait(ctx, req); err != nil {
		return "", err
	}
	return s.next.SendText(ctx, req)
}

func (s *ThrottledSender) SendFile(ctx context.Context, req interfaces.SendRequest) (string, error) {
	if err := s.wait(ctx, req); err != nil {
		return "", err
	}
	return s.next.SendFile(ctx, req)
}

func (s *ThrottledSender) wait(ctx context.Context, req interfaces.SendRequest) error {
	key := ""
	if req.Integration != nil {
		key = req.Integration.ID
	}
	return s.limiters.Get(key).Wait(ctx)
}
