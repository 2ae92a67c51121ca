package monitor

import (
	"sync"
	"time"
)

const (
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 2 * time.Minute
)

// Breaker counts consecutive failures per contract key and skips a key for
// a cooldown once the threshold is reached.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  map[string]int
	openUntil map[string]time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		failures:  make(map[string]int),
		openUntil: make(map[string]time.Time),
	}
}

// Allow reports whether key may be attempted at now. An expired cooldown
// closes the breaker and clears the failure count.
func (b *Breaker) Allow(key string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, open := b.openUntil[key]
	if !open {
		return true
	}
	if now.Before(until) {
		return false
	}
	delete(b.openUntil, key)
	delete(b.failures, key)
	return true
}

// Failure records a failed attempt and reports whether it tripped the
// breaker.
func (b *Breaker) Failure(key string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[key]++
	if b.failures[key] < b.threshold {
		return false
	}
	b.openUntil[key] = now.Add(b.cooldown)
	b.failures[key] = 0
	return true
}

// Success resets the key.
func (b *Breaker) Success(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, key)
	delete(b.openUntil, key)
}

// Open returns the keys currently skipped and when they reopen.
func (b *Breaker) Open(now time.Time) map[string]time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]time.Time)
	for k, until := range b.openUntil {
		if now.Before(until) {
			out[k] = until
		}
	}
	return out
}
