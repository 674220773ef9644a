// Package backoff holds the delay arithmetic behind the retry policy. It is
// deliberately tiny and deterministic: the calculator owns a seeded random
// source so a fixed seed reproduces the exact delay sequence in tests.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Calculator produces capped exponential delays with proportional jitter.
// Safe for concurrent use.
type Calculator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Calculator with the given seed.
func New(seed int64) *Calculator {
	return &Calculator{rng: rand.New(rand.NewSource(seed))}
}

// Delay returns min(cap, base*2^attempt) plus uniform jitter in
// [0, jitter*delay). Attempt is clamped to avoid overflow.
func (c *Calculator) Delay(attempt int, base, cap time.Duration, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(float64(base) * Pow(2.0, attempt))
	if d < 0 || d > cap {
		d = cap
	}
	return c.Jitter(d, jitter)
}

// Jitter adds uniform jitter in [0, jitter*d) to d. The jitter fraction is
// clamped to [0, 1].
func (c *Calculator) Jitter(d time.Duration, jitter float64) time.Duration {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	if jitter == 0 || d <= 0 {
		return d
	}

	c.mu.Lock()
	f := c.rng.Float64()
	c.mu.Unlock()

	return d + time.Duration(float64(d)*jitter*f)
}

// Pow is integer exponentiation on float64, enough for backoff growth.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
