package reqflow

import (
	"fmt"
	"time"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxConcurrent bounds how many operations may execute against the
// transport at once; default 8.
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		s.maxConcurrent = n
	}
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Scheduler) {
		s.policy = p
	}
}

// WithCache installs a response cache.
func WithCache(c Cache) Option {
	return func(s *Scheduler) {
		s.cache = c
	}
}

// WithMemoryCache installs an in-memory cache bounded by capacity bytes.
func WithMemoryCache(capacity int64) Option {
	return func(s *Scheduler) {
		s.cache = NewMemoryCache(WithCacheCapacity(capacity))
	}
}

// WithCacheTTL sets the fallback freshness lifetime applied when the server
// declares none; default 5m.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Scheduler) {
		s.cacheTTL = d
	}
}

// WithTokenCoordinator installs an existing coordinator, shared across
// schedulers if desired.
func WithTokenCoordinator(tc *TokenCoordinator) Option {
	return func(s *Scheduler) {
		s.tokens = tc
	}
}

// WithSession builds a TokenCoordinator over session, seeded with initial.
func WithSession(session Session, initial Token, opts ...TokenCoordinatorOption) Option {
	return func(s *Scheduler) {
		s.tokens = NewTokenCoordinator(session, initial, opts...)
	}
}

// WithCircuitBreaker gates dispatch with a circuit breaker.
func WithCircuitBreaker(cfg CircuitBreakerConfig) Option {
	return func(s *Scheduler) {
		s.breakerCfg = &cfg
	}
}

// WithRateLimit caps dispatch to perSecond operations with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Scheduler) {
		s.limiter = newRateLimiter(perSecond, burst)
	}
}

// WithMetrics registers instruments on the default Prometheus registerer.
func WithMetrics() Option {
	return func(s *Scheduler) {
		s.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector installs an existing collector, for custom
// registries.
func WithMetricsCollector(mc *MetricsCollector) Option {
	return func(s *Scheduler) {
		s.metrics = mc
	}
}

// WithLogger sets the scheduler's logger.
func WithLogger(l Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithSimpleLogger sets the standard-library-backed logger.
func WithSimpleLogger() Option {
	return func(s *Scheduler) {
		s.logger = NewSimpleLogger()
	}
}

// WithDebug enables lifecycle debug logging with the default stage set.
func WithDebug() Option {
	return func(s *Scheduler) {
		s.debug = DefaultDebugConfig()
	}
}

// WithDebugConfig enables debug logging with explicit stage control.
func WithDebugConfig(cfg *DebugConfig) Option {
	return func(s *Scheduler) {
		s.debug = cfg
		if cfg != nil && cfg.RequestIDGen == nil {
			cfg.RequestIDGen = DefaultDebugConfig().RequestIDGen
		}
	}
}

// validate checks the assembled configuration. The first problem found is
// returned as a ClassValidation error.
func (s *Scheduler) validate() error {
	if err := s.validateCore(); err != nil {
		return err
	}
	if err := s.validateAdmission(); err != nil {
		return err
	}
	return nil
}

func (s *Scheduler) validateCore() error {
	if s.transport == nil {
		return validationError("transport must not be nil")
	}
	if s.policy == nil {
		return validationError("retry policy must not be nil")
	}
	if s.cacheTTL < 0 {
		return validationError(fmt.Sprintf("cache TTL must not be negative, got %v", s.cacheTTL))
	}
	return nil
}

func (s *Scheduler) validateAdmission() error {
	if s.maxConcurrent < 1 {
		return validationError(fmt.Sprintf("max concurrent must be at least 1, got %d", s.maxConcurrent))
	}
	if s.limiter != nil && s.limiter.Burst() < 1 {
		return validationError("rate limit burst must be at least 1")
	}
	return nil
}

func validationError(msg string) *RequestError {
	return &RequestError{
		Type:      ClassValidation,
		Message:   msg,
		Timestamp: time.Now(),
	}
}
