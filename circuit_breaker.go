package reqflow

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig tunes the dispatch circuit breaker.
type CircuitBreakerConfig struct {
	// MaxRequests is how many probe dispatches the half-open state admits.
	MaxRequests uint32

	// Interval resets the closed-state failure counts; zero never resets.
	Interval time.Duration

	// Timeout is how long the open state lasts before probing.
	Timeout time.Duration

	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold uint32
}

// DefaultCircuitBreakerConfig matches a conservative dispatch gate: open
// after 5 consecutive failures, probe once after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:      1,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// CircuitBreaker gates transport dispatch. The scheduler asks permission
// before each attempt and reports the outcome afterwards; while open, every
// dispatch is rejected with ErrCircuitOpen without consuming a slot's worth
// of transport work.
type CircuitBreaker struct {
	inner   *gobreaker.TwoStepCircuitBreaker[any]
	logger  Logger
	metrics *MetricsCollector
}

func newCircuitBreaker(cfg CircuitBreakerConfig, logger Logger, metrics *MetricsCollector) *CircuitBreaker {
	cb := &CircuitBreaker{logger: logger, metrics: metrics}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultCircuitBreakerConfig().FailureThreshold
	}

	cb.inner = gobreaker.NewTwoStepCircuitBreaker[any](gobreaker.Settings{
		Name:        "reqflow-dispatch",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cb.metrics.RecordCircuitTransition(from.String(), to.String())
			if cb.logger != nil {
				cb.logger.Warn("circuit breaker state change",
					"name", name, "from", from.String(), "to", to.String())
			}
		},
	})
	return cb
}

// Allow asks permission for one dispatch. On success it returns a done
// callback that must be called with the attempt outcome; otherwise it
// returns ErrCircuitOpen.
func (cb *CircuitBreaker) Allow() (func(success bool), error) {
	done, err := cb.inner.Allow()
	if err != nil {
		return nil, ErrCircuitOpen
	}
	return done, nil
}

// State returns the current breaker state name.
func (cb *CircuitBreaker) State() string {
	return cb.inner.State().String()
}
