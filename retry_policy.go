package reqflow

import (
	"time"

	"github.com/avelar-io/reqflow/internal/backoff"
)

// Decision is a RetryPolicy verdict for a failed attempt.
type Decision struct {
	// Retry re-enqueues the operation after the given delay.
	Retry bool
	After time.Duration

	// Terminal is the classification to surface when Retry is false. It is
	// usually the input classification, or ClassDeadlineExceeded when the
	// computed delay would overrun the operation's deadline.
	Terminal Classification
}

// RetryPolicy decides whether a failed attempt is retried and with what
// delay. Implementations must be pure given their random source: the same
// seed and inputs produce the same decisions.
type RetryPolicy interface {
	Decide(op *Operation, history []Attempt, class Classification, serverDelay time.Duration) Decision
}

// DefaultRetryPolicy retries transient failures of idempotent operations
// with capped exponential backoff plus proportional jitter. Rate-limited
// failures that carry a server-specified delay use that delay directly
// (jitter still applied).
type DefaultRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	capDelay    time.Duration
	jitter      float64
	calc        *backoff.Calculator
	now         func() time.Time
}

// NewDefaultRetryPolicy creates the standard policy. maxAttempts bounds the
// attempt index: an attempt index >= maxAttempts is terminal.
func NewDefaultRetryPolicy(maxAttempts int, baseDelay, capDelay time.Duration, jitter float64) *DefaultRetryPolicy {
	return NewSeededRetryPolicy(time.Now().UnixNano(), maxAttempts, baseDelay, capDelay, jitter)
}

// NewSeededRetryPolicy creates a policy whose jitter sequence is fully
// determined by seed; required for reproducible tests.
func NewSeededRetryPolicy(seed int64, maxAttempts int, baseDelay, capDelay time.Duration, jitter float64) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		capDelay:    capDelay,
		jitter:      jitter,
		calc:        backoff.New(seed),
		now:         time.Now,
	}
}

// Decide implements RetryPolicy.
func (p *DefaultRetryPolicy) Decide(op *Operation, history []Attempt, class Classification, serverDelay time.Duration) Decision {
	if !class.retryable() || !op.Idempotent() {
		return Decision{Terminal: class}
	}

	attemptIndex := len(history) - 1
	if attemptIndex < 0 {
		attemptIndex = 0
	}
	if attemptIndex >= p.maxAttempts {
		return Decision{Terminal: class}
	}

	var delay time.Duration
	if class == ClassRateLimited && serverDelay > 0 {
		delay = p.calc.Jitter(serverDelay, p.jitter)
	} else {
		delay = p.calc.Delay(attemptIndex, p.baseDelay, p.capDelay, p.jitter)
	}

	if deadline := op.Deadline(); !deadline.IsZero() {
		if p.now().Add(delay).After(deadline) {
			return Decision{Terminal: ClassDeadlineExceeded}
		}
	}

	return Decision{Retry: true, After: delay}
}
