package reqflow

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Scheduler admits, executes and resolves Operations. It bounds concurrent
// transport work to a fixed slot budget, admits queued operations by
// priority (ties in submission order), serves cacheable operations from its
// Cache, coordinates credential refresh through a TokenCoordinator and
// drives retries through its RetryPolicy. Safe for concurrent use.
type Scheduler struct {
	transport  Transport
	policy     RetryPolicy
	cache      Cache
	cacheTTL   time.Duration
	tokens     *TokenCoordinator
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
	breakerCfg *CircuitBreakerConfig
	metrics    *MetricsCollector
	logger     Logger
	debug      *DebugConfig

	maxConcurrent   int
	validationError error

	mu       sync.Mutex
	queue    waitQueue
	inFlight int
	seq      uint64
	closed   bool
}

const (
	defaultMaxConcurrent = 8
	defaultCacheTTL      = 5 * time.Minute
)

// New creates a Scheduler around transport. Configuration problems are
// recorded rather than returned: check IsValid before first use, or let the
// first Submit surface the validation error.
func New(transport Transport, opts ...Option) *Scheduler {
	s := &Scheduler{
		transport:     transport,
		policy:        NewDefaultRetryPolicy(3, 100*time.Millisecond, 30*time.Second, 0.2),
		cacheTTL:      defaultCacheTTL,
		maxConcurrent: defaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.debug != nil && s.debug.Enabled && s.logger == nil {
		s.logger = NewSimpleLogger()
	}
	// The breaker is built after all options so it sees the final logger and
	// metrics wiring.
	if s.breakerCfg != nil {
		s.breaker = newCircuitBreaker(*s.breakerCfg, s.logger, s.metrics)
	}
	s.validationError = s.validate()
	return s
}

// IsValid reports whether the configuration passed validation.
func (s *Scheduler) IsValid() bool {
	return s.validationError == nil
}

// ValidationError returns the configuration error, if any.
func (s *Scheduler) ValidationError() error {
	return s.validationError
}

// Close rejects further submissions. Operations already submitted run to
// completion.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Submit enqueues op and returns its Future immediately. The operation's
// whole lifecycle, queue wait included, is bounded by ctx and by the
// operation's own deadline.
func (s *Scheduler) Submit(ctx context.Context, op *Operation) *Future {
	var opCtx context.Context
	var cancel context.CancelFunc
	if d := op.Deadline(); !d.IsZero() {
		opCtx, cancel = context.WithDeadline(ctx, d)
	} else {
		opCtx, cancel = context.WithCancel(ctx)
	}
	fut := newFuture(s, op, cancel)

	if s.validationError != nil {
		fut.resolve(nil, s.validationError)
		cancel()
		return fut
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		fut.resolve(nil, &RequestError{
			Type:         ClassCancelled,
			Message:      "scheduler closed",
			Cause:        ErrSchedulerClosed,
			OperationKey: op.Key(),
			Method:       op.Method(),
			URL:          op.URL(),
		})
		cancel()
		return fut
	}

	s.metrics.RecordSubmission()
	requestID := ""
	if s.debugStage(func(d *DebugConfig) bool { return d.LogAdmission }) {
		requestID = s.debug.RequestIDGen()
		s.logger.Debug("operation submitted",
			"requestId", requestID, "method", op.Method(), "endpoint", op.Endpoint(),
			"priority", op.Priority(), "key", op.Key())
	}

	go func() {
		defer cancel()
		res, err := s.execute(opCtx, op, requestID)
		if err != nil {
			fut.resolve(nil, err)
			return
		}
		fut.resolve(res, nil)
	}()
	return fut
}

// Do submits op and waits for its result; a convenience for callers without
// fan-out needs.
func (s *Scheduler) Do(ctx context.Context, op *Operation) (*Result, error) {
	return s.Submit(ctx, op).Wait(ctx)
}

// execute runs the operation's full lifecycle: cache consult, then the
// attempt loop of token acquire, admission, dispatch and retry decision.
func (s *Scheduler) execute(ctx context.Context, op *Operation, requestID string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.terminal(op, ctxClass(err), 0, 0, err)
	}

	// Cache consult happens before any slot is taken: fresh hits cost no
	// concurrency at all, stale hits only arm a conditional fetch.
	var validator string
	var stalePayload []byte
	if s.cache != nil && op.cacheable() {
		lk, err := s.cache.Lookup(ctx, op.Key())
		switch {
		case err != nil:
			if s.logger != nil {
				s.logger.Warn("cache lookup failed", "key", op.Key(), "error", err.Error())
			}
		case lk.State == Fresh:
			s.metrics.RecordCacheHit(Fresh)
			s.updateCacheSize()
			if s.debugStage(func(d *DebugConfig) bool { return d.LogCache }) {
				s.logger.Debug("served fresh from cache", "requestId", requestID, "key", op.Key())
			}
			return &Result{Payload: lk.Payload, StatusCode: http.StatusOK, FromCache: true}, nil
		case lk.State == Stale:
			s.metrics.RecordCacheHit(Stale)
			validator = lk.Validator
			stalePayload = lk.Payload
			if s.debugStage(func(d *DebugConfig) bool { return d.LogCache }) {
				s.logger.Debug("stale cache entry, revalidating", "requestId", requestID, "key", op.Key())
			}
		default:
			s.metrics.RecordCacheMiss()
		}
	}

	var history []Attempt
	tokenInvalidated := false

	for {
		var tok Token
		if op.Credentialed() && s.tokens != nil {
			t, err := s.tokens.Acquire(ctx)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, s.terminal(op, ctxClass(ctxErr), 0, len(history), ctxErr)
				}
				return nil, s.terminal(op, ClassAuthenticationFailed, 0, len(history), err)
			}
			tok = t
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				// Wait also fails up front when its delay would overrun the
				// context deadline; ctx.Err() is still nil then.
				class := ClassDeadlineExceeded
				if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
					class = ClassCancelled
				}
				return nil, s.terminal(op, class, 0, len(history), err)
			}
		}

		if err := s.acquireSlot(ctx, op.Priority()); err != nil {
			return nil, s.terminal(op, ctxClass(err), 0, len(history), err)
		}

		var breakerDone func(bool)
		if s.breaker != nil {
			done, err := s.breaker.Allow()
			if err != nil {
				s.releaseSlot()
				return nil, s.terminal(op, ClassCircuitOpen, 0, len(history), err)
			}
			breakerDone = done
		}

		att := Attempt{Seq: len(history), Start: time.Now()}
		resp, err := s.dispatch(ctx, op, tok, validator)
		att.End = time.Now()
		s.releaseSlot()

		status := 0
		var serverDelay time.Duration
		if resp != nil {
			status = resp.StatusCode
			serverDelay = resp.RetryAfter
		}
		class := classify(resp, err, op.Credentialed())
		att.Class = class
		att.StatusCode = status
		att.Err = err
		history = append(history, att)

		s.metrics.RecordAttempt(op.Method(), status, att.End.Sub(att.Start))
		if breakerDone != nil {
			breakerDone(err == nil && status < http.StatusInternalServerError)
		}

		if class == "" {
			return s.finish(ctx, op, resp, stalePayload, len(history), requestID)
		}

		// Context death takes precedence over whatever the transport said.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, s.terminal(op, ctxClass(ctxErr), status, len(history), ctxErr)
		}

		if class == ClassAuthRejected {
			if !tokenInvalidated && s.tokens != nil {
				s.tokens.Invalidate(tok)
				tokenInvalidated = true
				if s.debugStage(func(d *DebugConfig) bool { return d.LogToken }) {
					s.logger.Debug("credential rejected, refreshing once",
						"requestId", requestID, "key", op.Key())
				}
				continue
			}
			return nil, s.terminal(op, ClassAuthenticationFailed, status, len(history), err)
		}

		decision := s.policy.Decide(op, history, class, serverDelay)
		if !decision.Retry {
			return nil, s.terminal(op, decision.Terminal, status, len(history), err)
		}

		s.metrics.RecordRetry()
		if s.debugStage(func(d *DebugConfig) bool { return d.LogRetries }) {
			s.logger.Debug("retrying",
				"requestId", requestID, "key", op.Key(), "attempt", len(history),
				"class", string(class), "delay", decision.After.String())
		}

		timer := time.NewTimer(decision.After)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, s.terminal(op, ctxClass(ctx.Err()), status, len(history), ctx.Err())
		}
	}
}

// dispatch runs one transport attempt with the scheduler-managed headers
// applied.
func (s *Scheduler) dispatch(ctx context.Context, op *Operation, tok Token, validator string) (*Response, error) {
	req := &Request{
		Method: op.Method(),
		URL:    op.URL(),
		Header: op.Header(),
		Body:   op.Body(),
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if validator != "" {
		req.Header.Set("If-None-Match", validator)
	}
	if tok.Value != "" {
		req.Header.Set("Authorization", "Bearer "+tok.Value)
	}
	return s.transport.Execute(ctx, req)
}

// finish turns a successful attempt into a Result and maintains the cache:
// revalidations extend freshness and reuse the stale payload, plain
// successes are stored, successful mutations invalidate.
func (s *Scheduler) finish(ctx context.Context, op *Operation, resp *Response, stalePayload []byte, attempts int, requestID string) (*Result, error) {
	if resp.NotModified && stalePayload != nil {
		if s.cache != nil {
			freshUntil := s.freshnessFor(resp)
			if err := s.cache.Refresh(ctx, op.Key(), freshUntil); err != nil && s.logger != nil {
				s.logger.Warn("cache refresh failed", "key", op.Key(), "error", err.Error())
			}
			s.updateCacheSize()
		}
		if s.debugStage(func(d *DebugConfig) bool { return d.LogCache }) {
			s.logger.Debug("revalidated, serving cached payload", "requestId", requestID, "key", op.Key())
		}
		return &Result{
			Payload:    stalePayload,
			StatusCode: http.StatusOK,
			Header:     resp.Header,
			FromCache:  true,
			Attempts:   attempts,
		}, nil
	}

	if s.cache != nil {
		switch {
		case op.cacheable() && resp.StatusCode == http.StatusOK && s.storable(resp):
			freshUntil := s.freshnessFor(resp)
			if err := s.cache.Store(ctx, op.Key(), resp.Body, resp.Validator, freshUntil); err != nil && s.logger != nil {
				s.logger.Warn("cache store failed", "key", op.Key(), "error", err.Error())
			}
		case op.Mutating():
			// A successful mutation makes both its own entry and the plain
			// GET of the same URL unreliable.
			_ = s.cache.Invalidate(ctx, op.Key())
			if getOp, err := NewOperation(http.MethodGet, op.URL()); err == nil {
				_ = s.cache.Invalidate(ctx, getOp.Key())
			}
		}
		s.updateCacheSize()
	}

	return &Result{
		Payload:    resp.Body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Attempts:   attempts,
	}, nil
}

// storable honors an explicit server no-store directive even when a default
// TTL is configured.
func (s *Scheduler) storable(resp *Response) bool {
	cc := parseCacheControl(resp.Header.Get("Cache-Control"))
	return !cc.NoStore
}

// freshnessFor prefers the server-declared deadline, falling back to the
// configured default TTL.
func (s *Scheduler) freshnessFor(resp *Response) time.Time {
	if !resp.FreshUntil.IsZero() {
		return resp.FreshUntil
	}
	return time.Now().Add(s.cacheTTL)
}

// terminal builds the operation's terminal error and records it.
func (s *Scheduler) terminal(op *Operation, class Classification, status, attempts int, cause error) *RequestError {
	s.metrics.RecordError(class)
	return &RequestError{
		Type:         class,
		Message:      fmt.Sprintf("%s %s failed", op.Method(), op.Endpoint()),
		Cause:        cause,
		OperationKey: op.Key(),
		Method:       op.Method(),
		URL:          op.URL(),
		StatusCode:   status,
		Attempts:     attempts,
		Timestamp:    time.Now(),
	}
}

// cancelFuture records a caller cancellation; the future resolves itself and
// any queue waiter exits through its context.
func (s *Scheduler) cancelFuture(f *Future) {
	if f.resolved() {
		return
	}
	s.metrics.RecordCancellation()
}

func (s *Scheduler) updateCacheSize() {
	if s.metrics == nil {
		return
	}
	if mc, ok := s.cache.(*MemoryCache); ok {
		entries, bytes := mc.Stats()
		s.metrics.UpdateCacheSize(entries, bytes)
	}
}

// debugStage reports whether a debug stage is enabled and loggable.
func (s *Scheduler) debugStage(enabled func(*DebugConfig) bool) bool {
	return s.debug != nil && s.debug.Enabled && s.logger != nil && enabled(s.debug)
}

// ctxClass maps a context error to its terminal classification.
func ctxClass(err error) Classification {
	if err == context.DeadlineExceeded {
		return ClassDeadlineExceeded
	}
	return ClassCancelled
}

// waiter is one operation parked for an execution slot.
type waiter struct {
	priority int
	seq      uint64
	grant    chan struct{}
	granted  bool
	index    int
}

// waitQueue orders waiters by priority (higher first), then submission
// order.
type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}

// acquireSlot blocks until the operation holds an execution slot or ctx
// ends. Slots are granted strictly by the wait queue's order.
func (s *Scheduler) acquireSlot(ctx context.Context, priority int) error {
	s.mu.Lock()
	if s.inFlight < s.maxConcurrent && len(s.queue) == 0 {
		s.inFlight++
		s.metrics.SetInFlight(s.inFlight)
		s.mu.Unlock()
		return nil
	}
	w := &waiter{priority: priority, seq: s.seq, grant: make(chan struct{})}
	s.seq++
	heap.Push(&s.queue, w)
	s.metrics.SetQueueDepth(len(s.queue))
	s.mu.Unlock()

	select {
	case <-w.grant:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		if w.granted {
			// The slot was handed over while we were cancelling; give it
			// back so the budget is not leaked.
			s.releaseSlotLocked()
			s.mu.Unlock()
			return ctx.Err()
		}
		heap.Remove(&s.queue, w.index)
		s.metrics.SetQueueDepth(len(s.queue))
		s.mu.Unlock()
		return ctx.Err()
	}
}

// releaseSlot returns a slot, handing it to the highest-priority waiter when
// one exists. Exactly one waiter is admitted per release.
func (s *Scheduler) releaseSlot() {
	s.mu.Lock()
	s.releaseSlotLocked()
	s.mu.Unlock()
}

func (s *Scheduler) releaseSlotLocked() {
	if len(s.queue) > 0 {
		w := heap.Pop(&s.queue).(*waiter)
		w.granted = true
		close(w.grant)
		s.metrics.SetQueueDepth(len(s.queue))
		return
	}
	s.inFlight--
	s.metrics.SetInFlight(s.inFlight)
}
