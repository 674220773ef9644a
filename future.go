package reqflow

import (
	"context"
	"net/http"
	"sync"
)

// Result is the successful outcome of an Operation.
type Result struct {
	Payload    []byte
	StatusCode int
	Header     http.Header

	// FromCache reports the payload was served from the cache, either fresh
	// or via a revalidated conditional fetch.
	FromCache bool

	// Attempts is how many transport attempts the operation consumed.
	Attempts int
}

// Future is the handle for a submitted Operation. It resolves exactly once:
// to a *Result, a classified *RequestError, or cancellation.
type Future struct {
	op        *Operation
	scheduler *Scheduler
	cancelCtx context.CancelFunc

	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	res *Result
	err error
}

func newFuture(s *Scheduler, op *Operation, cancel context.CancelFunc) *Future {
	return &Future{
		op:        op,
		scheduler: s,
		cancelCtx: cancel,
		done:      make(chan struct{}),
	}
}

// Wait blocks until the operation resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.res, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the operation resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Operation returns the submitted operation.
func (f *Future) Operation() *Operation {
	return f.op
}

// Cancel cancels the operation. A queued operation is removed immediately;
// an in-flight attempt is allowed to finish but its result is discarded and
// never delivered. Cancel is idempotent.
func (f *Future) Cancel() {
	if f.scheduler != nil {
		f.scheduler.cancelFuture(f)
	}
	f.resolve(nil, &RequestError{
		Type:         ClassCancelled,
		Message:      "operation cancelled",
		OperationKey: f.op.Key(),
		Method:       f.op.Method(),
		URL:          f.op.URL(),
	})
	if f.cancelCtx != nil {
		f.cancelCtx()
	}
}

// resolve records the outcome exactly once. Later resolutions (such as an
// in-flight attempt finishing after Cancel) are discarded.
func (f *Future) resolve(res *Result, err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.res = res
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

// resolved reports whether the future already has its outcome.
func (f *Future) resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
