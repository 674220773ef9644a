package reqflow

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Operation is an immutable descriptor of a single logical request,
// independent of retries. Its identity (method + canonical URL + relevant
// header set) doubles as the cache key. Build one with NewOperation and hand
// it to a Scheduler; it is never mutated after construction.
type Operation struct {
	method       string
	url          *url.URL
	header       http.Header
	body         []byte
	priority     int
	idempotent   bool
	credentialed bool
	mutating     bool
	deadline     time.Time
	key          string
}

// OperationOption configures an Operation at construction time.
type OperationOption func(*Operation)

// WithHeader adds a header to the operation. Headers participate in the
// operation's identity, except Authorization which the scheduler manages.
func WithHeader(key, value string) OperationOption {
	return func(o *Operation) {
		o.header.Add(key, value)
	}
}

// WithBody sets the request payload. The bytes are owned by the operation
// after construction; the core treats them as opaque.
func WithBody(body []byte) OperationOption {
	return func(o *Operation) {
		o.body = body
	}
}

// WithPriority sets the admission priority. Higher values are admitted
// first; ties are broken by submission order.
func WithPriority(p int) OperationOption {
	return func(o *Operation) {
		o.priority = p
	}
}

// WithDeadline sets the caller-supplied deadline for the whole operation,
// retries included.
func WithDeadline(t time.Time) OperationOption {
	return func(o *Operation) {
		o.deadline = t
	}
}

// WithCredential marks the operation as requiring a valid token from the
// scheduler's TokenCoordinator before each attempt.
func WithCredential() OperationOption {
	return func(o *Operation) {
		o.credentialed = true
	}
}

// WithIdempotent overrides the method-derived idempotency flag. Only
// idempotent operations are retried automatically.
func WithIdempotent(v bool) OperationOption {
	return func(o *Operation) {
		o.idempotent = v
	}
}

// WithMutation overrides the method-derived mutation flag. A mutating
// operation invalidates its own cache key on success and is never served
// from cache.
func WithMutation(v bool) OperationOption {
	return func(o *Operation) {
		o.mutating = v
	}
}

// NewOperation builds an immutable Operation. The URL is canonicalized; a
// URL that does not parse is a construction error (it could never execute).
func NewOperation(method, rawURL string, opts ...OperationOption) (*Operation, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &RequestError{
			Type:    ClassFatal,
			Message: fmt.Sprintf("malformed operation URL %q", rawURL),
			Cause:   err,
			Method:  method,
		}
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &RequestError{
			Type:    ClassFatal,
			Message: fmt.Sprintf("operation URL %q missing scheme or host", rawURL),
			Method:  method,
		}
	}

	method = strings.ToUpper(method)
	op := &Operation{
		method:     method,
		url:        u,
		header:     make(http.Header),
		idempotent: methodIdempotent(method),
		mutating:   methodMutating(method),
	}
	for _, opt := range opts {
		opt(op)
	}
	op.key = computeKey(op)
	return op, nil
}

// methodIdempotent reports whether an HTTP method is idempotent by
// definition; the automatic-retry gate defaults to this.
func methodIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

func methodMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// computeKey hashes method, canonical URL and the sorted relevant header set
// into the operation's stable identity.
func computeKey(op *Operation) string {
	d := xxhash.New()
	_, _ = d.WriteString(op.method)
	_, _ = d.WriteString("\n")
	_, _ = d.WriteString(op.url.String())
	_, _ = d.WriteString("\n")

	keys := make([]string, 0, len(op.header))
	for k := range op.header {
		if http.CanonicalHeaderKey(k) == "Authorization" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.WriteString(":")
		_, _ = d.WriteString(strings.Join(op.header.Values(k), ","))
		_, _ = d.WriteString("\n")
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Key returns the operation's stable identity, used for caching and
// deduplication.
func (o *Operation) Key() string { return o.key }

// Method returns the HTTP method.
func (o *Operation) Method() string { return o.method }

// URL returns the canonical URL string.
func (o *Operation) URL() string { return o.url.String() }

// Endpoint returns host+path, the label used for logs and metrics.
func (o *Operation) Endpoint() string {
	if o.url.Path == "" || o.url.Path == "/" {
		return o.url.Host + "/"
	}
	return o.url.Host + o.url.Path
}

// Header returns a copy of the operation's headers.
func (o *Operation) Header() http.Header {
	h := make(http.Header, len(o.header))
	for k, vs := range o.header {
		h[k] = append([]string(nil), vs...)
	}
	return h
}

// Body returns the request payload. Callers must not modify it.
func (o *Operation) Body() []byte { return o.body }

// Priority returns the admission priority.
func (o *Operation) Priority() int { return o.priority }

// Idempotent reports whether the operation may be retried automatically.
func (o *Operation) Idempotent() bool { return o.idempotent }

// Credentialed reports whether the operation requires a token.
func (o *Operation) Credentialed() bool { return o.credentialed }

// Mutating reports whether the operation invalidates its own cache key.
func (o *Operation) Mutating() bool { return o.mutating }

// Deadline returns the caller-supplied deadline; zero when unset.
func (o *Operation) Deadline() time.Time { return o.deadline }

// cacheable reports whether the operation's result may be served from or
// stored into the cache.
func (o *Operation) cacheable() bool {
	return o.idempotent && !o.mutating
}

// Attempt records one execution try of an Operation against the transport.
// The scheduler appends one per dispatch; the history is what the
// RetryPolicy consults.
type Attempt struct {
	// Seq is the zero-based attempt index.
	Seq int

	// Start and End bracket the transport call.
	Start time.Time
	End   time.Time

	// Class is the failure classification; empty on success.
	Class Classification

	// StatusCode is the transport status, when a response was received.
	StatusCode int

	// Err is the transport error, when no response was received.
	Err error
}
