package reqflow

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Request is what the core hands the transport for one attempt: the
// operation's method, URL and payload plus the headers the scheduler manages
// (credential, conditional validator).
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the transport's view of one attempt outcome. Payload and
// validator are opaque to the core; the metadata fields are what the
// scheduler's caching and retry logic consume.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// NotModified reports that the conditional validator matched: the
	// cached payload is unchanged and only its freshness is extended.
	NotModified bool

	// Validator is the entity tag usable for later conditional fetches.
	Validator string

	// FreshUntil is the server-declared freshness deadline; zero when the
	// server declared none.
	FreshUntil time.Time

	// RetryAfter is a server-specified backpressure delay, when present.
	RetryAfter time.Duration
}

// Transport executes one attempt against the network. It owns connection
// setup, TLS/trust evaluation and per-call timeout enforcement; the core
// calls it exactly once per Attempt.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport adapts a *http.Client to the Transport interface, deriving
// Response metadata from standard HTTP headers.
type HTTPTransport struct {
	client *http.Client

	// maxBodyBytes caps how much of a response body is read into memory.
	maxBodyBytes int64
}

const defaultMaxBodyBytes = 10 << 20

// NewHTTPTransport wraps client; nil gets a client with a 30s timeout.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{client: client, maxBodyBytes: defaultMaxBodyBytes}
}

// Execute implements Transport.
func (t *HTTPTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, t.maxBodyBytes))
	if err != nil {
		return nil, err
	}

	receivedAt := time.Now()
	resp := &Response{
		StatusCode:  httpResp.StatusCode,
		Header:      httpResp.Header,
		Body:        payload,
		NotModified: httpResp.StatusCode == http.StatusNotModified,
		Validator:   httpResp.Header.Get("ETag"),
		FreshUntil:  freshnessDeadline(httpResp.Header, receivedAt),
		RetryAfter:  parseRetryAfter(httpResp.Header.Get("Retry-After")),
	}
	return resp, nil
}
