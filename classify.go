package reqflow

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// classifyError maps a transport error to a failure class. The operation's
// own deadline and cancellation are handled by the scheduler before this is
// consulted, so context errors seen here came out of the transport itself.
func classifyError(err error) Classification {
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransientNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransientNetwork
	}
	// Connection resets, refused connections, DNS failures: all failures
	// where the request may never have reached the server.
	return ClassTransientNetwork
}

// classifyStatus maps a response status to a failure class. The empty
// classification means the response is a success.
func classifyStatus(status int, credentialed bool) Classification {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status >= 500:
		return ClassTransientServer
	case status == http.StatusUnauthorized && credentialed:
		return ClassAuthRejected
	case status >= 400:
		return ClassClientError
	default:
		return ""
	}
}

// classify maps a completed attempt's outcome to a failure class; empty for
// success.
func classify(resp *Response, err error, credentialed bool) Classification {
	if err != nil {
		return classifyError(err)
	}
	if resp == nil {
		return ClassFatal
	}
	return classifyStatus(resp.StatusCode, credentialed)
}
