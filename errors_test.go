package reqflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestRequestErrorMessage(t *testing.T) {
	err := &RequestError{
		Type:     ClassTransientServer,
		Message:  "GET api.example.com/v1/items failed",
		Cause:    errors.New("upstream overloaded"),
		Attempts: 3,
	}
	got := err.Error()
	want := "TransientServer: GET api.example.com/v1/items failed (upstream overloaded) (after 3 attempt(s))"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestRequestErrorMatching(t *testing.T) {
	inner := errors.New("connection reset")
	err := fmt.Errorf("fetch: %w", &RequestError{Type: ClassTransientNetwork, Cause: inner})

	if !errors.Is(err, &RequestError{Type: ClassTransientNetwork}) {
		t.Error("errors.Is failed to match the classification")
	}
	if errors.Is(err, &RequestError{Type: ClassFatal}) {
		t.Error("errors.Is matched a different classification")
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is failed to reach the cause")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Type != ClassTransientNetwork {
		t.Error("errors.As failed")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &RequestError{Type: ClassTransientNetwork}, true},
		{"server", &RequestError{Type: ClassTransientServer}, true},
		{"rate limited", &RequestError{Type: ClassRateLimited}, true},
		{"circuit open sentinel", ErrCircuitOpen, true},
		{"circuit open class", &RequestError{Type: ClassCircuitOpen}, true},
		{"client error", &RequestError{Type: ClassClientError}, false},
		{"fatal", &RequestError{Type: ClassFatal}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status       int
		credentialed bool
		want         Classification
	}{
		{http.StatusOK, false, ""},
		{http.StatusNotModified, false, ""},
		{http.StatusTooManyRequests, false, ClassRateLimited},
		{http.StatusInternalServerError, false, ClassTransientServer},
		{http.StatusBadGateway, false, ClassTransientServer},
		{http.StatusUnauthorized, true, ClassAuthRejected},
		{http.StatusUnauthorized, false, ClassClientError},
		{http.StatusNotFound, false, ClassClientError},
		{http.StatusBadRequest, true, ClassClientError},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status, tt.credentialed); got != tt.want {
			t.Errorf("classifyStatus(%d, %v) = %s, want %s", tt.status, tt.credentialed, got, tt.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	if got := classifyError(context.Canceled); got != ClassCancelled {
		t.Errorf("context.Canceled = %s", got)
	}
	if got := classifyError(errors.New("connection refused")); got != ClassTransientNetwork {
		t.Errorf("plain network error = %s", got)
	}
}
