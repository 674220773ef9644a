package reqflow

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestNewOperationRejectsBadURLs(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"unparseable", "http://exa mple.com/%zz"},
		{"no scheme", "example.com/path"},
		{"no host", "https:///path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOperation(http.MethodGet, tt.url)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, &RequestError{Type: ClassFatal}) {
				t.Fatalf("error = %v, want Fatal classification", err)
			}
		})
	}
}

func TestOperationKeyStability(t *testing.T) {
	a := mustOp(t, "get", "https://api.example.com/v1/items",
		WithHeader("Accept", "application/json"),
		WithHeader("X-Tenant", "acme"))
	b := mustOp(t, "GET", "https://api.example.com/v1/items",
		WithHeader("X-Tenant", "acme"),
		WithHeader("Accept", "application/json"))

	if a.Key() != b.Key() {
		t.Fatalf("header order changed the key: %s vs %s", a.Key(), b.Key())
	}
}

func TestOperationKeyIgnoresAuthorization(t *testing.T) {
	a := mustOp(t, http.MethodGet, "https://api.example.com/v1/items",
		WithHeader("Authorization", "Bearer one"))
	b := mustOp(t, http.MethodGet, "https://api.example.com/v1/items",
		WithHeader("Authorization", "Bearer two"))

	if a.Key() != b.Key() {
		t.Fatal("Authorization header leaked into the key")
	}
}

func TestOperationKeyDiscriminates(t *testing.T) {
	base := mustOp(t, http.MethodGet, "https://api.example.com/v1/items")
	tests := []struct {
		name  string
		other *Operation
	}{
		{"different method", mustOp(t, http.MethodDelete, "https://api.example.com/v1/items")},
		{"different path", mustOp(t, http.MethodGet, "https://api.example.com/v1/users")},
		{"different query", mustOp(t, http.MethodGet, "https://api.example.com/v1/items?page=2")},
		{"extra header", mustOp(t, http.MethodGet, "https://api.example.com/v1/items", WithHeader("Accept", "text/plain"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.other.Key() == base.Key() {
				t.Fatal("keys collided")
			}
		})
	}
}

func TestOperationMethodDerivedFlags(t *testing.T) {
	tests := []struct {
		method     string
		idempotent bool
		mutating   bool
	}{
		{http.MethodGet, true, false},
		{http.MethodHead, true, false},
		{http.MethodOptions, true, false},
		{http.MethodPut, true, true},
		{http.MethodDelete, true, true},
		{http.MethodPost, false, true},
		{http.MethodPatch, false, true},
	}
	for _, tt := range tests {
		op := mustOp(t, tt.method, "https://api.example.com/v1/items")
		if op.Idempotent() != tt.idempotent {
			t.Errorf("%s: Idempotent = %v, want %v", tt.method, op.Idempotent(), tt.idempotent)
		}
		if op.Mutating() != tt.mutating {
			t.Errorf("%s: Mutating = %v, want %v", tt.method, op.Mutating(), tt.mutating)
		}
	}
}

func TestOperationFlagOverrides(t *testing.T) {
	op := mustOp(t, http.MethodPost, "https://api.example.com/v1/search",
		WithIdempotent(true), WithMutation(false))
	if !op.Idempotent() || op.Mutating() {
		t.Fatalf("overrides ignored: idempotent=%v mutating=%v", op.Idempotent(), op.Mutating())
	}
	if !op.cacheable() {
		t.Fatal("idempotent non-mutating operation should be cacheable")
	}
}

func TestOperationHeaderCopy(t *testing.T) {
	op := mustOp(t, http.MethodGet, "https://api.example.com/v1/items",
		WithHeader("Accept", "application/json"))
	h := op.Header()
	h.Set("Accept", "text/html")

	if got := op.Header().Get("Accept"); got != "application/json" {
		t.Fatalf("caller mutation leaked into the operation: %s", got)
	}
}

func TestOperationAccessors(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	op := mustOp(t, http.MethodGet, "https://api.example.com/v1/items",
		WithPriority(7), WithCredential(), WithDeadline(deadline), WithBody([]byte("q")))

	if op.Priority() != 7 {
		t.Errorf("Priority = %d", op.Priority())
	}
	if !op.Credentialed() {
		t.Error("Credentialed = false")
	}
	if !op.Deadline().Equal(deadline) {
		t.Errorf("Deadline = %v", op.Deadline())
	}
	if string(op.Body()) != "q" {
		t.Errorf("Body = %q", op.Body())
	}
	if op.Endpoint() != "api.example.com/v1/items" {
		t.Errorf("Endpoint = %s", op.Endpoint())
	}
}
