package reqflow

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestHTTPTransportDerivesMetadata(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Cache-Control", "max-age=120")
		w.Header().Set("Retry-After", "9")
		w.Write([]byte("body"))
	})

	tr := NewHTTPTransport(nil)
	resp, err := tr.Execute(context.Background(), &Request{Method: http.MethodGet, URL: server.URL})
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != http.StatusOK || string(resp.Body) != "body" {
		t.Fatalf("resp = %d %q", resp.StatusCode, resp.Body)
	}
	if resp.Validator != `"abc123"` {
		t.Errorf("Validator = %q", resp.Validator)
	}
	if resp.RetryAfter != 9*time.Second {
		t.Errorf("RetryAfter = %v", resp.RetryAfter)
	}
	until := time.Until(resp.FreshUntil)
	if until < 110*time.Second || until > 121*time.Second {
		t.Errorf("FreshUntil %v from now, want ~120s", until)
	}
	if resp.NotModified {
		t.Error("NotModified = true for a 200")
	}
}

func TestHTTPTransportNotModified(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	tr := NewHTTPTransport(nil)
	req := &Request{Method: http.MethodGet, URL: server.URL, Header: http.Header{}}
	req.Header.Set("If-None-Match", `"v1"`)

	resp, err := tr.Execute(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.NotModified {
		t.Fatal("NotModified = false for a 304")
	}
}

func TestHTTPTransportForwardsHeadersAndBody(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tenant") != "acme" {
			t.Errorf("X-Tenant = %q", r.Header.Get("X-Tenant"))
		}
		buf := make([]byte, 16)
		n, _ := r.Body.Read(buf)
		if string(buf[:n]) != "payload" {
			t.Errorf("body = %q", buf[:n])
		}
		w.WriteHeader(http.StatusCreated)
	})

	tr := NewHTTPTransport(nil)
	req := &Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Header: http.Header{"X-Tenant": {"acme"}},
		Body:   []byte("payload"),
	}
	resp, err := tr.Execute(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("StatusCode = %d", resp.StatusCode)
	}
}

func TestHTTPTransportBodyLimit(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1024))
	})

	tr := NewHTTPTransport(nil)
	tr.maxBodyBytes = 100
	resp, err := tr.Execute(context.Background(), &Request{Method: http.MethodGet, URL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Body) != 100 {
		t.Fatalf("body length = %d, want the 100-byte cap", len(resp.Body))
	}
}
