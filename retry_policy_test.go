package reqflow

import (
	"net/http"
	"testing"
	"time"
)

func mustOp(t *testing.T, method, url string, opts ...OperationOption) *Operation {
	t.Helper()
	op, err := NewOperation(method, url, opts...)
	if err != nil {
		t.Fatalf("NewOperation: %v", err)
	}
	return op
}

func failedAttempts(n int, class Classification) []Attempt {
	history := make([]Attempt, n)
	for i := range history {
		history[i] = Attempt{Seq: i, Class: class}
	}
	return history
}

func TestDecideTerminalClasses(t *testing.T) {
	p := NewSeededRetryPolicy(1, 4, 100*time.Millisecond, 30*time.Second, 0)
	op := mustOp(t, http.MethodGet, "https://api.example.com/v1/items")

	for _, class := range []Classification{ClassClientError, ClassFatal, ClassAuthenticationFailed, ClassCancelled} {
		d := p.Decide(op, failedAttempts(1, class), class, 0)
		if d.Retry {
			t.Errorf("class %s: expected terminal, got retry", class)
		}
		if d.Terminal != class {
			t.Errorf("class %s: Terminal = %s", class, d.Terminal)
		}
	}
}

func TestDecideNonIdempotentNeverRetries(t *testing.T) {
	p := NewSeededRetryPolicy(1, 4, 100*time.Millisecond, 30*time.Second, 0)
	op := mustOp(t, http.MethodPost, "https://api.example.com/v1/items")

	d := p.Decide(op, failedAttempts(1, ClassTransientServer), ClassTransientServer, 0)
	if d.Retry {
		t.Fatal("non-idempotent operation was retried")
	}
	if d.Terminal != ClassTransientServer {
		t.Fatalf("Terminal = %s, want TransientServer", d.Terminal)
	}
}

func TestDecideIdempotentOverride(t *testing.T) {
	p := NewSeededRetryPolicy(1, 4, 100*time.Millisecond, 30*time.Second, 0)
	op := mustOp(t, http.MethodPost, "https://api.example.com/v1/items", WithIdempotent(true))

	d := p.Decide(op, failedAttempts(1, ClassTransientServer), ClassTransientServer, 0)
	if !d.Retry {
		t.Fatal("idempotency override was ignored")
	}
}

func TestDecideAttemptBudget(t *testing.T) {
	p := NewSeededRetryPolicy(1, 4, 100*time.Millisecond, 30*time.Second, 0)
	op := mustOp(t, http.MethodGet, "https://api.example.com/v1/items")

	// Attempt indexes 0..3 retry, index 4 is terminal.
	for n := 1; n <= 4; n++ {
		if d := p.Decide(op, failedAttempts(n, ClassTransientServer), ClassTransientServer, 0); !d.Retry {
			t.Fatalf("attempt index %d: expected retry", n-1)
		}
	}
	d := p.Decide(op, failedAttempts(5, ClassTransientServer), ClassTransientServer, 0)
	if d.Retry {
		t.Fatal("attempt index 4: expected terminal")
	}
	if d.Terminal != ClassTransientServer {
		t.Fatalf("Terminal = %s, want the input class", d.Terminal)
	}
}

func TestDecideDelaysGrowToCap(t *testing.T) {
	capDelay := 800 * time.Millisecond
	p := NewSeededRetryPolicy(1, 10, 100*time.Millisecond, capDelay, 0)
	op := mustOp(t, http.MethodGet, "https://api.example.com/v1/items")

	var prev time.Duration
	for n := 1; n <= 8; n++ {
		d := p.Decide(op, failedAttempts(n, ClassTransientNetwork), ClassTransientNetwork, 0)
		if !d.Retry {
			t.Fatalf("attempt %d unexpectedly terminal", n)
		}
		if d.After < prev {
			t.Fatalf("delay shrank: %v after %v", d.After, prev)
		}
		if d.After > capDelay {
			t.Fatalf("delay %v exceeds cap %v", d.After, capDelay)
		}
		prev = d.After
	}
	if prev != capDelay {
		t.Fatalf("final delay = %v, want cap %v", prev, capDelay)
	}
}

func TestDecideServerDelayWins(t *testing.T) {
	p := NewSeededRetryPolicy(1, 4, 100*time.Millisecond, 30*time.Second, 0)
	op := mustOp(t, http.MethodGet, "https://api.example.com/v1/items")

	d := p.Decide(op, failedAttempts(1, ClassRateLimited), ClassRateLimited, 7*time.Second)
	if !d.Retry {
		t.Fatal("rate-limited attempt was terminal")
	}
	if d.After != 7*time.Second {
		t.Fatalf("After = %v, want the server-specified 7s", d.After)
	}
}

func TestDecideDeadlineOverrun(t *testing.T) {
	p := NewSeededRetryPolicy(1, 4, time.Second, 30*time.Second, 0)
	op := mustOp(t, http.MethodGet, "https://api.example.com/v1/items",
		WithDeadline(time.Now().Add(100*time.Millisecond)))

	d := p.Decide(op, failedAttempts(1, ClassTransientServer), ClassTransientServer, 0)
	if d.Retry {
		t.Fatal("retry scheduled past the deadline")
	}
	if d.Terminal != ClassDeadlineExceeded {
		t.Fatalf("Terminal = %s, want DeadlineExceeded", d.Terminal)
	}
}

func TestDecideSeededDeterminism(t *testing.T) {
	op := mustOp(t, "GET", "https://api.example.com/v1/items")
	a := NewSeededRetryPolicy(99, 10, 50*time.Millisecond, 5*time.Second, 0.4)
	b := NewSeededRetryPolicy(99, 10, 50*time.Millisecond, 5*time.Second, 0.4)

	for n := 1; n <= 8; n++ {
		da := a.Decide(op, failedAttempts(n, ClassTransientNetwork), ClassTransientNetwork, 0)
		db := b.Decide(op, failedAttempts(n, ClassTransientNetwork), ClassTransientNetwork, 0)
		if da != db {
			t.Fatalf("same seed diverged at attempt %d: %+v vs %+v", n, da, db)
		}
	}
}
