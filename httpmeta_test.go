package reqflow

import (
	"net/http"
	"testing"
	"time"
)

func TestParseCacheControl(t *testing.T) {
	maxAge := func(d time.Duration) *time.Duration { return &d }

	tests := []struct {
		name  string
		value string
		want  cacheDirectives
	}{
		{"empty", "", cacheDirectives{}},
		{"no-store", "no-store", cacheDirectives{NoStore: true}},
		{"no-cache", "no-cache, private", cacheDirectives{NoCache: true}},
		{"max-age", "max-age=300", cacheDirectives{MaxAge: maxAge(300 * time.Second)}},
		{"mixed case", "No-Store, MAX-AGE=60", cacheDirectives{NoStore: true, MaxAge: maxAge(time.Minute)}},
		{"garbage max-age", "max-age=later", cacheDirectives{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCacheControl(tt.value)
			if got.NoStore != tt.want.NoStore || got.NoCache != tt.want.NoCache {
				t.Fatalf("directives = %+v, want %+v", got, tt.want)
			}
			switch {
			case got.MaxAge == nil && tt.want.MaxAge != nil:
				t.Fatalf("MaxAge missing, want %v", *tt.want.MaxAge)
			case got.MaxAge != nil && tt.want.MaxAge == nil:
				t.Fatalf("MaxAge = %v, want none", *got.MaxAge)
			case got.MaxAge != nil && *got.MaxAge != *tt.want.MaxAge:
				t.Fatalf("MaxAge = %v, want %v", *got.MaxAge, *tt.want.MaxAge)
			}
		})
	}
}

func TestFreshnessDeadline(t *testing.T) {
	receivedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("max-age wins over Expires", func(t *testing.T) {
		h := http.Header{}
		h.Set("Cache-Control", "max-age=120")
		h.Set("Expires", receivedAt.Add(time.Hour).Format(http.TimeFormat))
		if got := freshnessDeadline(h, receivedAt); !got.Equal(receivedAt.Add(2 * time.Minute)) {
			t.Fatalf("deadline = %v", got)
		}
	})

	t.Run("Expires alone", func(t *testing.T) {
		h := http.Header{}
		h.Set("Expires", receivedAt.Add(time.Hour).Format(http.TimeFormat))
		if got := freshnessDeadline(h, receivedAt); !got.Equal(receivedAt.Add(time.Hour)) {
			t.Fatalf("deadline = %v", got)
		}
	})

	t.Run("no-store yields zero", func(t *testing.T) {
		h := http.Header{}
		h.Set("Cache-Control", "no-store, max-age=120")
		if got := freshnessDeadline(h, receivedAt); !got.IsZero() {
			t.Fatalf("deadline = %v, want zero", got)
		}
	})

	t.Run("no headers yields zero", func(t *testing.T) {
		if got := freshnessDeadline(http.Header{}, receivedAt); !got.IsZero() {
			t.Fatalf("deadline = %v, want zero", got)
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "13", 13 * time.Second},
		{"zero", "0", 0},
		{"negative", "-5", 0},
		{"garbage", "soonish", 0},
		{"capped", "86400", time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value); got != tt.want {
				t.Fatalf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}

	t.Run("http date", func(t *testing.T) {
		v := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
		got := parseRetryAfter(v)
		if got < 80*time.Second || got > 91*time.Second {
			t.Fatalf("parseRetryAfter(date) = %v", got)
		}
	})
}
