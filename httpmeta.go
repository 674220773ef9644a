package reqflow

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// cacheDirectives is the parsed subset of Cache-Control the transport needs
// to derive freshness metadata.
type cacheDirectives struct {
	NoStore bool
	NoCache bool
	MaxAge  *time.Duration
}

// parseCacheControl parses a Cache-Control header into structured directives.
func parseCacheControl(header string) *cacheDirectives {
	directives := &cacheDirectives{}
	if header == "" {
		return directives
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "=") {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.ToLower(strings.TrimSpace(kv[0]))
			value := strings.Trim(strings.TrimSpace(kv[1]), "\"")

			if key == "max-age" {
				if seconds, err := strconv.Atoi(value); err == nil {
					maxAge := time.Duration(seconds) * time.Second
					directives.MaxAge = &maxAge
				}
			}
		} else {
			switch strings.ToLower(part) {
			case "no-store":
				directives.NoStore = true
			case "no-cache":
				directives.NoCache = true
			}
		}
	}

	return directives
}

// parseExpires parses an Expires header.
func parseExpires(header string) *time.Time {
	if header == "" {
		return nil
	}
	for _, layout := range []string{time.RFC1123, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, header); err == nil {
			return &t
		}
	}
	return nil
}

// freshnessDeadline determines when a response stops being fresh, from
// Cache-Control max-age or Expires. Zero time means the server declared no
// freshness (or forbade reuse).
func freshnessDeadline(header http.Header, receivedAt time.Time) time.Time {
	directives := parseCacheControl(header.Get("Cache-Control"))
	if directives.NoStore || directives.NoCache {
		return time.Time{}
	}
	if directives.MaxAge != nil {
		return receivedAt.Add(*directives.MaxAge)
	}
	if expires := parseExpires(header.Get("Expires")); expires != nil {
		return *expires
	}
	return time.Time{}
}

// parseRetryAfter parses a Retry-After header value, supporting both
// delay-seconds and HTTP-date formats. Capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
