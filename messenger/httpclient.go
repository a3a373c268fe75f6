package messenger

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mykhaliev/agent-sim/logger"
)

var retryAfterDateFormats = []string{
	time.RFC1123,
	time.RFC1123Z,
	"Mon, 02 Jan 2006 15:04:05 MST",
}

// RetryAfter reads the back-off hint from response headers.
// retry-after-ms wins over Retry-After, which may hold seconds or an HTTP-date.
func RetryAfter(h http.Header) time.Duration {
	if ms := strings.TrimSpace(h.Get("retry-after-ms")); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return parseRetryAfter(h.Get("Retry-After"))
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	for _, format := range retryAfterDateFormats {
		if t, err := time.Parse(format, value); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
			// date already passed
			return time.Second
		}
	}

	logger.Logger.Warn("Could not parse Retry-After header", "value", value)
	return 0
}

// parseHeaders turns "Key: value" strings into a header map, skipping bad entries.
func parseHeaders(raw []string) http.Header {
	h := make(http.Header, len(raw))
	for i, header := range raw {
		key, value, ok := strings.Cut(header, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			logger.Logger.Warn("Invalid header format, skipping", "header_index", i)
			continue
		}
		h.Set(key, strings.TrimSpace(value))
	}
	return h
}
