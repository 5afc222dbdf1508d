// Package platform implements the client for the external microblogging API:
// per-account authenticated clients, a TTL client cache with refresh-on-401,
// and the error classifier for failed calls.
package platform

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// Standard rate-limit headers plus the optional 24-hour-window variants.
const (
	headerLimit        = "x-rate-limit-limit"
	headerRemaining    = "x-rate-limit-remaining"
	headerReset        = "x-rate-limit-reset"
	headerDayLimit     = "x-app-limit-24hour-limit"
	headerDayRemaining = "x-app-limit-24hour-remaining"
	headerDayReset     = "x-app-limit-24hour-reset"
)

// parseRateHeaders extracts rate-limit observations from a response.
// Absent or malformed headers leave zero values.
func parseRateHeaders(h http.Header) domain.RateLimitInfo {
	info := domain.RateLimitInfo{}
	info.Limit = atoiHeader(h, headerLimit)
	info.Remaining = atoiHeader(h, headerRemaining)
	info.Reset = epochHeader(h, headerReset)
	info.DayLimit = atoiHeader(h, headerDayLimit)
	info.DayRemaining = atoiHeader(h, headerDayRemaining)
	info.DayReset = epochHeader(h, headerDayReset)
	return info
}

func atoiHeader(h http.Header, key string) int {
	v := h.Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func epochHeader(h http.Header, key string) time.Time {
	v := h.Get(key)
	if v == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// retryAfter reads the Retry-After header as a duration, supporting both
// delta-seconds and HTTP-date forms.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
