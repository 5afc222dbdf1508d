package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// APIError is a non-2xx platform response.
type APIError struct {
	StatusCode int
	Body       string
	Header     http.Header
	RateLimit  domain.RateLimitInfo
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("platform api: status=%d body=%s", e.StatusCode, snippet(e.Body, 200))
}

func snippet(s string, n int) string {
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}

const (
	// minRateLimitMute is the floor for rate-limit mutes, applied even when
	// the reset header points at the past.
	minRateLimitMute = 15 * time.Minute
	retryBackoffBase = 2 * time.Second
	retryBackoffCap  = 30 * time.Second
)

// backoffFor returns min(base*2^attempt, cap) for the retryable class.
func backoffFor(attempt int) time.Duration {
	d := retryBackoffBase
	for i := 0; i < attempt && d < retryBackoffCap; i++ {
		d *= 2
	}
	if d > retryBackoffCap {
		d = retryBackoffCap
	}
	return d
}

// Classify maps a platform call failure to an error class plus backoff and
// mute hints. attempt is the zero-based retry count of the failing item.
func Classify(err error, attempt int, now time.Time) domain.Classification {
	if err == nil {
		return domain.Classification{Class: domain.ClassOK}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, attempt, now)
	}

	// Network-level failures and timeouts are retryable.
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Classification{Class: domain.ClassRetryable, Backoff: backoffFor(attempt)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.Classification{Class: domain.ClassRetryable, Backoff: backoffFor(attempt)}
	}
	if errors.Is(err, context.Canceled) {
		return domain.Classification{Class: domain.ClassFatal}
	}
	return domain.Classification{Class: domain.ClassFatal}
}

func classifyAPIError(e *APIError, attempt int, now time.Time) domain.Classification {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		mute := minRateLimitMute
		if ra := retryAfter(e.Header, now); ra > mute {
			mute = ra
		}
		if !e.RateLimit.Reset.IsZero() {
			if until := e.RateLimit.Reset.Sub(now); until > mute {
				mute = until
			}
		}
		return domain.Classification{Class: domain.ClassRateLimited, Mute: mute}

	case e.StatusCode == http.StatusUnauthorized:
		return domain.Classification{Class: domain.ClassAuthExpired}

	case e.StatusCode == http.StatusForbidden && isDuplicateBody(e.Body):
		return domain.Classification{Class: domain.ClassDuplicate}

	case e.StatusCode >= 500:
		return domain.Classification{Class: domain.ClassRetryable, Backoff: backoffFor(attempt)}
	}
	if isDuplicateBody(e.Body) {
		return domain.Classification{Class: domain.ClassDuplicate}
	}
	return domain.Classification{Class: domain.ClassFatal}
}

// isDuplicateBody detects "already liked/reposted" responses, which are
// idempotent successes.
func isDuplicateBody(body string) bool {
	s := strings.ToLower(body)
	if !strings.Contains(s, "already") {
		return false
	}
	return strings.Contains(s, "liked") ||
		strings.Contains(s, "reposted") ||
		strings.Contains(s, "retweeted") ||
		strings.Contains(s, "favorited") ||
		strings.Contains(s, "duplicate")
}
