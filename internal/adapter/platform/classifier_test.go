package platform

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		err       error
		wantClass domain.ErrorClass
	}{
		{"nil error is ok", nil, domain.ClassOK},
		{"401 is auth expired", &APIError{StatusCode: http.StatusUnauthorized}, domain.ClassAuthExpired},
		{"403 already liked is duplicate", &APIError{StatusCode: http.StatusForbidden, Body: `{"detail":"You have already liked this post"}`}, domain.ClassDuplicate},
		{"409 duplicate repost is duplicate", &APIError{StatusCode: http.StatusConflict, Body: "already reposted"}, domain.ClassDuplicate},
		{"403 without duplicate marker is fatal", &APIError{StatusCode: http.StatusForbidden, Body: "suspended"}, domain.ClassFatal},
		{"500 is retryable", &APIError{StatusCode: http.StatusInternalServerError}, domain.ClassRetryable},
		{"503 is retryable", &APIError{StatusCode: http.StatusServiceUnavailable}, domain.ClassRetryable},
		{"400 is fatal", &APIError{StatusCode: http.StatusBadRequest, Body: "invalid post id"}, domain.ClassFatal},
		{"404 is fatal", &APIError{StatusCode: http.StatusNotFound}, domain.ClassFatal},
		{"deadline exceeded is retryable", context.DeadlineExceeded, domain.ClassRetryable},
		{"network timeout is retryable", &net.DNSError{IsTimeout: true}, domain.ClassRetryable},
		{"context canceled is fatal", context.Canceled, domain.ClassFatal},
		{"unknown error is fatal", errors.New("boom"), domain.ClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, 0, now)
			assert.Equal(t, tt.wantClass, got.Class)
		})
	}
}

func TestClassify_RateLimitMute(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	t.Run("floor applies without headers", func(t *testing.T) {
		got := Classify(&APIError{StatusCode: http.StatusTooManyRequests}, 0, now)
		require.Equal(t, domain.ClassRateLimited, got.Class)
		assert.Equal(t, 15*time.Minute, got.Mute)
	})

	t.Run("retry-after extends past the floor", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "3600")
		got := Classify(&APIError{StatusCode: http.StatusTooManyRequests, Header: h}, 0, now)
		assert.Equal(t, time.Hour, got.Mute)
	})

	t.Run("reset header wins when later", func(t *testing.T) {
		reset := now.Add(2 * time.Hour)
		got := Classify(&APIError{
			StatusCode: http.StatusTooManyRequests,
			RateLimit:  domain.RateLimitInfo{Reset: reset},
		}, 0, now)
		assert.Equal(t, 2*time.Hour, got.Mute)
	})

	t.Run("stale reset falls back to floor", func(t *testing.T) {
		got := Classify(&APIError{
			StatusCode: http.StatusTooManyRequests,
			RateLimit:  domain.RateLimitInfo{Reset: now.Add(-time.Hour)},
		}, 0, now)
		assert.Equal(t, 15*time.Minute, got.Mute)
	})
}

func TestBackoffFor(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffFor(0))
	assert.Equal(t, 4*time.Second, backoffFor(1))
	assert.Equal(t, 8*time.Second, backoffFor(2))
	assert.Equal(t, 30*time.Second, backoffFor(10)) // capped
}

func TestParseRateHeaders(t *testing.T) {
	reset := time.Date(2026, 8, 20, 13, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("x-rate-limit-limit", "300")
	h.Set("x-rate-limit-remaining", "7")
	h.Set("x-rate-limit-reset", strconv.FormatInt(reset.Unix(), 10))
	h.Set("x-app-limit-24hour-limit", "500")
	h.Set("x-app-limit-24hour-remaining", "123")

	info := parseRateHeaders(h)
	assert.Equal(t, 300, info.Limit)
	assert.Equal(t, 7, info.Remaining)
	assert.True(t, info.Reset.Equal(reset))
	assert.Equal(t, 500, info.DayLimit)
	assert.Equal(t, 123, info.DayRemaining)
	assert.True(t, info.DayReset.IsZero())
}

func TestParseRateHeaders_MalformedLeavesZero(t *testing.T) {
	h := http.Header{}
	h.Set("x-rate-limit-limit", "many")
	h.Set("x-rate-limit-reset", "-5")

	info := parseRateHeaders(h)
	assert.Zero(t, info.Limit)
	assert.True(t, info.Reset.IsZero())
	assert.False(t, info.HasWindow())
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	h := http.Header{}
	assert.Zero(t, retryAfter(h, now))

	h.Set("Retry-After", "120")
	assert.Equal(t, 2*time.Minute, retryAfter(h, now))

	h.Set("Retry-After", now.Add(30*time.Minute).Format(http.TimeFormat))
	assert.Equal(t, 30*time.Minute, retryAfter(h, now))

	h.Set("Retry-After", "garbage")
	assert.Zero(t, retryAfter(h, now))
}
