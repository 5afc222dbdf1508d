package ratewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

func TestTracker_CountsActions(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	tr.Observe("a", domain.RateLimitInfo{}, now)
	tr.Observe("a", domain.RateLimitInfo{}, now.Add(time.Minute))

	w, ok := tr.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, w.Count24h)

	_, ok = tr.Get("missing")
	assert.False(t, ok)
}

func TestTracker_RollingWindowResets(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	tr.Observe("a", domain.RateLimitInfo{}, now)
	tr.Observe("a", domain.RateLimitInfo{}, now.Add(25*time.Hour))

	w, _ := tr.Get("a")
	assert.Equal(t, 1, w.Count24h)
}

func TestTracker_KeepsLastMeaningfulHeaders(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	withHeaders := domain.RateLimitInfo{Limit: 300, Remaining: 10, Reset: now.Add(15 * time.Minute)}
	tr.Observe("a", withHeaders, now)
	// A header-less response must not wipe the last observation.
	tr.Observe("a", domain.RateLimitInfo{}, now.Add(time.Minute))

	w, _ := tr.Get("a")
	assert.Equal(t, 300, w.Last.Limit)
	assert.Equal(t, 10, w.Last.Remaining)
}
