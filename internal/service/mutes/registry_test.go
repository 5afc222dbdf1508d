package mutes

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

func TestMuteAndExpiry(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "mutes.json"))
	require.NoError(t, err)

	r.Mute("a1", 15*time.Minute, domain.MuteRateLimitShort)

	now := time.Now()
	assert.True(t, r.IsMuted("a1", now))
	assert.False(t, r.IsMuted("a1", now.Add(16*time.Minute)))
	assert.False(t, r.IsMuted("a2", now))
}

func TestMute_OverlappingKeepsLaterDeadline(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "mutes.json"))
	require.NoError(t, err)

	r.Mute("a1", 24*time.Hour, domain.MuteRateLimit24h)
	long, ok := r.Get("a1")
	require.True(t, ok)

	// A shorter mute arriving later must not shrink the deadline.
	r.Mute("a1", 15*time.Minute, domain.MuteRateLimitShort)
	rec, ok := r.Get("a1")
	require.True(t, ok)
	assert.True(t, rec.Until.Equal(long.Until))
	assert.Equal(t, domain.MuteRateLimit24h, rec.Reason)

	// A longer mute extends it.
	r.Mute("a1", 48*time.Hour, domain.MuteExplicit)
	rec, _ = r.Get("a1")
	assert.True(t, rec.Until.After(long.Until))
	assert.Equal(t, domain.MuteExplicit, rec.Reason)
}

func TestActive(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "mutes.json"))
	require.NoError(t, err)

	r.Mute("a1", time.Hour, domain.MuteAuthFailed)
	r.Mute("a2", -time.Hour, domain.MuteRateLimitShort) // already expired

	active := r.Active(time.Now())
	require.Len(t, active, 1)
	assert.Equal(t, domain.MuteAuthFailed, active["a1"].Reason)
}

func TestOpen_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mutes.json")
	r, err := Open(path)
	require.NoError(t, err)
	r.Mute("a1", time.Hour, domain.MuteRateLimit24h)

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.True(t, reopened.IsMuted("a1", time.Now()))
}
