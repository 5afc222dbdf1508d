package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/engage-engine/internal/adapter/store"
	"github.com/fairyhunter13/engage-engine/internal/config"
	"github.com/fairyhunter13/engage-engine/internal/domain"
	"github.com/fairyhunter13/engage-engine/internal/service/idempotency"
	"github.com/fairyhunter13/engage-engine/internal/service/mutes"
	"github.com/fairyhunter13/engage-engine/internal/service/quota"
	"github.com/fairyhunter13/engage-engine/internal/service/ratewindow"
	"github.com/fairyhunter13/engage-engine/internal/usecase"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *memCredStore) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		PollInterval:         time.Hour, // only the immediate first tick fires
		FirstScanTime:        time.Second,
		ScanTimeout:          time.Second,
		PoolSize:             2,
		ActionTimeout:        time.Second,
		RetryMaxAttempts:     3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
		RetryMultiplier:      2.0,
		MinActionDelay:       time.Millisecond,
		MaxActionDelay:       2 * time.Millisecond,
	}

	creds := newMemCredStore("a")
	ledger, err := quota.Open(filepath.Join(dir, "quota.json"), 100, 100, quota.DefaultWeights)
	require.NoError(t, err)
	t.Cleanup(ledger.Close)
	idem, err := idempotency.Open(filepath.Join(dir, "idempotency.json"))
	require.NoError(t, err)
	muteReg, err := mutes.Open(filepath.Join(dir, "mutes.json"))
	require.NoError(t, err)
	pendingLog, err := OpenPendingLog(filepath.Join(dir, "pending.json"))
	require.NoError(t, err)
	watchlist, err := store.OpenWatchlist(filepath.Join(dir, "watchlist.json"))
	require.NoError(t, err)

	factory := &scriptFactory{client: &scriptClient{}}
	scanner := usecase.NewScanner(watchlist, creds, factory, idem, 10, 10, filepath.Join(dir, "scanner.json"))
	planner := usecase.NewPlanner(ledger, idem, muteReg, &noReply{}, nil, domain.ReplyStyle{}, time.Millisecond, 2*time.Millisecond, 1)
	sched := NewScheduler(cfg, factory, creds, ledger, idem, muteReg, &memReceipts{}, pendingLog, ratewindow.NewTracker())
	return NewSupervisor(cfg, scanner, planner, sched, ledger, creds), creds
}

type noReply struct{}

func (noReply) Generate(_ domain.Context, posts []domain.Post, _ domain.ReplyStyle) ([]string, error) {
	out := make([]string, len(posts))
	for i := range posts {
		out[i] = "ok"
	}
	return out, nil
}

func TestSupervisor_EnableRunsFirstTickImmediately(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	defer sup.Disable()

	require.NoError(t, sup.Enable(context.Background()))
	assert.True(t, sup.Enabled())

	require.Eventually(t, func() bool {
		return !sup.LastTick().IsZero()
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSupervisor_EnableIsIdempotent(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	defer sup.Disable()

	require.NoError(t, sup.Enable(context.Background()))
	require.NoError(t, sup.Enable(context.Background()))
	assert.True(t, sup.Enabled())
}

func TestSupervisor_DisableStopsTicking(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	require.NoError(t, sup.Enable(context.Background()))
	require.Eventually(t, func() bool {
		return !sup.LastTick().IsZero()
	}, 3*time.Second, 10*time.Millisecond)

	sup.Disable()
	assert.False(t, sup.Enabled())

	// Second disable is a no-op.
	sup.Disable()
	assert.False(t, sup.Enabled())

	// Re-enable works after a disable.
	require.NoError(t, sup.Enable(context.Background()))
	assert.True(t, sup.Enabled())
	sup.Disable()
}
