// Package quota implements the action budget ledger: a long-horizon global
// pack, a per-UTC-day limit split across kinds by fixed weights, and
// per-account daily allocations. All operations are serialized under one
// mutex; persistence is a debounced atomic write outside the lock.
package quota

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/engage-engine/internal/adapter/observability"
	"github.com/fairyhunter13/engage-engine/internal/adapter/store"
	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// Weights is the per-kind split of the daily limit; must sum to 100.
type Weights struct {
	Like   int
	Repost int
	Reply  int
}

// Get returns the weight for one kind.
func (w Weights) Get(k domain.ActionKind) int {
	switch k {
	case domain.KindLike:
		return w.Like
	case domain.KindRepost:
		return w.Repost
	case domain.KindReply:
		return w.Reply
	}
	return 0
}

// DefaultWeights is the 40/10/50 like/repost/reply split.
var DefaultWeights = Weights{Like: 40, Repost: 10, Reply: 50}

// Denial reasons returned by CanConsume.
const (
	ReasonGlobalExhausted  = "global_pack_exhausted"
	ReasonDailyExhausted   = "daily_limit_reached"
	ReasonKindExhausted    = "kind_budget_exhausted"
	ReasonAccountExhausted = "account_daily_limit_reached"
	ReasonNotAllocated     = "account_not_allocated"
)

type state struct {
	GlobalTotal   int                            `json:"global_total"`
	GlobalUsed    int                            `json:"global_used"`
	DailyLimit    int                            `json:"daily_limit"`
	DailyUsed     int                            `json:"daily_used"`
	Distribution  domain.KindUsage               `json:"distribution"`
	Accounts      map[string]domain.AccountQuota `json:"accounts"`
	LastResetDate string                         `json:"last_reset_date"`
}

// Ledger is the source of truth for what may still be done today and in
// total.
type Ledger struct {
	mu      sync.Mutex
	st      state
	weights Weights
	flush   *debouncer
}

// Open loads the ledger from path, initializing a fresh one when the file
// does not exist. Configured totals override persisted ones so operators can
// raise limits between runs.
func Open(path string, globalTotal, dailyLimit int, w Weights) (*Ledger, error) {
	l := &Ledger{
		weights: w,
		st: state{
			GlobalTotal: globalTotal,
			DailyLimit:  dailyLimit,
			Accounts:    make(map[string]domain.AccountQuota),
		},
	}
	var persisted state
	if err := store.LoadJSON(path, &persisted); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	} else {
		l.st = persisted
		l.st.GlobalTotal = globalTotal
		l.st.DailyLimit = dailyLimit
		if l.st.Accounts == nil {
			l.st.Accounts = make(map[string]domain.AccountQuota)
		}
	}
	l.flush = newDebouncer(time.Second, func() {
		if err := store.SaveJSON(path, l.copyState()); err != nil {
			// Persistence failures must not block consumption; the next
			// flush retries.
			slog.Error("quota flush failed", slog.Any("error", err))
		}
	})
	l.ResetIfNewDay(time.Now().UTC())
	return l, nil
}

func (l *Ledger) copyState() state {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := l.st
	cp.Accounts = make(map[string]domain.AccountQuota, len(l.st.Accounts))
	for id, q := range l.st.Accounts {
		cp.Accounts[id] = q
	}
	return cp
}

func dateOf(now time.Time) string { return now.UTC().Format("2006-01-02") }

// ResetIfNewDay clears daily usage when the UTC date has changed.
func (l *Ledger) ResetIfNewDay(now time.Time) {
	l.mu.Lock()
	today := dateOf(now)
	if l.st.LastResetDate == today {
		l.mu.Unlock()
		return
	}
	l.st.LastResetDate = today
	l.st.DailyUsed = 0
	l.st.Distribution = domain.KindUsage{}
	for id, q := range l.st.Accounts {
		q.DailyUsed = domain.KindUsage{}
		l.st.Accounts[id] = q
	}
	l.mu.Unlock()
	l.flush.Trigger()
}

// RecomputeAllocation distributes the daily limit equally across active
// accounts, remainder going to the accounts added earliest. Callers pass
// accounts already ordered by AddedAt (CredentialStore.List guarantees it).
func (l *Ledger) RecomputeAllocation(active []domain.Account) {
	l.mu.Lock()
	if len(active) == 0 {
		l.st.Accounts = make(map[string]domain.AccountQuota)
		l.mu.Unlock()
		l.flush.Trigger()
		return
	}
	share := l.st.DailyLimit / len(active)
	remainder := l.st.DailyLimit % len(active)

	next := make(map[string]domain.AccountQuota, len(active))
	for i, a := range active {
		limit := share
		if i < remainder {
			limit++
		}
		q := l.st.Accounts[a.ID] // keeps today's usage across recomputes
		q.DailyLimit = limit
		next[a.ID] = q
	}
	l.st.Accounts = next
	l.mu.Unlock()
	l.flush.Trigger()
}

// kindCap is the absolute daily budget for one kind.
func (l *Ledger) kindCap(k domain.ActionKind) int {
	return l.st.DailyLimit * l.weights.Get(k) / 100
}

// canConsumeLocked implements the checks; caller holds l.mu.
func (l *Ledger) canConsumeLocked(accountID string, kind domain.ActionKind) (bool, string) {
	if l.st.GlobalUsed >= l.st.GlobalTotal {
		return false, ReasonGlobalExhausted
	}
	if l.st.DailyUsed >= l.st.DailyLimit {
		return false, ReasonDailyExhausted
	}
	if l.st.Distribution.Get(kind) >= l.kindCap(kind) {
		return false, ReasonKindExhausted
	}
	q, ok := l.st.Accounts[accountID]
	if !ok {
		return false, ReasonNotAllocated
	}
	if q.DailyUsed.Total() >= q.DailyLimit {
		return false, ReasonAccountExhausted
	}
	return true, ""
}

// CanConsume reports whether one action of the kind may be consumed for the
// account, with a denial reason.
func (l *Ledger) CanConsume(accountID string, kind domain.ActionKind) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canConsumeLocked(accountID, kind)
}

// Consume atomically increments global, daily, distribution, and per-account
// counters, or fails with ErrQuotaExceeded. Never partial.
func (l *Ledger) Consume(accountID string, kind domain.ActionKind) error {
	l.mu.Lock()
	ok, reason := l.canConsumeLocked(accountID, kind)
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, reason)
	}
	l.st.GlobalUsed++
	l.st.DailyUsed++
	l.st.Distribution = addKind(l.st.Distribution, kind, 1)
	q := l.st.Accounts[accountID]
	q.DailyUsed = addKind(q.DailyUsed, kind, 1)
	l.st.Accounts[accountID] = q
	globalUsed, dailyUsed := l.st.GlobalUsed, l.st.DailyUsed
	l.mu.Unlock()

	observability.QuotaUsed.WithLabelValues("global").Set(float64(globalUsed))
	observability.QuotaUsed.WithLabelValues("daily").Set(float64(dailyUsed))
	l.flush.Trigger()
	return nil
}

// Refund reverses one Consume for the account and kind; used when a
// consumed action turns out to be a duplicate or a reconciled pending
// intent. Counters never go negative.
func (l *Ledger) Refund(accountID string, kind domain.ActionKind) {
	l.mu.Lock()
	if l.st.GlobalUsed > 0 {
		l.st.GlobalUsed--
	}
	if l.st.DailyUsed > 0 {
		l.st.DailyUsed--
	}
	if l.st.Distribution.Get(kind) > 0 {
		l.st.Distribution = addKind(l.st.Distribution, kind, -1)
	}
	if q, ok := l.st.Accounts[accountID]; ok && q.DailyUsed.Get(kind) > 0 {
		q.DailyUsed = addKind(q.DailyUsed, kind, -1)
		l.st.Accounts[accountID] = q
	}
	l.mu.Unlock()
	l.flush.Trigger()
}

func addKind(u domain.KindUsage, k domain.ActionKind, delta int) domain.KindUsage {
	switch k {
	case domain.KindLike:
		u.Like += delta
	case domain.KindRepost:
		u.Repost += delta
	case domain.KindReply:
		u.Reply += delta
	}
	return u
}

// Snapshot returns a point-in-time copy of the ledger.
func (l *Ledger) Snapshot() domain.QuotaSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := domain.QuotaSnapshot{
		GlobalTotal:  l.st.GlobalTotal,
		GlobalUsed:   l.st.GlobalUsed,
		DailyLimit:   l.st.DailyLimit,
		DailyUsed:    l.st.DailyUsed,
		Distribution: l.st.Distribution,
		Accounts:     make(map[string]domain.AccountQuota, len(l.st.Accounts)),
		LastReset:    l.st.LastResetDate,
	}
	for id, q := range l.st.Accounts {
		snap.Accounts[id] = q
	}
	return snap
}

// Close flushes any pending write synchronously.
func (l *Ledger) Close() {
	l.flush.Close()
}

var _ domain.QuotaLedger = (*Ledger)(nil)
