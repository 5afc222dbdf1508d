// Package ratewindow keeps per-account in-memory rate-limit observations:
// the last seen short-window headers and a rolling 24h action counter.
package ratewindow

import (
	"sync"
	"time"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// Window is one account's observed rate-limit state.
type Window struct {
	Last      domain.RateLimitInfo
	Count24h  int
	WindowEnd time.Time
}

// Tracker holds windows for all accounts.
type Tracker struct {
	mu sync.Mutex
	m  map[string]*Window
}

// NewTracker builds an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{m: make(map[string]*Window)}
}

// Observe records headers from a platform response and counts the action
// into the rolling 24h window.
func (t *Tracker) Observe(accountID string, info domain.RateLimitInfo, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.m[accountID]
	if !ok {
		w = &Window{WindowEnd: now.Add(24 * time.Hour)}
		t.m[accountID] = w
	}
	if now.After(w.WindowEnd) {
		w.Count24h = 0
		w.WindowEnd = now.Add(24 * time.Hour)
	}
	w.Count24h++
	if info.HasWindow() || info.DayLimit > 0 {
		w.Last = info
	}
}

// Get returns a copy of the account's window.
func (t *Tracker) Get(accountID string) (Window, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.m[accountID]
	if !ok {
		return Window{}, false
	}
	return *w, true
}
