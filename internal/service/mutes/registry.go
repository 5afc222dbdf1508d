// Package mutes tracks per-account paused-until timestamps with reason
// codes, derived from the error classifier.
package mutes

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/engage-engine/internal/adapter/observability"
	"github.com/fairyhunter13/engage-engine/internal/adapter/store"
	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// Registry is the persistent mute map.
type Registry struct {
	mu   sync.RWMutex
	path string
	m    map[string]domain.MuteRecord
}

// Open loads the registry; a missing file starts empty.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, m: make(map[string]domain.MuteRecord)}
	if err := store.LoadJSON(path, &r.m); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return r, nil
}

// Mute pauses the account for d from now. Overlapping mutes keep the later
// deadline: mute(d1); mute(d2) ≡ mute(max(d1,d2)).
func (r *Registry) Mute(accountID string, d time.Duration, reason domain.MuteReason) {
	until := time.Now().Add(d)
	r.mu.Lock()
	existing, ok := r.m[accountID]
	if !ok || until.After(existing.Until) {
		r.m[accountID] = domain.MuteRecord{Until: until, Reason: reason}
	}
	rec := r.m[accountID]
	if err := store.SaveJSON(r.path, r.m); err != nil {
		slog.Error("mute registry persist failed", slog.Any("error", err))
	}
	r.mu.Unlock()

	observability.MutesTotal.WithLabelValues(string(reason)).Inc()
	slog.Info("account muted",
		slog.String("account_id", accountID),
		slog.String("reason", string(rec.Reason)),
		slog.Time("until", rec.Until))
}

// IsMuted reports whether the account is paused at now.
func (r *Registry) IsMuted(accountID string, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.m[accountID]
	return ok && rec.Until.After(now)
}

// Get returns the account's mute record, if any.
func (r *Registry) Get(accountID string) (domain.MuteRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.m[accountID]
	return rec, ok
}

// Active returns all mutes still in effect at now.
func (r *Registry) Active(now time.Time) map[string]domain.MuteRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.MuteRecord)
	for id, rec := range r.m {
		if rec.Until.After(now) {
			out[id] = rec
		}
	}
	return out
}

var _ domain.MuteRegistry = (*Registry)(nil)
