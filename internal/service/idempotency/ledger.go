// Package idempotency implements the crash-safe ledger answering
// "already done?" for (post, account, kind) triples. Append-only in
// practice; eviction only by explicit admin reset.
package idempotency

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/engage-engine/internal/adapter/store"
	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// entries is post_id → account_id → kind → first success timestamp.
type entries map[string]map[string]map[domain.ActionKind]time.Time

// Ledger is the persistent idempotency map.
type Ledger struct {
	mu   sync.RWMutex
	path string
	m    entries
}

// Open loads the ledger from path; a missing file starts empty, an
// unparsable one is a corrupt-ledger failure (startup must abort).
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, m: make(entries)}
	if err := store.LoadJSON(path, &l.m); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return l, nil
}

// Has reports whether the key was already performed.
func (l *Ledger) Has(key domain.IdemKey) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasLocked(key)
}

func (l *Ledger) hasLocked(key domain.IdemKey) bool {
	accounts, ok := l.m[key.PostID]
	if !ok {
		return false
	}
	kinds, ok := accounts[key.AccountID]
	if !ok {
		return false
	}
	_, ok = kinds[key.Kind]
	return ok
}

// Record marks the key done at the given time and persists atomically.
// Recording an existing key keeps the first timestamp.
func (l *Ledger) Record(key domain.IdemKey, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	accounts, ok := l.m[key.PostID]
	if !ok {
		accounts = make(map[string]map[domain.ActionKind]time.Time)
		l.m[key.PostID] = accounts
	}
	kinds, ok := accounts[key.AccountID]
	if !ok {
		kinds = make(map[domain.ActionKind]time.Time)
		accounts[key.AccountID] = kinds
	}
	if _, ok := kinds[key.Kind]; !ok {
		kinds[key.Kind] = at.UTC()
	}
	if err := store.SaveJSON(l.path, l.m); err != nil {
		return fmt.Errorf("op=idempotency.Record: %w", err)
	}
	return nil
}

// FullyCovered reports whether every (account, kind) pair has already been
// performed for the post; such posts are filtered before planning.
func (l *Ledger) FullyCovered(postID string, accountIDs []string, kinds []domain.ActionKind) bool {
	if len(accountIDs) == 0 || len(kinds) == 0 {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, acc := range accountIDs {
		for _, k := range kinds {
			if !l.hasLocked(domain.IdemKey{PostID: postID, AccountID: acc, Kind: k}) {
				return false
			}
		}
	}
	return true
}

// Reset wipes the ledger (admin operation) and persists.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m = make(entries)
	if err := store.SaveJSON(l.path, l.m); err != nil {
		return fmt.Errorf("op=idempotency.Reset: %w", err)
	}
	return nil
}

var _ domain.IdempotencyLedger = (*Ledger)(nil)
