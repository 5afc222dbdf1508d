// Package engine wires the automation pipeline: per-account FIFO queues,
// the executor worker pool, and the supervisor driving scan/plan/schedule
// cycles.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/engage-engine/internal/adapter/store"
	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// PendingLog records consume intents flushed to disk before dispatch.
// On restart, intents without a matching idempotency record are refunded so
// a crash between consume and execute never double-consumes.
type PendingLog struct {
	mu   sync.Mutex
	path string
	m    map[string]time.Time
}

// OpenPendingLog loads the pending-intent log; a missing file starts empty.
func OpenPendingLog(path string) (*PendingLog, error) {
	p := &PendingLog{path: path, m: make(map[string]time.Time)}
	if err := store.LoadJSON(path, &p.m); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return p, nil
}

func pendingKey(k domain.IdemKey) string {
	return k.PostID + "|" + k.AccountID + "|" + string(k.Kind)
}

func parsePendingKey(s string) (domain.IdemKey, bool) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return domain.IdemKey{}, false
	}
	return domain.IdemKey{
		PostID:    parts[0],
		AccountID: parts[1],
		Kind:      domain.ActionKind(parts[2]),
	}, true
}

// Add records an intent and persists before returning.
func (p *PendingLog) Add(k domain.IdemKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[pendingKey(k)] = time.Now().UTC()
	if err := store.SaveJSON(p.path, p.m); err != nil {
		return fmt.Errorf("op=engine.PendingLog.Add: %w", err)
	}
	return nil
}

// Remove clears an intent once the attempt reached a terminal outcome.
func (p *PendingLog) Remove(k domain.IdemKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, pendingKey(k))
	if err := store.SaveJSON(p.path, p.m); err != nil {
		return fmt.Errorf("op=engine.PendingLog.Remove: %w", err)
	}
	return nil
}

// List returns all recorded intents.
func (p *PendingLog) List() []domain.IdemKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.IdemKey, 0, len(p.m))
	for s := range p.m {
		if k, ok := parsePendingKey(s); ok {
			out = append(out, k)
		}
	}
	return out
}
