package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

var handleRe = regexp.MustCompile(`^[a-z0-9_]{1,15}$`)

// NormalizeHandle strips a leading sigil and lowercases the handle.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// Watchlist is the ordered, deduplicated set of author handles to monitor,
// persisted to a JSON file.
type Watchlist struct {
	mu      sync.RWMutex
	path    string
	handles []string
}

// OpenWatchlist loads the watch-list from path; missing file starts empty.
func OpenWatchlist(path string) (*Watchlist, error) {
	w := &Watchlist{path: path}
	var handles []string
	if err := LoadJSON(path, &handles); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return w, nil
		}
		return nil, err
	}
	w.handles = dedupe(handles)
	return w, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, h := range in {
		h = NormalizeHandle(h)
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// Set replaces the watch-list; handles are normalized, validated, and
// deduplicated preserving first occurrence order.
func (w *Watchlist) Set(handles []string) error {
	clean := dedupe(handles)
	for _, h := range clean {
		if !handleRe.MatchString(h) {
			return fmt.Errorf("%w: invalid handle %q", domain.ErrInvalidArgument, h)
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handles = clean
	return SaveJSON(w.path, clean)
}

// Snapshot returns a copy of the current handles.
func (w *Watchlist) Snapshot() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.handles))
	copy(out, w.handles)
	return out
}

// Len returns the number of watched handles.
func (w *Watchlist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.handles)
}
