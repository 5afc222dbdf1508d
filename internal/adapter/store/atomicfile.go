// Package store implements file-backed persistence for the engine:
// encrypted credentials, JSON ledgers, the append-only action log, and the
// watch-list. All full-file writes are atomic (write-tmp+rename).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// WriteFileAtomic writes data to path via a temp file in the same directory
// followed by rename, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("op=store.WriteFileAtomic: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("op=store.WriteFileAtomic write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("op=store.WriteFileAtomic sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("op=store.WriteFileAtomic close: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("op=store.WriteFileAtomic chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("op=store.WriteFileAtomic rename: %w", err)
	}
	return nil
}

// SaveJSON marshals v and writes it atomically.
func SaveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("op=store.SaveJSON marshal: %w", err)
	}
	return WriteFileAtomic(path, data, 0o600)
}

// LoadJSON reads path into v. A missing file returns domain.ErrNotFound;
// an unparsable file returns domain.ErrLedgerCorrupt so callers can decide
// whether to abort startup.
func LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- paths are engine-owned
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return fmt.Errorf("op=store.LoadJSON: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrLedgerCorrupt, path, err)
	}
	return nil
}
