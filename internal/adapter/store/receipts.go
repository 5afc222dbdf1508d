package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// ReceiptLog is the append-only action log (one JSON object per line).
// Opening the log tolerates a single truncated trailing line from a crashed
// writer; it is cut off and logged, anything worse is a corrupt ledger.
type ReceiptLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenReceiptLog opens or creates the jsonl action log at path.
func OpenReceiptLog(path string) (*ReceiptLog, error) {
	if err := repairTrailingLine(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("op=store.OpenReceiptLog: %w", err)
	}
	return &ReceiptLog{path: path, f: f}, nil
}

// repairTrailingLine truncates a partial last line left by a crash.
func repairTrailingLine(path string) error {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("op=store.repairTrailingLine: %w", err)
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}
	idx := bytes.LastIndexByte(data, '\n')
	keep := data[:idx+1] // idx == -1 keeps nothing
	slog.Warn("truncating partial trailing line in action log",
		slog.String("path", path),
		slog.Int("dropped_bytes", len(data)-len(keep)))
	return os.WriteFile(path, keep, 0o600)
}

// Append writes one receipt line and syncs.
func (l *ReceiptLog) Append(r domain.ActionReceipt) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("op=store.ReceiptLog.Append marshal: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("op=store.ReceiptLog.Append write: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("op=store.ReceiptLog.Append sync: %w", err)
	}
	return nil
}

// Export streams every receipt matching the filter through fn, in log order.
// fn returning false stops the stream early.
func (l *ReceiptLog) Export(filter domain.ReceiptFilter, fn func(domain.ActionReceipt) bool) error {
	f, err := os.Open(l.path) // #nosec G304
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("op=store.ReceiptLog.Export: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r domain.ActionReceipt
		if err := json.Unmarshal(line, &r); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrLedgerCorrupt, l.path, err)
		}
		if !filter.Match(r) {
			continue
		}
		if !fn(r) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("op=store.ReceiptLog.Export scan: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (l *ReceiptLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

var _ domain.ReceiptWriter = (*ReceiptLog)(nil)
