package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

func receipt(id, account string, kind domain.ActionKind, status domain.ReceiptStatus, at time.Time) domain.ActionReceipt {
	return domain.ActionReceipt{
		ID:        id,
		PostID:    "post-" + id,
		AccountID: account,
		Kind:      kind,
		Status:    status,
		Timestamp: at,
	}
}

func collect(t *testing.T, l *ReceiptLog, f domain.ReceiptFilter) []domain.ActionReceipt {
	t.Helper()
	var out []domain.ActionReceipt
	require.NoError(t, l.Export(f, func(r domain.ActionReceipt) bool {
		out = append(out, r)
		return true
	}))
	return out
}

func TestReceiptLog_AppendAndExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.log.jsonl")
	l, err := OpenReceiptLog(path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append(receipt("1", "a", domain.KindLike, domain.ReceiptOK, base)))
	require.NoError(t, l.Append(receipt("2", "b", domain.KindReply, domain.ReceiptDuplicate, base.Add(time.Minute))))
	require.NoError(t, l.Append(receipt("3", "a", domain.KindRepost, domain.ReceiptFatal, base.Add(2*time.Minute))))

	all := collect(t, l, domain.ReceiptFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	byAccount := collect(t, l, domain.ReceiptFilter{AccountID: "a"})
	require.Len(t, byAccount, 2)

	byStatus := collect(t, l, domain.ReceiptFilter{Status: domain.ReceiptDuplicate})
	require.Len(t, byStatus, 1)
	assert.Equal(t, "2", byStatus[0].ID)

	windowed := collect(t, l, domain.ReceiptFilter{Since: base.Add(30 * time.Second), Until: base.Add(90 * time.Second)})
	require.Len(t, windowed, 1)
	assert.Equal(t, "2", windowed[0].ID)
}

func TestReceiptLog_ExportStopsEarly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.log.jsonl")
	l, err := OpenReceiptLog(path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	now := time.Now().UTC()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, l.Append(receipt(id, "a", domain.KindLike, domain.ReceiptOK, now)))
	}

	var got int
	require.NoError(t, l.Export(domain.ReceiptFilter{}, func(domain.ActionReceipt) bool {
		got++
		return got < 2
	}))
	assert.Equal(t, 2, got)
}

func TestOpenReceiptLog_RepairsTruncatedTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.log.jsonl")
	l, err := OpenReceiptLog(path)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, l.Append(receipt("1", "a", domain.KindLike, domain.ReceiptOK, now)))
	require.NoError(t, l.Close())

	// Simulate a crash mid-write.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"2","post_id":"trunca`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := OpenReceiptLog(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	all := collect(t, reopened, domain.ReceiptFilter{})
	require.Len(t, all, 1)
	assert.Equal(t, "1", all[0].ID)

	// The repaired log accepts new appends.
	require.NoError(t, reopened.Append(receipt("3", "a", domain.KindLike, domain.ReceiptOK, now)))
	assert.Len(t, collect(t, reopened, domain.ReceiptFilter{}), 2)
}

func TestReceiptLog_CorruptInteriorLineFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.log.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{broken json}\n"), 0o600))

	l, err := OpenReceiptLog(path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	err = l.Export(domain.ReceiptFilter{}, func(domain.ActionReceipt) bool { return true })
	assert.ErrorIs(t, err, domain.ErrLedgerCorrupt)
}
