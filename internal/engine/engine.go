package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fairyhunter13/engage-engine/internal/adapter/platform"
	"github.com/fairyhunter13/engage-engine/internal/adapter/replytext"
	"github.com/fairyhunter13/engage-engine/internal/adapter/store"
	"github.com/fairyhunter13/engage-engine/internal/config"
	"github.com/fairyhunter13/engage-engine/internal/domain"
	"github.com/fairyhunter13/engage-engine/internal/service/idempotency"
	"github.com/fairyhunter13/engage-engine/internal/service/mutes"
	"github.com/fairyhunter13/engage-engine/internal/service/quota"
	"github.com/fairyhunter13/engage-engine/internal/service/ratewindow"
	"github.com/fairyhunter13/engage-engine/internal/usecase"
)

// Engine is the composition root: it owns every ledger, adapter, and stage
// of the pipeline and exposes the control surface.
type Engine struct {
	cfg config.Config

	creds     *store.CredentialStore
	factory   *platform.Factory
	quota     *quota.Ledger
	idem      *idempotency.Ledger
	mutes     *mutes.Registry
	receipts  *store.ReceiptLog
	watchlist *store.Watchlist
	pending   *PendingLog
	rates     *ratewindow.Tracker

	scanner *usecase.Scanner
	planner *usecase.Planner
	sched   *Scheduler
	sup     *Supervisor
}

// Status is the point-in-time view of the engine for operators.
type Status struct {
	Enabled     bool                         `json:"enabled"`
	LastTick    time.Time                    `json:"last_tick"`
	InFlight    int                          `json:"in_flight"`
	QueueSizes  map[string]int               `json:"queue_sizes"`
	Mutes       map[string]domain.MuteRecord `json:"mutes"`
	ScanCursor  int                          `json:"scan_cursor"`
	Quota       domain.QuotaSnapshot         `json:"quota"`
	AccountsNum int                          `json:"accounts"`
}

// New wires all components from config and reconciles any pending intents
// left by a previous crash.
func New(cfg config.Config) (*Engine, error) {
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}

	refresher := platform.NewOAuthRefresher(cfg)
	creds, err := store.NewCredentialStore(filepath.Join(cfg.DataDir, "credentials.enc"), key, refresher)
	if err != nil {
		return nil, fmt.Errorf("op=engine.New credentials: %w", err)
	}
	factory := platform.NewFactory(cfg, creds)

	ledger, err := quota.Open(
		filepath.Join(cfg.DataDir, "quota.json"),
		cfg.GlobalPackTotal, cfg.DailyLimit,
		quota.Weights{Like: cfg.WeightLike, Repost: cfg.WeightRepost, Reply: cfg.WeightReply},
	)
	if err != nil {
		return nil, fmt.Errorf("op=engine.New quota: %w", err)
	}
	idem, err := idempotency.Open(filepath.Join(cfg.DataDir, "idempotency.json"))
	if err != nil {
		return nil, fmt.Errorf("op=engine.New idempotency: %w", err)
	}
	muteReg, err := mutes.Open(filepath.Join(cfg.DataDir, "mutes.json"))
	if err != nil {
		return nil, fmt.Errorf("op=engine.New mutes: %w", err)
	}
	receipts, err := store.OpenReceiptLog(filepath.Join(cfg.DataDir, "actions.log.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("op=engine.New receipts: %w", err)
	}
	watchlist, err := store.OpenWatchlist(filepath.Join(cfg.DataDir, "watchlist.json"))
	if err != nil {
		return nil, fmt.Errorf("op=engine.New watchlist: %w", err)
	}
	pendingLog, err := OpenPendingLog(filepath.Join(cfg.DataDir, "pending.json"))
	if err != nil {
		return nil, fmt.Errorf("op=engine.New pending: %w", err)
	}

	style := config.DefaultReplyStyle
	if cfg.ReplyStyleFile != "" {
		style, err = config.LoadReplyStyle(cfg.ReplyStyleFile)
		if err != nil {
			return nil, fmt.Errorf("op=engine.New reply style: %w", err)
		}
	}
	provider := replytext.NewProvider(cfg)
	images := replytext.NewImagePicker(
		filepath.Join(cfg.DataDir, "reply-images"),
		cfg.ReplyImagesEnabled, cfg.ReplyImagesProbability,
		time.Now().UnixNano(),
	)

	rates := ratewindow.NewTracker()
	scanner := usecase.NewScanner(watchlist, creds, factory, idem, cfg.ScanChunkSize, cfg.ScanPageSize,
		filepath.Join(cfg.DataDir, "scanner.json"))
	planner := usecase.NewPlanner(ledger, idem, muteReg, provider, images, style,
		cfg.MinActionDelay, cfg.MaxActionDelay, time.Now().UnixNano())
	sched := NewScheduler(cfg, factory, creds, ledger, idem, muteReg, receipts, pendingLog, rates)
	sup := NewSupervisor(cfg, scanner, planner, sched, ledger, creds)

	e := &Engine{
		cfg:       cfg,
		creds:     creds,
		factory:   factory,
		quota:     ledger,
		idem:      idem,
		mutes:     muteReg,
		receipts:  receipts,
		watchlist: watchlist,
		pending:   pendingLog,
		rates:     rates,
		scanner:   scanner,
		planner:   planner,
		sched:     sched,
		sup:       sup,
	}
	e.reconcilePending()
	return e, nil
}

// reconcilePending refunds consume intents that never reached a recorded
// outcome. Intents with an idempotency record completed; their consumption
// stands.
func (e *Engine) reconcilePending() {
	for _, k := range e.pending.List() {
		if !e.idem.Has(k) {
			e.quota.Refund(k.AccountID, k.Kind)
			slog.Info("startup: refunded unfinished intent",
				slog.String("post_id", k.PostID),
				slog.String("account_id", k.AccountID),
				slog.String("kind", string(k.Kind)))
		}
		if err := e.pending.Remove(k); err != nil {
			slog.Error("startup: pending clear failed", slog.Any("error", err))
		}
	}
}

// Enable starts the automation cycle.
func (e *Engine) Enable(ctx context.Context) error {
	return e.sup.Enable(ctx)
}

// Disable stops the cycle; in-flight platform calls finish first.
func (e *Engine) Disable() {
	e.sup.Disable()
}

// Status reports the current operational state.
func (e *Engine) Status(ctx context.Context) Status {
	accounts, err := e.creds.List(ctx)
	if err != nil {
		slog.Error("status: listing accounts failed", slog.Any("error", err))
	}
	return Status{
		Enabled:     e.sup.Enabled(),
		LastTick:    e.sup.LastTick(),
		InFlight:    e.sched.InFlight(),
		QueueSizes:  e.sched.QueueSizes(),
		Mutes:       e.mutes.Active(time.Now()),
		ScanCursor:  e.scanner.Rotation(),
		Quota:       e.quota.Snapshot(),
		AccountsNum: len(accounts),
	}
}

// SetWatchlist replaces the monitored handle list.
func (e *Engine) SetWatchlist(handles []string) error {
	return e.watchlist.Set(handles)
}

// Watchlist returns the current handle list.
func (e *Engine) Watchlist() []string {
	return e.watchlist.Snapshot()
}

// AddAccount registers a new authenticated account. Credentials are
// validated with a probe call before the account is persisted.
func (e *Engine) AddAccount(ctx context.Context, a domain.Account) error {
	if a.AddedAt.IsZero() {
		a.AddedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = domain.AccountActive
	}
	probe, err := platform.NewClient(e.cfg, a)
	if err != nil {
		return fmt.Errorf("op=engine.AddAccount: %w", err)
	}
	userID, err := probe.Me(ctx)
	if err != nil {
		return fmt.Errorf("op=engine.AddAccount probe: %w", err)
	}
	if a.ID == "" {
		a.ID = userID
	}
	return e.creds.Add(ctx, a)
}

// RemoveAccount drops an account, its queue, and its cached client.
func (e *Engine) RemoveAccount(ctx context.Context, accountID string) error {
	e.sched.DropAccount(accountID, domain.ReceiptFatal, "cancelled")
	e.factory.Invalidate(accountID)
	return e.creds.Remove(ctx, accountID)
}

// Accounts lists registered accounts (credentials included; callers must
// not log them).
func (e *Engine) Accounts(ctx context.Context) ([]domain.Account, error) {
	return e.creds.List(ctx)
}

// MuteAccount applies an operator-requested mute.
func (e *Engine) MuteAccount(accountID string, d time.Duration) {
	e.mutes.Mute(accountID, d, domain.MuteExplicit)
}

// SnapshotQuota returns a copy of the quota ledger state.
func (e *Engine) SnapshotQuota() domain.QuotaSnapshot {
	return e.quota.Snapshot()
}

// ExportReceipts streams matching receipts to fn; fn returning false stops
// the export early.
func (e *Engine) ExportReceipts(filter domain.ReceiptFilter, fn func(domain.ActionReceipt) bool) error {
	return e.receipts.Export(filter, fn)
}

// Shutdown disables automation, waits for in-flight actions, and flushes
// every ledger. Safe to call once.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.sup.Disable()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown: workers did not stop before deadline")
	}

	e.quota.Close()
	if err := e.receipts.Close(); err != nil {
		return fmt.Errorf("op=engine.Shutdown receipts: %w", err)
	}
	slog.Info("engine shut down")
	return nil
}
