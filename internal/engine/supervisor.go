package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fairyhunter13/engage-engine/internal/adapter/observability"
	"github.com/fairyhunter13/engage-engine/internal/config"
	"github.com/fairyhunter13/engage-engine/internal/domain"
	"github.com/fairyhunter13/engage-engine/internal/usecase"
)

// Supervisor drives the scan/plan/schedule cycle on a fixed interval and
// resets daily quota counters at UTC midnight.
type Supervisor struct {
	cfg     config.Config
	scanner *usecase.Scanner
	planner *usecase.Planner
	sched   *Scheduler
	quota   domain.QuotaLedger
	creds   domain.CredentialStore

	mu       sync.Mutex
	cron     *cron.Cron
	enabled  bool
	firstRun bool
	lastTick time.Time

	// tickBusy prevents overlapping cycles when a scan outlives the interval.
	tickBusy atomic.Bool
}

// NewSupervisor builds the supervisor.
func NewSupervisor(cfg config.Config, scanner *usecase.Scanner, planner *usecase.Planner, sched *Scheduler, quota domain.QuotaLedger, creds domain.CredentialStore) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		scanner: scanner,
		planner: planner,
		sched:   sched,
		quota:   quota,
		creds:   creds,
	}
}

// Enable starts the automation cycle. Idempotent; the first tick fires
// immediately rather than waiting a full interval.
func (s *Supervisor) Enable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	spec := fmt.Sprintf("@every %s", s.cfg.PollInterval)
	if _, err := c.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("op=engine.Supervisor.Enable: %w", err)
	}
	if _, err := c.AddFunc("0 0 * * *", func() { s.quota.ResetIfNewDay(time.Now().UTC()) }); err != nil {
		return fmt.Errorf("op=engine.Supervisor.Enable: %w", err)
	}

	s.cron = c
	s.enabled = true
	s.firstRun = true
	s.sched.Start(ctx)
	c.Start()
	go s.tick(ctx)

	slog.Info("automation enabled",
		slog.Duration("poll_interval", s.cfg.PollInterval))
	return nil
}

// Disable stops ticking and cancels workers. Dispatched platform calls run
// to completion; everything still queued stays queued for the next Enable.
func (s *Supervisor) Disable() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	ctx := c.Stop()
	<-ctx.Done()
	s.sched.Stop()
	slog.Info("automation disabled")
}

// Enabled reports whether the cycle is running.
func (s *Supervisor) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// LastTick returns the completion time of the most recent cycle.
func (s *Supervisor) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// tick runs one scan/plan/schedule cycle.
func (s *Supervisor) tick(ctx context.Context) {
	if !s.tickBusy.CompareAndSwap(false, true) {
		slog.Warn("tick skipped: previous cycle still running")
		return
	}
	defer s.tickBusy.Store(false)

	s.mu.Lock()
	timeout := s.cfg.ScanTimeout
	if s.firstRun {
		timeout = s.cfg.FirstScanTime
		s.firstRun = false
	}
	s.mu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := time.Now().UTC()
	s.quota.ResetIfNewDay(now)

	accounts, err := s.creds.List(tctx)
	if err != nil {
		slog.Error("tick: listing accounts failed", slog.Any("error", err))
		return
	}
	var active []domain.Account
	for _, a := range accounts {
		if a.Active() {
			active = append(active, a)
		}
	}
	s.quota.RecomputeAllocation(active)

	scanned, err := s.scanner.Scan(tctx)
	if err != nil {
		slog.Error("tick: scan failed", slog.Any("error", err))
		return
	}

	actions := s.planner.Plan(tctx, scanned, accounts, now)
	s.sched.Push(actions)

	observability.TicksTotal.Inc()
	s.mu.Lock()
	s.lastTick = time.Now().UTC()
	s.mu.Unlock()

	slog.Info("tick complete",
		slog.Int("scanned", len(scanned)),
		slog.Int("planned", len(actions)),
		slog.Duration("elapsed", time.Since(now)))
}
