package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/fairyhunter13/engage-engine/internal/adapter/observability"
	"github.com/fairyhunter13/engage-engine/internal/adapter/platform"
	"github.com/fairyhunter13/engage-engine/internal/config"
	"github.com/fairyhunter13/engage-engine/internal/domain"
	"github.com/fairyhunter13/engage-engine/internal/service/quota"
	"github.com/fairyhunter13/engage-engine/internal/service/ratewindow"
)

// muteReason24hThreshold: mutes at or above this duration are tagged as the
// 24h-window variant.
const muteReason24hThreshold = time.Hour

// rescheduleJitterMax pads mute-until reschedules so unmuted items do not
// all fire at the same instant.
const rescheduleJitterMax = 30 * time.Second

// Scheduler owns one FIFO queue and one worker goroutine per account;
// execution across accounts is capped by a weighted semaphore. Per account,
// execution is strictly serial.
type Scheduler struct {
	cfg      config.Config
	factory  domain.ClientFactory
	creds    domain.CredentialStore
	quota    domain.QuotaLedger
	idem     domain.IdempotencyLedger
	mutes    domain.MuteRegistry
	receipts domain.ReceiptWriter
	pending  *PendingLog
	rates    *ratewindow.Tracker

	sem      *semaphore.Weighted
	seq      atomic.Uint64
	inFlight atomic.Int64

	mu      sync.Mutex
	queues  map[string]*accountQueue
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	jmu sync.Mutex
	rng *rand.Rand
}

// NewScheduler builds the scheduler.
func NewScheduler(cfg config.Config, factory domain.ClientFactory, creds domain.CredentialStore, quota domain.QuotaLedger, idem domain.IdempotencyLedger, mutesReg domain.MuteRegistry, receipts domain.ReceiptWriter, pending *PendingLog, rates *ratewindow.Tracker) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		factory:  factory,
		creds:    creds,
		quota:    quota,
		idem:     idem,
		mutes:    mutesReg,
		receipts: receipts,
		pending:  pending,
		rates:    rates,
		sem:      semaphore.NewWeighted(int64(cfg.PoolSize)),
		queues:   make(map[string]*accountQueue),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- scheduling jitter
	}
}

// Start spins up workers for existing queues under ctx. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for accountID, q := range s.queues {
		s.startWorkerLocked(accountID, q)
	}
}

// Stop cancels all workers; sleeping workers exit immediately, dispatched
// calls run to completion on a detached context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
	s.wg.Wait()
}

// Push enqueues planned actions in order, assigning enqueue sequence numbers
// and ensuring a worker exists for each touched account.
func (s *Scheduler) Push(actions []domain.PlannedAction) {
	for _, a := range actions {
		a.EnqueueSeq = s.seq.Add(1)
		q := s.queueFor(a.AccountID)
		q.push(a)
		observability.QueueDepth.WithLabelValues(a.AccountID).Set(float64(q.len()))
	}
}

func (s *Scheduler) queueFor(accountID string) *accountQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[accountID]
	if !ok {
		q = newAccountQueue()
		s.queues[accountID] = q
		if s.running {
			s.startWorkerLocked(accountID, q)
		}
	}
	return q
}

func (s *Scheduler) startWorkerLocked(accountID string, q *accountQueue) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.workerLoop(s.runCtx, accountID, q)
	}()
}

// QueueSizes reports pending items per account.
func (s *Scheduler) QueueSizes() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.queues))
	for id, q := range s.queues {
		out[id] = q.len()
	}
	return out
}

// InFlight reports actions currently executing.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// DropAccount drains an account's queue, emitting a receipt for every
// dropped item.
func (s *Scheduler) DropAccount(accountID string, status domain.ReceiptStatus, errorClass string) {
	s.mu.Lock()
	q, ok := s.queues[accountID]
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, item := range q.drain() {
		s.emit(item, status, errorClass, "queue drained")
	}
	observability.QueueDepth.WithLabelValues(accountID).Set(0)
}

// drainAllQuotaBlocked empties every queue after global exhaustion; each
// dropped item gets a quota_blocked receipt.
func (s *Scheduler) drainAllQuotaBlocked() {
	s.mu.Lock()
	queues := make(map[string]*accountQueue, len(s.queues))
	for id, q := range s.queues {
		queues[id] = q
	}
	s.mu.Unlock()
	for id, q := range queues {
		for _, item := range q.drain() {
			s.emit(item, domain.ReceiptQuotaBlocked, "quota_exceeded", "global pack exhausted")
		}
		observability.QueueDepth.WithLabelValues(id).Set(0)
	}
}

func (s *Scheduler) jitter(max time.Duration) time.Duration {
	s.jmu.Lock()
	defer s.jmu.Unlock()
	return time.Duration(s.rng.Int63n(int64(max)))
}

// workerLoop is the per-account consumer: strictly serial, FIFO by
// (scheduled_at, enqueue order), cancellable between suspension points.
func (s *Scheduler) workerLoop(ctx context.Context, accountID string, q *accountQueue) {
	for {
		head, ok := q.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if wait := time.Until(head.ScheduledAt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-q.wake:
				// A new head may have arrived; re-evaluate.
				timer.Stop()
				continue
			case <-timer.C:
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := q.pop()
		if !ok {
			continue
		}
		s.runItem(ctx, accountID, item, q)
		observability.QueueDepth.WithLabelValues(accountID).Set(float64(q.len()))
	}
}

// runItem executes one planned action through the C10 pipeline.
func (s *Scheduler) runItem(ctx context.Context, accountID string, item domain.PlannedAction, q *accountQueue) {
	now := time.Now()

	// Mute re-check: reschedule past the mute deadline.
	if rec, ok := s.mutes.Get(accountID); ok && rec.Until.After(now) {
		item.ScheduledAt = rec.Until.Add(s.jitter(rescheduleJitterMax))
		item.EnqueueSeq = s.seq.Add(1)
		q.push(item)
		return
	}

	// Idempotency re-check: already done elsewhere.
	if s.idem.Has(item.Key()) {
		s.emit(item, domain.ReceiptDuplicate, string(domain.ClassDuplicate), "already recorded")
		return
	}

	// Reserve quota. Per-kind or per-account exhaustion drops the item;
	// global exhaustion drains everything.
	if err := s.quota.Consume(accountID, item.Kind); err != nil {
		_, reason := s.quota.CanConsume(accountID, item.Kind)
		s.emit(item, domain.ReceiptQuotaBlocked, "quota_exceeded", reason)
		if reason == quota.ReasonGlobalExhausted {
			s.drainAllQuotaBlocked()
		}
		return
	}
	if err := s.pending.Add(item.Key()); err != nil {
		slog.Error("pending intent write failed",
			slog.String("action_id", item.ID),
			slog.Any("error", err))
	}

	// Execution continues on a detached context so Stop() does not abort a
	// dispatched call; the watchdog timeout still applies.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ActionTimeout)
	if err := s.sem.Acquire(execCtx, 1); err != nil {
		cancel()
		s.refundAndClear(item)
		s.requeueRetry(item, q, time.Second)
		return
	}
	s.inFlight.Add(1)
	err := s.execute(execCtx, item)
	s.inFlight.Add(-1)
	s.sem.Release(1)
	cancel()

	s.settle(ctx, accountID, item, q, err)
}

// execute performs the platform call for the action's kind.
func (s *Scheduler) execute(ctx context.Context, item domain.PlannedAction) error {
	client, err := s.factory.ClientFor(ctx, item.AccountID, domain.ClientOptions{SkipValidation: true})
	if err != nil {
		return err
	}
	var meta domain.CallMeta
	switch item.Kind {
	case domain.KindLike:
		meta, err = client.Like(ctx, item.PostID)
	case domain.KindRepost:
		meta, err = client.Repost(ctx, item.PostID)
	case domain.KindReply:
		meta, err = client.Reply(ctx, item.ReplyText, item.PostID, item.MediaID)
	}
	s.rates.Observe(item.AccountID, meta.RateLimit, time.Now())
	return err
}

// settle applies the classifier verdict: receipts, mutes, retries, refunds.
func (s *Scheduler) settle(ctx context.Context, accountID string, item domain.PlannedAction, q *accountQueue, execErr error) {
	now := time.Now()
	cls := platform.Classify(execErr, item.AttemptCount, now)

	switch cls.Class {
	case domain.ClassOK:
		if err := s.idem.Record(item.Key(), now); err != nil {
			slog.Error("idempotency record failed",
				slog.String("action_id", item.ID),
				slog.Any("error", err))
		}
		s.emit(item, domain.ReceiptOK, "", "")
		s.clearPending(item)

	case domain.ClassDuplicate:
		// Idempotent success: record the key, refund the reservation.
		if err := s.idem.Record(item.Key(), now); err != nil {
			slog.Error("idempotency record failed",
				slog.String("action_id", item.ID),
				slog.Any("error", err))
		}
		s.quota.Refund(accountID, item.Kind)
		s.emit(item, domain.ReceiptDuplicate, string(domain.ClassDuplicate), "")
		s.clearPending(item)

	case domain.ClassRateLimited:
		reason := domain.MuteRateLimitShort
		if cls.Mute >= muteReason24hThreshold {
			reason = domain.MuteRateLimit24h
		}
		s.mutes.Mute(accountID, cls.Mute, reason)
		s.refundAndClear(item)
		s.emit(item, domain.ReceiptRateLimited, string(domain.ClassRateLimited), "rescheduled past mute window")
		item.ScheduledAt = now.Add(cls.Mute + s.jitter(rescheduleJitterMax))
		item.EnqueueSeq = s.seq.Add(1)
		q.push(item)

	case domain.ClassRetryable:
		s.refundAndClear(item)
		if item.AttemptCount+1 >= s.cfg.RetryMaxAttempts {
			s.emit(item, domain.ReceiptFatal, string(domain.ClassRetryable), "retry attempts exhausted: "+errString(execErr))
			return
		}
		s.requeueRetry(item, q, s.retryDelay(item.AttemptCount))

	case domain.ClassAuthExpired:
		s.refundAndClear(item)
		s.factory.Invalidate(accountID)
		if item.AuthRetried {
			// The item already ran on refreshed credentials; a recurring
			// 401 means the grant itself is bad.
			s.onAuthFatal(accountID, item)
			return
		}
		if _, err := s.creds.Refresh(ctx, accountID); err != nil {
			s.onAuthFatal(accountID, item)
			return
		}
		// Retry once immediately with fresh credentials. AuthRetried is
		// tracked apart from the transient-retry counter so a prior 5xx
		// does not forfeit the post-refresh attempt.
		item.AuthRetried = true
		item.ScheduledAt = now
		item.EnqueueSeq = s.seq.Add(1)
		q.push(item)

	default: // ClassFatal
		s.refundAndClear(item)
		s.emit(item, domain.ReceiptFatal, string(cls.Class), errString(execErr))
	}

	observability.ActionsTotal.WithLabelValues(string(item.Kind), string(cls.Class)).Inc()
}

// onAuthFatal marks the account requires_reconnection and drops its queue.
func (s *Scheduler) onAuthFatal(accountID string, item domain.PlannedAction) {
	if err := s.creds.MarkRequiresReconnection(context.Background(), accountID); err != nil {
		slog.Error("mark requires_reconnection failed",
			slog.String("account_id", accountID),
			slog.Any("error", err))
	}
	s.factory.Invalidate(accountID)
	s.emit(item, domain.ReceiptAuthFailed, string(domain.ClassAuthFatal), "credentials rejected after refresh")
	s.DropAccount(accountID, domain.ReceiptAuthFailed, string(domain.ClassAuthFatal))
}

// retryDelay computes the exponential backoff for the given attempt.
func (s *Scheduler) retryDelay(attempt int) time.Duration {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.cfg.RetryInitialInterval
	expo.MaxInterval = s.cfg.RetryMaxInterval
	expo.Multiplier = s.cfg.RetryMultiplier
	expo.RandomizationFactor = 0.2
	d := expo.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = expo.NextBackOff()
	}
	if d == backoff.Stop || d > s.cfg.RetryMaxInterval {
		d = s.cfg.RetryMaxInterval
	}
	return d
}

func (s *Scheduler) requeueRetry(item domain.PlannedAction, q *accountQueue, delay time.Duration) {
	item.AttemptCount++
	item.ScheduledAt = time.Now().Add(delay)
	item.EnqueueSeq = s.seq.Add(1)
	q.push(item)
}

func (s *Scheduler) refundAndClear(item domain.PlannedAction) {
	s.quota.Refund(item.AccountID, item.Kind)
	s.clearPending(item)
}

func (s *Scheduler) clearPending(item domain.PlannedAction) {
	if err := s.pending.Remove(item.Key()); err != nil {
		slog.Error("pending intent clear failed",
			slog.String("action_id", item.ID),
			slog.Any("error", err))
	}
}

// emit writes a receipt; every dropped or finished item produces exactly one.
func (s *Scheduler) emit(item domain.PlannedAction, status domain.ReceiptStatus, errorClass, detail string) {
	r := domain.ActionReceipt{
		ID:         uuid.NewString(),
		PostID:     item.PostID,
		AccountID:  item.AccountID,
		Kind:       item.Kind,
		Status:     status,
		Timestamp:  time.Now().UTC(),
		ErrorClass: errorClass,
		Detail:     detail,
	}
	if err := s.receipts.Append(r); err != nil {
		slog.Error("receipt append failed",
			slog.String("action_id", item.ID),
			slog.Any("error", err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
