package usecase

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// ImagePicker decides whether a reply carries a media attachment.
type ImagePicker interface {
	Pick() string
}

// Planner turns surviving posts into planned actions, respecting quotas,
// idempotency, and mutes. Output ordering is deterministic: posts by id
// ascending, accounts by added_at ascending, kinds in like/repost/reply
// order. Only scheduled times carry jitter.
type Planner struct {
	quota  domain.QuotaLedger
	idem   domain.IdempotencyLedger
	mutes  domain.MuteRegistry
	reply  domain.ReplyTextProvider
	images ImagePicker
	style  domain.ReplyStyle

	minDelay time.Duration
	maxDelay time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	entropy *ulid.MonotonicEntropy
}

// NewPlanner builds the planner. seed drives delay jitter and action ids.
func NewPlanner(quota domain.QuotaLedger, idem domain.IdempotencyLedger, mutes domain.MuteRegistry, reply domain.ReplyTextProvider, images ImagePicker, style domain.ReplyStyle, minDelay, maxDelay time.Duration, seed int64) *Planner {
	src := rand.New(rand.NewSource(seed)) // #nosec G404 -- scheduling jitter, not security
	return &Planner{
		quota:    quota,
		idem:     idem,
		mutes:    mutes,
		reply:    reply,
		images:   images,
		style:    style,
		minDelay: minDelay,
		maxDelay: maxDelay,
		rng:      src,
		entropy:  ulid.Monotonic(src, 0),
	}
}

// candidate is an action awaiting a schedule slot (and for replies, a text).
type candidate struct {
	post      domain.Post
	accountID string
	kind      domain.ActionKind
}

// Plan computes the planned actions for one tick. Accounts must be ordered
// by added_at ascending (CredentialStore.List guarantees it).
func (p *Planner) Plan(ctx domain.Context, scanned []ScannedPost, accounts []domain.Account, now time.Time) []domain.PlannedAction {
	p.quota.ResetIfNewDay(now)

	posts := make([]ScannedPost, len(scanned))
	copy(posts, scanned)
	sort.Slice(posts, func(i, j int) bool { return posts[i].Post.ID < posts[j].Post.ID })

	var eligible []domain.Account
	for _, a := range accounts {
		if !a.Active() {
			continue
		}
		if p.mutes.IsMuted(a.ID, now) {
			continue
		}
		eligible = append(eligible, a)
	}

	var out []domain.PlannedAction
	for _, sp := range posts {
		var candidates []candidate
		for _, a := range eligible {
			if a.ID == sp.ExcludedAccountID {
				continue
			}
			for _, kind := range domain.AllKinds {
				if kind == domain.KindRepost && sp.Post.IsReply {
					continue
				}
				key := domain.IdemKey{PostID: sp.Post.ID, AccountID: a.ID, Kind: kind}
				if p.idem.Has(key) {
					continue
				}
				if ok, reason := p.quota.CanConsume(a.ID, kind); !ok {
					slog.Debug("plan: quota denial",
						slog.String("account_id", a.ID),
						slog.String("kind", string(kind)),
						slog.String("reason", reason))
					continue
				}
				candidates = append(candidates, candidate{post: sp.Post, accountID: a.ID, kind: kind})
			}
		}
		out = append(out, p.schedule(ctx, candidates, now)...)
	}
	return out
}

// schedule assigns times, priorities, ids, and reply texts for one post's
// candidates. Reply texts come from a single provider call per post; each
// text binds to exactly one planned reply.
func (p *Planner) schedule(ctx domain.Context, candidates []candidate, now time.Time) []domain.PlannedAction {
	var replyCandidates []candidate
	for _, c := range candidates {
		if c.kind == domain.KindReply {
			replyCandidates = append(replyCandidates, c)
		}
	}

	var texts []string
	if len(replyCandidates) > 0 {
		batch := make([]domain.Post, len(replyCandidates))
		for i, c := range replyCandidates {
			batch[i] = c.post
		}
		var err error
		texts, err = p.reply.Generate(ctx, batch, p.style)
		if err != nil {
			// Reply actions for this batch are dropped, not retried.
			slog.Warn("plan: reply text generation failed; dropping replies",
				slog.String("post_id", replyCandidates[0].post.ID),
				slog.Int("dropped", len(replyCandidates)),
				slog.Any("error", err))
			texts = nil
		}
	}

	var out []domain.PlannedAction
	textIdx := 0
	for _, c := range candidates {
		action := domain.PlannedAction{
			PostID:    c.post.ID,
			AccountID: c.accountID,
			Kind:      c.kind,
		}
		if c.kind == domain.KindReply {
			if textIdx >= len(texts) {
				continue // no reply-text slot left for this candidate
			}
			action.ReplyText = texts[textIdx]
			textIdx++
			if p.images != nil {
				action.MediaID = p.images.Pick()
			}
		}

		p.mu.Lock()
		delay := p.minDelay
		if spread := p.maxDelay - p.minDelay; spread > 0 {
			delay += time.Duration(p.rng.Int63n(int64(spread)))
		}
		action.ID = ulid.MustNew(ulid.Timestamp(now), p.entropy).String()
		p.mu.Unlock()

		action.ScheduledAt = now.Add(delay)
		action.Priority = priorityFor(delay, p.minDelay, p.maxDelay)
		out = append(out, action)
	}
	return out
}

// priorityFor buckets the time-until-execute into thirds of the delay range.
func priorityFor(delay, minDelay, maxDelay time.Duration) domain.Priority {
	spread := maxDelay - minDelay
	if spread <= 0 {
		return domain.PriorityNormal
	}
	switch {
	case delay < minDelay+spread/3:
		return domain.PriorityUrgent
	case delay < minDelay+2*spread/3:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}
