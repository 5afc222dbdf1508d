package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrAlreadyPerformed = errors.New("already performed")
	ErrRateLimited      = errors.New("rate limited")
	ErrAuthExpired      = errors.New("auth expired")
	ErrReauthRequired   = errors.New("reauth required")
	ErrMuted            = errors.New("account muted")
	ErrLedgerCorrupt    = errors.New("ledger corrupt")
	ErrCancelled        = errors.New("cancelled")
	ErrInternal         = errors.New("internal error")
)

// ActionKind enumerates the engagement actions the engine can perform.
type ActionKind string

const (
	KindLike   ActionKind = "like"
	KindRepost ActionKind = "repost"
	KindReply  ActionKind = "reply"
)

// AllKinds lists every action kind in planning order.
var AllKinds = []ActionKind{KindLike, KindRepost, KindReply}

// AuthKind distinguishes the two supported credential variants.
type AuthKind string

const (
	AuthLegacy AuthKind = "legacy"
	AuthModern AuthKind = "modern"
)

// AccountStatus tracks whether an account is usable for dispatch.
type AccountStatus string

const (
	AccountActive               AccountStatus = "active"
	AccountRequiresReconnection AccountStatus = "requires_reconnection"
)

// LegacyCredentials is the immutable 1-leg quadruple.
type LegacyCredentials struct {
	AppKey       string `json:"app_key"`
	AppSecret    string `json:"app_secret"`
	AccessToken  string `json:"access_token"`
	AccessSecret string `json:"access_secret"`
}

// ModernCredentials is the refreshable 2-leg pair.
type ModernCredentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Credentials is a variant: exactly one of Legacy/Modern is set,
// matching the account's AuthKind.
type Credentials struct {
	Legacy *LegacyCredentials `json:"legacy,omitempty"`
	Modern *ModernCredentials `json:"modern,omitempty"`
}

// Account is an authenticated identity usable to perform actions.
type Account struct {
	ID          string        `json:"id"`
	Username    string        `json:"username"`
	AuthKind    AuthKind      `json:"auth_kind"`
	Credentials Credentials   `json:"credentials"`
	AddedAt     time.Time     `json:"added_at"`
	Status      AccountStatus `json:"status"`
}

// Active reports whether the account may be used for dispatch.
func (a Account) Active() bool { return a.Status == AccountActive }

// Post is a discovered item from the platform. Ephemeral; only the ID
// feeds the idempotency ledger.
type Post struct {
	ID           string
	AuthorHandle string
	CreatedAt    time.Time
	Text         string
	IsReply      bool
	IsRepost     bool
	IsQuote      bool
}

// Priority orders planned actions by urgency.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityNormal
	PriorityLow
)

// PlannedAction is one deferred (post, account, kind) engagement.
type PlannedAction struct {
	ID           string
	PostID       string
	AccountID    string
	Kind         ActionKind
	ScheduledAt  time.Time
	Priority     Priority
	AttemptCount int
	// AuthRetried marks that the item already got its one retry after a
	// credential refresh; a recurring 401 is then terminal for the account.
	AuthRetried bool
	// ReplyText is bound at planning time for reply actions; never reused
	// across accounts.
	ReplyText string
	MediaID   string
	// EnqueueSeq preserves FIFO order among items with equal ScheduledAt.
	EnqueueSeq uint64
}

// IdemKey is the triple that prevents duplicate actions.
type IdemKey struct {
	PostID    string
	AccountID string
	Kind      ActionKind
}

// Key returns the action's idempotency key.
func (p PlannedAction) Key() IdemKey {
	return IdemKey{PostID: p.PostID, AccountID: p.AccountID, Kind: p.Kind}
}

// ReceiptStatus classifies the outcome of an attempt.
type ReceiptStatus string

const (
	ReceiptOK           ReceiptStatus = "ok"
	ReceiptDuplicate    ReceiptStatus = "duplicate"
	ReceiptRateLimited  ReceiptStatus = "rate_limited"
	ReceiptAuthFailed   ReceiptStatus = "auth_failed"
	ReceiptQuotaBlocked ReceiptStatus = "quota_blocked"
	ReceiptFatal        ReceiptStatus = "fatal"
)

// ActionReceipt is the immutable record of one executed attempt.
type ActionReceipt struct {
	ID         string        `json:"id"`
	PostID     string        `json:"post_id"`
	AccountID  string        `json:"account_id"`
	Kind       ActionKind    `json:"kind"`
	Status     ReceiptStatus `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	ErrorClass string        `json:"error_class,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// KindUsage counts consumed actions per kind.
type KindUsage struct {
	Like   int `json:"like"`
	Repost int `json:"repost"`
	Reply  int `json:"reply"`
}

// Total sums usage across kinds.
func (u KindUsage) Total() int { return u.Like + u.Repost + u.Reply }

// Get returns the count for one kind.
func (u KindUsage) Get(k ActionKind) int {
	switch k {
	case KindLike:
		return u.Like
	case KindRepost:
		return u.Repost
	case KindReply:
		return u.Reply
	}
	return 0
}

// AccountQuota is one account's slice of the daily budget.
type AccountQuota struct {
	DailyLimit int       `json:"daily_limit"`
	DailyUsed  KindUsage `json:"daily_used"`
}

// QuotaSnapshot is a point-in-time copy of the quota ledger.
type QuotaSnapshot struct {
	GlobalTotal  int                     `json:"global_total"`
	GlobalUsed   int                     `json:"global_used"`
	DailyLimit   int                     `json:"daily_limit"`
	DailyUsed    int                     `json:"daily_used"`
	Distribution KindUsage               `json:"distribution"`
	Accounts     map[string]AccountQuota `json:"accounts"`
	LastReset    string                  `json:"last_reset_date"`
}

// MuteReason tags why an account is paused.
type MuteReason string

const (
	MuteRateLimitShort MuteReason = "rate_limit_short"
	MuteRateLimit24h   MuteReason = "rate_limit_24h"
	MuteAuthFailed     MuteReason = "auth_failed"
	MuteExplicit       MuteReason = "explicit"
)

// MuteRecord is a time-bounded dispatch suspension.
type MuteRecord struct {
	Until  time.Time  `json:"until"`
	Reason MuteReason `json:"reason"`
}

// RateLimitInfo captures rate-limit headers observed on a platform response.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
	// 24-hour-window variants, when the platform sends them.
	DayLimit     int
	DayRemaining int
	DayReset     time.Time
}

// HasWindow reports whether the short-window headers were present.
func (r RateLimitInfo) HasWindow() bool { return r.Limit > 0 || !r.Reset.IsZero() }

// ErrorClass is the classifier's verdict for a failed platform call.
type ErrorClass string

const (
	ClassOK          ErrorClass = "ok"
	ClassDuplicate   ErrorClass = "duplicate"
	ClassRateLimited ErrorClass = "rate_limited"
	ClassAuthExpired ErrorClass = "auth_expired"
	ClassAuthFatal   ErrorClass = "auth_fatal"
	ClassRetryable   ErrorClass = "retryable"
	ClassFatal       ErrorClass = "fatal"
)

// Classification carries the verdict plus backoff/mute hints.
type Classification struct {
	Class   ErrorClass
	Backoff time.Duration
	Mute    time.Duration
}

// Context is an alias so domain signatures stay decoupled from stdlib naming.
type Context = context.Context
