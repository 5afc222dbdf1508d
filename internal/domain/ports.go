package domain

import "time"

// Ports: the engine core depends on these, adapters implement them.

// CredentialStore persists accounts and their credential material.
type CredentialStore interface {
	List(ctx Context) ([]Account, error)
	Get(ctx Context, accountID string) (Account, error)
	Add(ctx Context, a Account) error
	Remove(ctx Context, accountID string) error
	// Refresh exchanges the refresh secret for new modern credentials and
	// atomically replaces the stored token. Fails with ErrReauthRequired when
	// the provider rejects the refresh; the account is then marked
	// requires_reconnection.
	Refresh(ctx Context, accountID string) (Account, error)
	MarkRequiresReconnection(ctx Context, accountID string) error
}

// SearchParams bounds a platform search call.
type SearchParams struct {
	SinceID    string
	MaxResults int
	PageToken  string
}

// SearchResult is one page of posts plus observed rate-limit headers.
type SearchResult struct {
	Posts     []Post
	NewestID  string
	NextToken string
	RateLimit RateLimitInfo
}

// CallMeta surfaces per-call observations (rate-limit headers).
type CallMeta struct {
	RateLimit RateLimitInfo
}

// PlatformClient is an authenticated client for one account.
type PlatformClient interface {
	Search(ctx Context, query string, p SearchParams) (SearchResult, error)
	Like(ctx Context, postID string) (CallMeta, error)
	Repost(ctx Context, postID string) (CallMeta, error)
	Reply(ctx Context, text, inReplyTo, mediaID string) (CallMeta, error)
	Me(ctx Context) (string, error)
}

// ClientOptions tweak client construction.
type ClientOptions struct {
	// SkipValidation skips the Me() probe on first construction.
	SkipValidation bool
}

// ClientFactory produces cached per-account clients and handles token
// refresh on 401.
type ClientFactory interface {
	ClientFor(ctx Context, accountID string, opts ClientOptions) (PlatformClient, error)
	// Invalidate drops the cached client so the next ClientFor rebuilds it
	// with fresh credentials.
	Invalidate(accountID string)
}

// ReplyStyle configures generated reply texts.
type ReplyStyle struct {
	SystemPrompt string `yaml:"system_prompt"`
	Tone         string `yaml:"tone"`
	MaxRunes     int    `yaml:"max_runes"`
}

// ReplyTextProvider produces unique reply texts for a batch of posts.
// Returned slice has length <= len(posts), is deduplicated, and each entry
// respects the style's length cap. Stateless per call.
type ReplyTextProvider interface {
	Generate(ctx Context, posts []Post, style ReplyStyle) ([]string, error)
}

// QuotaLedger is the source of truth for remaining budget.
type QuotaLedger interface {
	ResetIfNewDay(now time.Time)
	RecomputeAllocation(active []Account)
	CanConsume(accountID string, kind ActionKind) (bool, string)
	Consume(accountID string, kind ActionKind) error
	// Refund reverses one Consume; used for duplicate outcomes and pending
	// reconciliation.
	Refund(accountID string, kind ActionKind)
	Snapshot() QuotaSnapshot
}

// IdempotencyLedger answers "already done?" for (post, account, kind).
type IdempotencyLedger interface {
	Has(key IdemKey) bool
	Record(key IdemKey, at time.Time) error
	// FullyCovered reports whether every (account, kind) pair has already
	// been performed for the post.
	FullyCovered(postID string, accountIDs []string, kinds []ActionKind) bool
}

// MuteRegistry tracks per-account paused-until timestamps.
type MuteRegistry interface {
	Mute(accountID string, d time.Duration, reason MuteReason)
	IsMuted(accountID string, now time.Time) bool
	Get(accountID string) (MuteRecord, bool)
}

// ReceiptWriter appends to the persistent action log.
type ReceiptWriter interface {
	Append(r ActionReceipt) error
}

// ReceiptFilter narrows an export stream.
type ReceiptFilter struct {
	AccountID string
	Kind      ActionKind
	Status    ReceiptStatus
	Since     time.Time
	Until     time.Time
}

// Match reports whether the receipt passes the filter.
func (f ReceiptFilter) Match(r ActionReceipt) bool {
	if f.AccountID != "" && r.AccountID != f.AccountID {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	return true
}
