// Package usecase implements the scan and plan stages of the automation
// pipeline.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fairyhunter13/engage-engine/internal/adapter/observability"
	"github.com/fairyhunter13/engage-engine/internal/adapter/store"
	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// WatchlistSource supplies the handles to monitor.
type WatchlistSource interface {
	Snapshot() []string
}

// ScannedPost is a surviving post plus the account that performed the search
// for its chunk. That account is excluded as an action target for this post
// only, to avoid self-targeting conflicts.
type ScannedPost struct {
	Post              domain.Post
	ExcludedAccountID string
}

// Scanner periodically searches the watch-list using a rotating account
// credential and filters out posts that cannot produce actions.
type Scanner struct {
	watchlist WatchlistSource
	creds     domain.CredentialStore
	factory   domain.ClientFactory
	idem      domain.IdempotencyLedger
	chunkSize int
	pageSize  int
	statePath string

	mu       sync.Mutex
	rotation int
	sinceID  string
}

// scanState is the cursor persisted between ticks so a restart neither
// rescans old posts nor restarts the credential rotation at zero.
type scanState struct {
	Rotation int    `json:"rotation"`
	SinceID  string `json:"since_id"`
}

// NewScanner builds the scanner, restoring the cursor from statePath when
// one was saved. An empty statePath keeps the cursor in memory only.
func NewScanner(watchlist WatchlistSource, creds domain.CredentialStore, factory domain.ClientFactory, idem domain.IdempotencyLedger, chunkSize, pageSize int, statePath string) *Scanner {
	s := &Scanner{
		watchlist: watchlist,
		creds:     creds,
		factory:   factory,
		idem:      idem,
		chunkSize: chunkSize,
		pageSize:  pageSize,
		statePath: statePath,
	}
	if statePath != "" {
		var st scanState
		if err := store.LoadJSON(statePath, &st); err == nil {
			s.rotation = st.Rotation
			s.sinceID = st.SinceID
		} else if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("scan cursor unreadable; starting fresh", slog.Any("error", err))
		}
	}
	return s
}

// Rotation returns the current round-robin index (for status reporting).
func (s *Scanner) Rotation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}

// buildQuery renders the search query for one chunk of handles.
func buildQuery(handles []string) string {
	parts := make([]string, len(handles))
	for i, h := range handles {
		parts[i] = "from:" + h
	}
	return strings.Join(parts, " OR ") + " -is_repost -is_reply"
}

// newerID compares numeric string ids (shorter means smaller).
func newerID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

// Scan runs one pass over the watch-list and returns surviving posts.
// An empty watch-list performs no external calls.
func (s *Scanner) Scan(ctx domain.Context) ([]ScannedPost, error) {
	handles := s.watchlist.Snapshot()
	if len(handles) == 0 {
		slog.Debug("scan skipped: empty watch-list")
		return nil, nil
	}

	accounts, err := s.creds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.Scan: %w", err)
	}
	var active []domain.Account
	for _, a := range accounts {
		if a.Active() {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		slog.Warn("scan skipped: no active accounts to search with")
		return nil, nil
	}
	activeIDs := make([]string, len(active))
	for i, a := range active {
		activeIDs[i] = a.ID
	}

	s.mu.Lock()
	sinceID := s.sinceID
	s.mu.Unlock()

	seen := make(map[string]struct{})
	var survivors []ScannedPost
	highWater := sinceID

	for start := 0; start < len(handles); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(handles) {
			end = len(handles)
		}
		chunk := handles[start:end]

		s.mu.Lock()
		scanAccount := active[s.rotation%len(active)]
		s.rotation++
		s.mu.Unlock()

		client, err := s.factory.ClientFor(ctx, scanAccount.ID, domain.ClientOptions{SkipValidation: true})
		if err != nil {
			slog.Warn("scan: client unavailable for scanning account",
				slog.String("account_id", scanAccount.ID),
				slog.Any("error", err))
			continue
		}

		query := buildQuery(chunk)
		fetched := 0
		nextToken := ""
		for fetched < s.pageSize {
			res, err := client.Search(ctx, query, domain.SearchParams{
				SinceID:    sinceID,
				MaxResults: s.pageSize - fetched,
				PageToken:  nextToken,
			})
			if err != nil {
				slog.Warn("scan: search failed",
					slog.String("account_id", scanAccount.ID),
					slog.Any("error", err))
				break
			}
			if res.NewestID != "" && newerID(res.NewestID, highWater) {
				highWater = res.NewestID
			}
			for _, post := range res.Posts {
				fetched++
				if newerID(post.ID, highWater) {
					highWater = post.ID
				}
				switch {
				case post.IsReply:
					observability.ScanPostsTotal.WithLabelValues("filtered_reply").Inc()
				case post.IsRepost:
					observability.ScanPostsTotal.WithLabelValues("filtered_repost").Inc()
				default:
					if _, dup := seen[post.ID]; dup {
						observability.ScanPostsTotal.WithLabelValues("filtered_seen").Inc()
						continue
					}
					seen[post.ID] = struct{}{}
					if s.idem.FullyCovered(post.ID, activeIDs, domain.AllKinds) {
						observability.ScanPostsTotal.WithLabelValues("filtered_covered").Inc()
						continue
					}
					observability.ScanPostsTotal.WithLabelValues("surviving").Inc()
					survivors = append(survivors, ScannedPost{
						Post:              post,
						ExcludedAccountID: scanAccount.ID,
					})
				}
				if fetched >= s.pageSize {
					break
				}
			}
			nextToken = res.NextToken
			if nextToken == "" || len(res.Posts) == 0 {
				break
			}
		}
	}

	s.mu.Lock()
	s.sinceID = highWater
	rotation := s.rotation
	s.mu.Unlock()
	s.saveCursor(rotation, highWater)

	slog.Info("scan complete",
		slog.Int("handles", len(handles)),
		slog.Int("surviving", len(survivors)),
		slog.String("since_id", highWater))
	return survivors, nil
}

func (s *Scanner) saveCursor(rotation int, sinceID string) {
	if s.statePath == "" {
		return
	}
	if err := store.SaveJSON(s.statePath, scanState{Rotation: rotation, SinceID: sinceID}); err != nil {
		slog.Error("scan cursor persist failed", slog.Any("error", err))
	}
}
