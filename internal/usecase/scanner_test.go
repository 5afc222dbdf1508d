package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/engage-engine/internal/domain"
	"github.com/fairyhunter13/engage-engine/internal/service/idempotency"
)

type staticWatchlist []string

func (s staticWatchlist) Snapshot() []string { return s }

type fakeCredStore struct {
	accounts []domain.Account
}

func (f *fakeCredStore) List(_ domain.Context) ([]domain.Account, error) { return f.accounts, nil }
func (f *fakeCredStore) Get(_ domain.Context, id string) (domain.Account, error) {
	for _, a := range f.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
}
func (f *fakeCredStore) Add(_ domain.Context, _ domain.Account) error { return nil }
func (f *fakeCredStore) Remove(_ domain.Context, _ string) error      { return nil }
func (f *fakeCredStore) Refresh(_ domain.Context, id string) (domain.Account, error) {
	return f.Get(context.Background(), id)
}
func (f *fakeCredStore) MarkRequiresReconnection(_ domain.Context, _ string) error { return nil }

type searchCall struct {
	accountID string
	query     string
	params    domain.SearchParams
}

// fakeClient serves scripted search pages and records calls.
type fakeClient struct {
	accountID string
	pages     map[string]domain.SearchResult // keyed by page token, "" for first
	recorder  *[]searchCall
	searchErr error
}

func (c *fakeClient) Search(_ domain.Context, query string, p domain.SearchParams) (domain.SearchResult, error) {
	*c.recorder = append(*c.recorder, searchCall{accountID: c.accountID, query: query, params: p})
	if c.searchErr != nil {
		return domain.SearchResult{}, c.searchErr
	}
	return c.pages[p.PageToken], nil
}

func (c *fakeClient) Like(_ domain.Context, _ string) (domain.CallMeta, error) {
	return domain.CallMeta{}, nil
}
func (c *fakeClient) Repost(_ domain.Context, _ string) (domain.CallMeta, error) {
	return domain.CallMeta{}, nil
}
func (c *fakeClient) Reply(_ domain.Context, _, _, _ string) (domain.CallMeta, error) {
	return domain.CallMeta{}, nil
}
func (c *fakeClient) Me(_ domain.Context) (string, error) { return c.accountID, nil }

type fakeFactory struct {
	pages     map[string]domain.SearchResult
	recorder  []searchCall
	buildErrs map[string]error
}

func (f *fakeFactory) ClientFor(_ domain.Context, accountID string, _ domain.ClientOptions) (domain.PlatformClient, error) {
	if err := f.buildErrs[accountID]; err != nil {
		return nil, err
	}
	return &fakeClient{accountID: accountID, pages: f.pages, recorder: &f.recorder}, nil
}

func (f *fakeFactory) Invalidate(_ string) {}

func activeAccount(id string, order int) domain.Account {
	return domain.Account{
		ID:      id,
		AddedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(order) * time.Hour),
		Status:  domain.AccountActive,
	}
}

func openIdem(t *testing.T) *idempotency.Ledger {
	t.Helper()
	l, err := idempotency.Open(filepath.Join(t.TempDir(), "idem.json"))
	require.NoError(t, err)
	return l
}

func TestScan_EmptyWatchlistMakesNoCalls(t *testing.T) {
	factory := &fakeFactory{}
	s := NewScanner(staticWatchlist{}, &fakeCredStore{accounts: []domain.Account{activeAccount("a", 0)}}, factory, openIdem(t), 10, 10, "")

	got, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, factory.recorder)
}

func TestScan_NoActiveAccountsSkips(t *testing.T) {
	inactive := activeAccount("a", 0)
	inactive.Status = domain.AccountRequiresReconnection
	factory := &fakeFactory{}
	s := NewScanner(staticWatchlist{"alice"}, &fakeCredStore{accounts: []domain.Account{inactive}}, factory, openIdem(t), 10, 10, "")

	got, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, factory.recorder)
}

func TestScan_QueryAndFilters(t *testing.T) {
	factory := &fakeFactory{
		pages: map[string]domain.SearchResult{
			"": {
				Posts: []domain.Post{
					{ID: "101", AuthorHandle: "alice"},
					{ID: "102", AuthorHandle: "alice", IsReply: true},
					{ID: "103", AuthorHandle: "bob", IsRepost: true},
					{ID: "101", AuthorHandle: "alice"}, // duplicate in page
					{ID: "104", AuthorHandle: "bob"},
				},
				NewestID: "104",
			},
		},
	}
	s := NewScanner(staticWatchlist{"alice", "bob"},
		&fakeCredStore{accounts: []domain.Account{activeAccount("acc1", 0)}},
		factory, openIdem(t), 10, 10, "")

	got, err := s.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, factory.recorder, 1)
	assert.Equal(t, "from:alice OR from:bob -is_repost -is_reply", factory.recorder[0].query)

	require.Len(t, got, 2)
	assert.Equal(t, "101", got[0].Post.ID)
	assert.Equal(t, "104", got[1].Post.ID)
	assert.Equal(t, "acc1", got[0].ExcludedAccountID)
}

func TestScan_ChunksRotateAccounts(t *testing.T) {
	factory := &fakeFactory{pages: map[string]domain.SearchResult{}}
	// 5 handles with chunk size 2 gives three chunks.
	s := NewScanner(staticWatchlist{"h1", "h2", "h3", "h4", "h5"},
		&fakeCredStore{accounts: []domain.Account{activeAccount("a", 0), activeAccount("b", 1)}},
		factory, openIdem(t), 2, 10, "")

	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, factory.recorder, 3)
	assert.Equal(t, "from:h1 OR from:h2 -is_repost -is_reply", factory.recorder[0].query)
	assert.Equal(t, "from:h3 OR from:h4 -is_repost -is_reply", factory.recorder[1].query)
	assert.Equal(t, "from:h5 -is_repost -is_reply", factory.recorder[2].query)
	// Round robin across active accounts, continuing on the next scan.
	assert.Equal(t, []string{"a", "b", "a"}, []string{
		factory.recorder[0].accountID,
		factory.recorder[1].accountID,
		factory.recorder[2].accountID,
	})

	_, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", factory.recorder[3].accountID)
}

func TestScan_SinceIDAdvances(t *testing.T) {
	factory := &fakeFactory{
		pages: map[string]domain.SearchResult{
			"": {
				Posts:    []domain.Post{{ID: "200", AuthorHandle: "alice"}},
				NewestID: "200",
			},
		},
	}
	s := NewScanner(staticWatchlist{"alice"},
		&fakeCredStore{accounts: []domain.Account{activeAccount("a", 0)}},
		factory, openIdem(t), 10, 10, "")

	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, factory.recorder[0].params.SinceID)

	_, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "200", factory.recorder[1].params.SinceID)
}

func TestScan_PaginationBoundedByPageSize(t *testing.T) {
	factory := &fakeFactory{
		pages: map[string]domain.SearchResult{
			"": {
				Posts:     []domain.Post{{ID: "1"}, {ID: "2"}},
				NextToken: "p2",
			},
			"p2": {
				Posts:     []domain.Post{{ID: "3"}, {ID: "4"}},
				NextToken: "p3",
			},
			"p3": {
				Posts: []domain.Post{{ID: "5"}},
			},
		},
	}
	s := NewScanner(staticWatchlist{"alice"},
		&fakeCredStore{accounts: []domain.Account{activeAccount("a", 0)}},
		factory, openIdem(t), 10, 3, "")

	got, err := s.Scan(context.Background())
	require.NoError(t, err)

	// Page budget of 3 stops after the second page.
	require.Len(t, factory.recorder, 2)
	assert.Equal(t, "p2", factory.recorder[1].params.PageToken)
	assert.Len(t, got, 3)
}

func TestScan_CursorSurvivesRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "scanner.json")
	creds := &fakeCredStore{accounts: []domain.Account{activeAccount("a", 0), activeAccount("b", 1)}}
	pages := map[string]domain.SearchResult{
		"": {
			Posts:    []domain.Post{{ID: "300", AuthorHandle: "alice"}},
			NewestID: "300",
		},
	}

	factory := &fakeFactory{pages: pages}
	s := NewScanner(staticWatchlist{"alice"}, creds, factory, openIdem(t), 10, 10, statePath)
	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", factory.recorder[0].accountID)

	// A fresh scanner over the same state file resumes the rotation and the
	// since-id high-water instead of starting over at account "a".
	factory2 := &fakeFactory{pages: pages}
	s2 := NewScanner(staticWatchlist{"alice"}, creds, factory2, openIdem(t), 10, 10, statePath)
	assert.Equal(t, 1, s2.Rotation())
	_, err = s2.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", factory2.recorder[0].accountID)
	assert.Equal(t, "300", factory2.recorder[0].params.SinceID)
}

func TestScan_FullyCoveredPostsFiltered(t *testing.T) {
	idem := openIdem(t)
	now := time.Now()
	for _, k := range domain.AllKinds {
		require.NoError(t, idem.Record(domain.IdemKey{PostID: "101", AccountID: "a", Kind: k}, now))
	}

	factory := &fakeFactory{
		pages: map[string]domain.SearchResult{
			"": {Posts: []domain.Post{{ID: "101"}, {ID: "102"}}},
		},
	}
	s := NewScanner(staticWatchlist{"alice"},
		&fakeCredStore{accounts: []domain.Account{activeAccount("a", 0)}},
		factory, idem, 10, 10, "")

	got, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "102", got[0].Post.ID)
}
