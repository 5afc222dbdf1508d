package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// TokenRefresher exchanges a refresh token for new modern credentials.
// Implemented by the platform adapter against the provider's token endpoint.
type TokenRefresher interface {
	RefreshToken(ctx domain.Context, creds domain.ModernCredentials) (domain.ModernCredentials, error)
}

// CredentialStore persists accounts encrypted at rest. Reads are served from
// an in-memory cache with write-through; the blob on disk is an XChaCha20-
// Poly1305 sealed JSON account list, written atomically.
type CredentialStore struct {
	path      string
	aead      cipher.AEAD
	refresher TokenRefresher

	mu       sync.RWMutex
	accounts map[string]domain.Account

	// Per-account refresh locks so one slow refresh does not serialize
	// unrelated accounts.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewCredentialStore opens (or initializes) the store at path with the given
// 32-byte key. A missing file starts empty; an undecryptable file is a
// corrupt-ledger failure.
func NewCredentialStore(path string, key []byte, refresher TokenRefresher) (*CredentialStore, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("op=store.NewCredentialStore: %w", err)
	}
	s := &CredentialStore{
		path:      path,
		aead:      aead,
		refresher: refresher,
		accounts:  make(map[string]domain.Account),
		locks:     make(map[string]*sync.Mutex),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CredentialStore) load() error {
	blob, err := os.ReadFile(s.path) // #nosec G304 -- engine-owned path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("op=store.credstore.load: %w", err)
	}
	if len(blob) < s.aead.NonceSize() {
		return fmt.Errorf("%w: credential blob too short", domain.ErrLedgerCorrupt)
	}
	nonce, ciphertext := blob[:s.aead.NonceSize()], blob[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("%w: credential blob decrypt: %v", domain.ErrLedgerCorrupt, err)
	}
	var list []domain.Account
	if err := json.Unmarshal(plain, &list); err != nil {
		return fmt.Errorf("%w: credential blob parse: %v", domain.ErrLedgerCorrupt, err)
	}
	for _, a := range list {
		s.accounts[a.ID] = a
	}
	return nil
}

// persist seals and writes the current account list. Caller holds s.mu.
func (s *CredentialStore) persist() error {
	list := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	plain, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("op=store.credstore.persist marshal: %w", err)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("op=store.credstore.persist nonce: %w", err)
	}
	blob := append(nonce, s.aead.Seal(nil, nonce, plain, nil)...)
	return WriteFileAtomic(s.path, blob, 0o600)
}

// List returns all accounts ordered by AddedAt (stable tie-break by ID).
func (s *CredentialStore) List(_ domain.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].AddedAt.Equal(list[j].AddedAt) {
			return list[i].AddedAt.Before(list[j].AddedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// Get returns one account by id.
func (s *CredentialStore) Get(_ domain.Context, accountID string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: account %s", domain.ErrNotFound, accountID)
	}
	return a, nil
}

// Add registers an account and persists.
func (s *CredentialStore) Add(_ domain.Context, a domain.Account) error {
	if a.ID == "" {
		return fmt.Errorf("%w: account id required", domain.ErrInvalidArgument)
	}
	if a.AddedAt.IsZero() {
		a.AddedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = domain.AccountActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return s.persist()
}

// Remove deletes an account and persists.
func (s *CredentialStore) Remove(_ domain.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return fmt.Errorf("%w: account %s", domain.ErrNotFound, accountID)
	}
	delete(s.accounts, accountID)
	return s.persist()
}

func (s *CredentialStore) refreshLock(accountID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// Refresh exchanges the refresh token for new modern credentials and
// atomically replaces the stored material. Legacy accounts are immutable
// post-registration. On ErrReauthRequired the account is marked
// requires_reconnection before the error is returned.
func (s *CredentialStore) Refresh(ctx domain.Context, accountID string) (domain.Account, error) {
	lock := s.refreshLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.Get(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	if a.AuthKind != domain.AuthModern || a.Credentials.Modern == nil {
		return domain.Account{}, fmt.Errorf("%w: refresh only applies to modern credentials", domain.ErrInvalidArgument)
	}

	fresh, err := s.refresher.RefreshToken(ctx, *a.Credentials.Modern)
	if err != nil {
		if errors.Is(err, domain.ErrReauthRequired) {
			slog.Warn("credential refresh rejected by provider",
				slog.String("account_id", accountID))
			_ = s.MarkRequiresReconnection(ctx, accountID)
		}
		return domain.Account{}, fmt.Errorf("op=store.credstore.Refresh: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a = s.accounts[accountID]
	a.Credentials.Modern = &fresh
	a.Status = domain.AccountActive
	s.accounts[accountID] = a
	if err := s.persist(); err != nil {
		return domain.Account{}, err
	}
	slog.Info("credentials refreshed",
		slog.String("account_id", accountID),
		slog.Time("expires_at", fresh.ExpiresAt))
	return a, nil
}

// MarkRequiresReconnection flags the account so the planner excludes it.
func (s *CredentialStore) MarkRequiresReconnection(_ domain.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: account %s", domain.ErrNotFound, accountID)
	}
	a.Status = domain.AccountRequiresReconnection
	s.accounts[accountID] = a
	return s.persist()
}

var _ domain.CredentialStore = (*CredentialStore)(nil)
