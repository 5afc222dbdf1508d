package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/fairyhunter13/engage-engine/internal/config"
	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// Factory produces per-account clients cached with a TTL. Construction and
// token refresh for one account run under a singleflight barrier so
// concurrent 401s trigger exactly one refresh.
type Factory struct {
	cfg   config.Config
	creds domain.CredentialStore
	cache *gocache.Cache
	group singleflight.Group
}

// NewFactory builds the client factory.
func NewFactory(cfg config.Config, creds domain.CredentialStore) *Factory {
	return &Factory{
		cfg:   cfg,
		creds: creds,
		cache: gocache.New(cfg.ClientCacheTTL, 2*cfg.ClientCacheTTL),
	}
}

// ClientFor returns a cached client for the account, building (and if
// needed refreshing credentials for) a new one on miss.
func (f *Factory) ClientFor(ctx domain.Context, accountID string, opts domain.ClientOptions) (domain.PlatformClient, error) {
	if v, ok := f.cache.Get(accountID); ok {
		return v.(domain.PlatformClient), nil
	}
	v, err, _ := f.group.Do(accountID, func() (any, error) {
		// Re-check under the barrier; a concurrent caller may have built it.
		if v, ok := f.cache.Get(accountID); ok {
			return v, nil
		}
		client, err := f.build(ctx, accountID, opts)
		if err != nil {
			return nil, err
		}
		f.cache.Set(accountID, client, gocache.DefaultExpiration)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.PlatformClient), nil
}

func (f *Factory) build(ctx domain.Context, accountID string, opts domain.ClientOptions) (domain.PlatformClient, error) {
	account, err := f.creds.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Active() {
		return nil, fmt.Errorf("%w: account %s requires reconnection", domain.ErrReauthRequired, accountID)
	}

	// Proactive refresh shortly before expiry avoids a guaranteed 401 on
	// the next call.
	if account.AuthKind == domain.AuthModern && account.Credentials.Modern != nil {
		until := time.Until(account.Credentials.Modern.ExpiresAt)
		if until <= f.cfg.ProactiveRefreshWindow {
			slog.Debug("proactive token refresh",
				slog.String("account_id", accountID),
				slog.Duration("expires_in", until))
			account, err = f.creds.Refresh(ctx, accountID)
			if err != nil {
				return nil, err
			}
		}
	}

	client, err := NewClient(f.cfg, account)
	if err != nil {
		return nil, err
	}
	if opts.SkipValidation {
		return client, nil
	}

	if _, err := client.Me(ctx); err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 || account.AuthKind != domain.AuthModern {
			return nil, err
		}
		// One refresh-and-retry on 401; a second 401 is fatal for the
		// credentials and surfaces to the caller.
		account, err = f.creds.Refresh(ctx, accountID)
		if err != nil {
			return nil, err
		}
		client, err = NewClient(f.cfg, account)
		if err != nil {
			return nil, err
		}
		if _, err := client.Me(ctx); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// Invalidate drops the cached client so the next ClientFor rebuilds with
// fresh credentials.
func (f *Factory) Invalidate(accountID string) {
	f.cache.Delete(accountID)
}

var _ domain.ClientFactory = (*Factory)(nil)
