package platform

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/engage-engine/internal/adapter/observability"
	"github.com/fairyhunter13/engage-engine/internal/config"
	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// OAuthRefresher exchanges refresh tokens at the platform's token endpoint.
type OAuthRefresher struct {
	tokenURL string
	hc       *http.Client
}

// NewOAuthRefresher builds the refresher against the platform base URL.
func NewOAuthRefresher(cfg config.Config) *OAuthRefresher {
	return &OAuthRefresher{
		tokenURL: cfg.PlatformBaseURL + "/oauth2/token",
		hc: &http.Client{
			Timeout:   cfg.PlatformTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// RefreshToken performs the refresh grant. A 400/401 with an invalid_grant
// style body means the refresh secret is dead and the operator must
// reconnect the account.
func (r *OAuthRefresher) RefreshToken(ctx domain.Context, creds domain.ModernCredentials) (domain.ModernCredentials, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.ModernCredentials{}, fmt.Errorf("op=platform.RefreshToken request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.hc.Do(req)
	if err != nil {
		observability.TokenRefreshTotal.WithLabelValues("error").Inc()
		return domain.ModernCredentials{}, fmt.Errorf("op=platform.RefreshToken: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ModernCredentials{}, fmt.Errorf("op=platform.RefreshToken read: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		observability.TokenRefreshTotal.WithLabelValues("reauth_required").Inc()
		return domain.ModernCredentials{}, fmt.Errorf("%w: %s", domain.ErrReauthRequired, snippet(string(data), 200))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.TokenRefreshTotal.WithLabelValues("error").Inc()
		return domain.ModernCredentials{}, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			Header:     resp.Header.Clone(),
			RateLimit:  parseRateHeaders(resp.Header),
		}
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return domain.ModernCredentials{}, fmt.Errorf("op=platform.RefreshToken decode: %w", err)
	}
	if body.AccessToken == "" {
		return domain.ModernCredentials{}, fmt.Errorf("op=platform.RefreshToken: empty access token")
	}

	fresh := domain.ModernCredentials{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(body.ExpiresIn) * time.Second),
		Scopes:       creds.Scopes,
	}
	// Some providers rotate the refresh token only occasionally.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = creds.RefreshToken
	}
	if body.Scope != "" {
		fresh.Scopes = strings.Fields(body.Scope)
	}
	observability.TokenRefreshTotal.WithLabelValues("ok").Inc()
	return fresh, nil
}
