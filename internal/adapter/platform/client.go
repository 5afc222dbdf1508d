package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dghubble/oauth1"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/fairyhunter13/engage-engine/internal/adapter/observability"
	"github.com/fairyhunter13/engage-engine/internal/config"
	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// Client is an authenticated platform API client for one account.
type Client struct {
	baseURL string
	hc      *http.Client
	userID  string
	bearer  string
	// limiter paces outbound calls so a busy worker cannot burst the
	// platform API.
	limiter *rate.Limiter
}

// NewClient builds a client for the account's credential variant. Legacy
// credentials sign requests with OAuth1; modern credentials use a bearer
// token (the factory keeps it fresh).
func NewClient(cfg config.Config, account domain.Account) (*Client, error) {
	base := otelhttp.NewTransport(http.DefaultTransport)
	c := &Client{
		baseURL: cfg.PlatformBaseURL,
		userID:  account.ID,
		limiter: rate.NewLimiter(rate.Limit(1), 3),
	}
	switch account.AuthKind {
	case domain.AuthLegacy:
		if account.Credentials.Legacy == nil {
			return nil, fmt.Errorf("%w: legacy account without legacy credentials", domain.ErrInvalidArgument)
		}
		lc := account.Credentials.Legacy
		oaCfg := oauth1.NewConfig(lc.AppKey, lc.AppSecret)
		token := oauth1.NewToken(lc.AccessToken, lc.AccessSecret)
		c.hc = oaCfg.Client(oauth1.NoContext, token)
		c.hc.Timeout = cfg.PlatformTimeout
		if tr, ok := c.hc.Transport.(*oauth1.Transport); ok {
			tr.Base = base
		}
	case domain.AuthModern:
		if account.Credentials.Modern == nil {
			return nil, fmt.Errorf("%w: modern account without modern credentials", domain.ErrInvalidArgument)
		}
		c.bearer = account.Credentials.Modern.AccessToken
		c.hc = &http.Client{Timeout: cfg.PlatformTimeout, Transport: base}
	default:
		return nil, fmt.Errorf("%w: unknown auth kind %q", domain.ErrInvalidArgument, account.AuthKind)
	}
	return c, nil
}

func (c *Client) do(ctx domain.Context, operation, method, path string, query url.Values, payload any) (domain.RateLimitInfo, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.RateLimitInfo{}, nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return domain.RateLimitInfo{}, nil, fmt.Errorf("op=platform.do marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return domain.RateLimitInfo{}, nil, fmt.Errorf("op=platform.do request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	observability.PlatformCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.RateLimitInfo{}, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.RateLimitInfo{}, nil, fmt.Errorf("op=platform.do read: %w", err)
	}
	info := parseRateHeaders(resp.Header)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return info, nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			Header:     resp.Header.Clone(),
			RateLimit:  info,
		}
	}
	return info, data, nil
}

type wirePost struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	AuthorHandle string    `json:"author_handle"`
	CreatedAt    time.Time `json:"created_at"`
	IsReply      bool      `json:"is_reply"`
	IsRepost     bool      `json:"is_repost"`
	IsQuote      bool      `json:"is_quote"`
}

type wireSearchResponse struct {
	Data []wirePost `json:"data"`
	Meta struct {
		NewestID  string `json:"newest_id"`
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

// Search queries the platform and returns one page of posts.
func (c *Client) Search(ctx domain.Context, query string, p domain.SearchParams) (domain.SearchResult, error) {
	q := url.Values{}
	q.Set("query", query)
	if p.SinceID != "" {
		q.Set("since_id", p.SinceID)
	}
	if p.MaxResults > 0 {
		q.Set("max_results", strconv.Itoa(p.MaxResults))
	}
	if p.PageToken != "" {
		q.Set("pagination_token", p.PageToken)
	}
	info, data, err := c.do(ctx, "search", http.MethodGet, "/search", q, nil)
	if err != nil {
		return domain.SearchResult{RateLimit: info}, err
	}
	var resp wireSearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.SearchResult{RateLimit: info}, fmt.Errorf("op=platform.Search decode: %w", err)
	}
	res := domain.SearchResult{
		NewestID:  resp.Meta.NewestID,
		NextToken: resp.Meta.NextToken,
		RateLimit: info,
	}
	for _, p := range resp.Data {
		res.Posts = append(res.Posts, domain.Post{
			ID:           p.ID,
			AuthorHandle: p.AuthorHandle,
			CreatedAt:    p.CreatedAt,
			Text:         p.Text,
			IsReply:      p.IsReply,
			IsRepost:     p.IsRepost,
			IsQuote:      p.IsQuote,
		})
	}
	return res, nil
}

// Like likes a post on behalf of the account.
func (c *Client) Like(ctx domain.Context, postID string) (domain.CallMeta, error) {
	info, _, err := c.do(ctx, "like", http.MethodPost, "/likes", nil, map[string]string{
		"user_id": c.userID,
		"post_id": postID,
	})
	return domain.CallMeta{RateLimit: info}, err
}

// Repost reposts a post on behalf of the account.
func (c *Client) Repost(ctx domain.Context, postID string) (domain.CallMeta, error) {
	info, _, err := c.do(ctx, "repost", http.MethodPost, "/reposts", nil, map[string]string{
		"user_id": c.userID,
		"post_id": postID,
	})
	return domain.CallMeta{RateLimit: info}, err
}

// Reply posts a reply, optionally attaching a previously uploaded media id.
func (c *Client) Reply(ctx domain.Context, text, inReplyTo, mediaID string) (domain.CallMeta, error) {
	payload := map[string]string{
		"text":        text,
		"in_reply_to": inReplyTo,
	}
	if mediaID != "" {
		payload["media_id"] = mediaID
	}
	info, _, err := c.do(ctx, "reply", http.MethodPost, "/reply-post", nil, payload)
	return domain.CallMeta{RateLimit: info}, err
}

// Me returns the authenticated user's id; used as a credential probe.
func (c *Client) Me(ctx domain.Context) (string, error) {
	_, data, err := c.do(ctx, "me", http.MethodGet, "/me", nil, nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("op=platform.Me decode: %w", err)
	}
	return resp.Data.ID, nil
}

var _ domain.PlatformClient = (*Client)(nil)
