// Package replytext produces unique reply texts for a batch of posts by
// calling an OpenAI-compatible chat endpoint, and implements the optional
// image attachment policy.
package replytext

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/engage-engine/internal/config"
	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// Provider implements domain.ReplyTextProvider over an OpenAI-compatible
// chat completions endpoint. Stateless per call.
type Provider struct {
	baseURL string
	apiKey  string
	model   string
	hc      *http.Client
}

// NewProvider builds the provider from configuration.
func NewProvider(cfg config.Config) *Provider {
	return &Provider{
		baseURL: cfg.ReplyProviderBaseURL,
		apiKey:  cfg.ReplyProviderAPIKey,
		model:   cfg.ReplyProviderModel,
		hc: &http.Client{
			Timeout:   cfg.ReplyProviderTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate returns up to len(posts) deduplicated reply texts, each capped at
// style.MaxRunes. On provider failure or an empty response the caller drops
// the reply actions for the batch.
func (p *Provider) Generate(ctx domain.Context, posts []domain.Post, style domain.ReplyStyle) ([]string, error) {
	if len(posts) == 0 {
		return nil, nil
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: reply provider api key missing", domain.ErrInvalidArgument)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write %d distinct replies, tone: %s. One reply per line, no numbering, no quotes.\n", len(posts), style.Tone)
	for i, post := range posts {
		fmt.Fprintf(&b, "Post %d by @%s: %s\n", i+1, post.AuthorHandle, strings.ReplaceAll(post.Text, "\n", " "))
	}

	payload := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: style.SystemPrompt},
			{Role: "user", Content: b.String()},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("op=replytext.Generate marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("op=replytext.Generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=replytext.Generate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("op=replytext.Generate read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("op=replytext.Generate: provider status %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("op=replytext.Generate decode: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("op=replytext.Generate: empty provider response")
	}

	texts := SplitAndDedupe(cr.Choices[0].Message.Content, len(posts), style.MaxRunes)
	slog.Debug("reply texts generated",
		slog.Int("requested", len(posts)),
		slog.Int("usable", len(texts)))
	return texts, nil
}

// SplitAndDedupe turns raw provider output into at most max usable texts:
// one per non-empty line, deduplicated case-insensitively, each truncated to
// maxRunes.
func SplitAndDedupe(raw string, max, maxRunes int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		text := strings.TrimSpace(line)
		text = strings.Trim(text, `"`)
		if text == "" {
			continue
		}
		if maxRunes > 0 {
			runes := []rune(text)
			if len(runes) > maxRunes {
				text = string(runes[:maxRunes])
			}
		}
		key := strings.ToLower(text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, text)
		if len(out) == max {
			break
		}
	}
	return out
}

var _ domain.ReplyTextProvider = (*Provider)(nil)
