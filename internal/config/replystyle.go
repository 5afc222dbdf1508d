package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/engage-engine/internal/domain"
)

// DefaultReplyStyle is used when no style file is configured.
var DefaultReplyStyle = domain.ReplyStyle{
	SystemPrompt: "You write short, natural replies to social media posts. " +
		"Each reply must be distinct in wording and stand alone.",
	Tone:     "friendly",
	MaxRunes: 280,
}

// LoadReplyStyle reads the reply style YAML file, falling back to defaults
// for any unset field. An empty path returns the defaults unchanged.
func LoadReplyStyle(path string) (domain.ReplyStyle, error) {
	style := DefaultReplyStyle
	if path == "" {
		return style, nil
	}
	content, err := os.ReadFile(path) // #nosec G304 -- operator-provided config path
	if err != nil {
		return style, fmt.Errorf("op=config.LoadReplyStyle: %w", err)
	}
	var loaded domain.ReplyStyle
	if err := yaml.Unmarshal(content, &loaded); err != nil {
		return style, fmt.Errorf("op=config.LoadReplyStyle parse: %w", err)
	}
	if loaded.SystemPrompt != "" {
		style.SystemPrompt = loaded.SystemPrompt
	}
	if loaded.Tone != "" {
		style.Tone = loaded.Tone
	}
	if loaded.MaxRunes > 0 {
		style.MaxRunes = loaded.MaxRunes
	}
	return style, nil
}
