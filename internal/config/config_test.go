package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CREDENTIALS_KEY", strings.Repeat("ab", 32))
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, 9090, cfg.MetricsPort)
	assert.Equal(t, 30*time.Minute, cfg.PollInterval)
	assert.Equal(t, 16, cfg.PoolSize)
	assert.Equal(t, 300, cfg.DailyLimit)
	assert.Equal(t, 10000, cfg.GlobalPackTotal)
	assert.Equal(t, 40, cfg.WeightLike)
	assert.Equal(t, 10, cfg.WeightRepost)
	assert.Equal(t, 50, cfg.WeightReply)
	assert.Equal(t, 60*time.Second, cfg.MinActionDelay)
	assert.Equal(t, 120*time.Second, cfg.MaxActionDelay)
}

func TestLoad_MissingKeyFails(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_WeightsMustSumTo100(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WEIGHT_LIKE", "90")
	t.Setenv("WEIGHT_REPOST", "90")
	t.Setenv("WEIGHT_REPLY", "90")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 100")
}

func TestLoad_DelayOrderValidated(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MIN_ACTION_DELAY", "5m")
	t.Setenv("MAX_ACTION_DELAY", "1m")

	_, err := Load()
	assert.Error(t, err)
}

func TestEncryptionKey(t *testing.T) {
	t.Run("valid 32-byte hex", func(t *testing.T) {
		cfg := Config{EncryptionKeyHex: strings.Repeat("ab", 32)}
		key, err := cfg.EncryptionKey()
		require.NoError(t, err)
		assert.Len(t, key, 32)
	})

	t.Run("wrong length", func(t *testing.T) {
		cfg := Config{EncryptionKeyHex: "abcd"}
		_, err := cfg.EncryptionKey()
		assert.Error(t, err)
	})

	t.Run("not hex", func(t *testing.T) {
		cfg := Config{EncryptionKeyHex: strings.Repeat("zz", 32)}
		_, err := cfg.EncryptionKey()
		assert.Error(t, err)
	})
}

func TestLoadReplyStyle(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		style, err := LoadReplyStyle("")
		require.NoError(t, err)
		assert.Equal(t, DefaultReplyStyle, style)
	})

	t.Run("partial file keeps defaults for unset fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "style.yaml")
		require.NoError(t, os.WriteFile(path, []byte("tone: sarcastic\nmax_runes: 140\n"), 0o600))

		style, err := LoadReplyStyle(path)
		require.NoError(t, err)
		assert.Equal(t, "sarcastic", style.Tone)
		assert.Equal(t, 140, style.MaxRunes)
		assert.Equal(t, DefaultReplyStyle.SystemPrompt, style.SystemPrompt)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := LoadReplyStyle(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "style.yaml")
		require.NoError(t, os.WriteFile(path, []byte("tone: [unclosed"), 0o600))
		_, err := LoadReplyStyle(path)
		assert.Error(t, err)
	})
}
