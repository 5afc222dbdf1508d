// Package config defines configuration parsing and helpers.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"dev"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	// DataDir is the root for all persistence files (credentials, ledgers,
	// action log, watch-list, reply images).
	DataDir string `env:"DATA_DIR" envDefault:"./data"`

	// Platform API
	PlatformBaseURL string        `env:"PLATFORM_BASE_URL" envDefault:"https://api.platform.example" validate:"url"`
	PlatformTimeout time.Duration `env:"PLATFORM_TIMEOUT" envDefault:"30s"`
	// EncryptionKeyHex is the 32-byte hex key for credential encryption at rest.
	EncryptionKeyHex string `env:"CREDENTIALS_KEY" validate:"required"`

	// Reply-text provider (OpenAI-compatible chat endpoint)
	ReplyProviderBaseURL string        `env:"REPLY_PROVIDER_BASE_URL" envDefault:"https://api.openai.com/v1"`
	ReplyProviderAPIKey  string        `env:"REPLY_PROVIDER_API_KEY"`
	ReplyProviderModel   string        `env:"REPLY_PROVIDER_MODEL" envDefault:"gpt-4o-mini"`
	ReplyProviderTimeout time.Duration `env:"REPLY_PROVIDER_TIMEOUT" envDefault:"60s"`
	ReplyStyleFile       string        `env:"REPLY_STYLE_FILE"`

	// Reply image attachment policy
	ReplyImagesEnabled     bool    `env:"REPLY_IMAGES_ENABLED" envDefault:"false"`
	ReplyImagesProbability float64 `env:"REPLY_IMAGES_PROBABILITY" envDefault:"0.2" validate:"gte=0,lte=1"`

	// Supervisor
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"30m"`
	FirstScanTime time.Duration `env:"FIRST_SCAN_TIMEOUT" envDefault:"5m"`
	ScanTimeout   time.Duration `env:"SCAN_TIMEOUT" envDefault:"10m"`

	// Scheduler / executor
	PoolSize        int           `env:"POOL_SIZE" envDefault:"16" validate:"gte=1"`
	ActionTimeout   time.Duration `env:"ACTION_TIMEOUT" envDefault:"5m"`
	MinActionDelay  time.Duration `env:"MIN_ACTION_DELAY" envDefault:"60s"`
	MaxActionDelay  time.Duration `env:"MAX_ACTION_DELAY" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Retry policy for the retryable error class.
	RetryMaxAttempts     int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"2s"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"30s"`
	RetryMultiplier      float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`

	// Quotas
	GlobalPackTotal int `env:"GLOBAL_PACK_TOTAL" envDefault:"10000" validate:"gte=0"`
	DailyLimit      int `env:"DAILY_LIMIT" envDefault:"300" validate:"gte=0"`
	// Per-kind weights; must sum to 100.
	WeightLike   int `env:"WEIGHT_LIKE" envDefault:"40"`
	WeightRepost int `env:"WEIGHT_REPOST" envDefault:"10"`
	WeightReply  int `env:"WEIGHT_REPLY" envDefault:"50"`

	// Credential refresh
	ProactiveRefreshWindow time.Duration `env:"PROACTIVE_REFRESH_WINDOW" envDefault:"5m"`
	ClientCacheTTL         time.Duration `env:"CLIENT_CACHE_TTL" envDefault:"10m"`

	// Scanner
	ScanChunkSize int `env:"SCAN_CHUNK_SIZE" envDefault:"10" validate:"gte=1,lte=10"`
	ScanPageSize  int `env:"SCAN_PAGE_SIZE" envDefault:"10" validate:"gte=1"`

	// Observability
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"engage-engine"`
}

// Load parses environment variables into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load validate: %w", err)
	}
	if cfg.WeightLike+cfg.WeightRepost+cfg.WeightReply != 100 {
		return Config{}, fmt.Errorf("op=config.Load: kind weights must sum to 100")
	}
	if cfg.MinActionDelay > cfg.MaxActionDelay {
		return Config{}, fmt.Errorf("op=config.Load: MIN_ACTION_DELAY exceeds MAX_ACTION_DELAY")
	}
	return cfg, nil
}

// EncryptionKey decodes the hex credential key. Must be 32 bytes.
func (c Config) EncryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("op=config.EncryptionKey: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("op=config.EncryptionKey: want 32 bytes, got %d", len(key))
	}
	return key, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
