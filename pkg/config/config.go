package config

import (
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed defaults.yaml
var defaultConfig []byte

type Config struct {
	Env        string           `koanf:"env"`
	Port       string           `koanf:"port"`
	Log        LogConfig        `koanf:"log"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	JWT        JWTConfig        `koanf:"jwt"`
	Google     GoogleConfig     `koanf:"google"`
	Firebase   FirebaseConfig   `koanf:"firebase"`
	Encryption EncryptionConfig `koanf:"encryption"`
	AI         AIConfig         `koanf:"ai"`
	Sync       SyncConfig       `koanf:"sync"`
	Queue      QueueConfig      `koanf:"queue"`
	Retention  RetentionConfig  `koanf:"retention"`
	Rules      RulesConfig      `koanf:"rules"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type JWTConfig struct {
	Secret        string        `koanf:"secret"`
	AccessExpiry  time.Duration `koanf:"access_expiry"`
	RefreshExpiry time.Duration `koanf:"refresh_expiry"`
}

type GoogleConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURI  string `koanf:"redirect_uri"`
	ProjectID    string `koanf:"project_id"`
	PubSubTopic  string `koanf:"pubsub_topic"`
	Credentials  string `koanf:"credentials"`
	// PushToken must match the token query parameter of push deliveries
	PushToken string `koanf:"push_token"`
	// PubSubPull runs a pull subscriber in the worker instead of relying on push
	PubSubPull bool `koanf:"pubsub_pull"`
}

type FirebaseConfig struct {
	Credentials string `koanf:"credentials"`
}

type EncryptionConfig struct {
	// Key is a base64 encoded 32 byte AES key. Empty disables encryption.
	Key string `koanf:"key"`
}

type AIConfig struct {
	Provider      string        `koanf:"provider"`
	GeminiAPIKey  string        `koanf:"gemini_api_key"`
	GeminiModel   string        `koanf:"gemini_model"`
	OllamaBaseURL string        `koanf:"ollama_base_url"`
	OllamaModel   string        `koanf:"ollama_model"`
	Timeout       time.Duration `koanf:"timeout"`
	QuotaCooldown time.Duration `koanf:"quota_cooldown"`
}

type SyncConfig struct {
	Interval            time.Duration `koanf:"interval"`
	FullSyncMaxMessages int           `koanf:"full_sync_max_messages"`
	FullResyncInterval  time.Duration `koanf:"full_resync_interval"`
	RateLimitCooldown   time.Duration `koanf:"rate_limit_cooldown"`
	WatchRenewBefore    time.Duration `koanf:"watch_renew_before"`
}

type QueueConfig struct {
	Name         string        `koanf:"name"`
	Workers      int           `koanf:"workers"`
	JobTimeout   time.Duration `koanf:"job_timeout"`
	MaxAttempts  int           `koanf:"max_attempts"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
	// DedupeTTL bounds how long a pending job blocks an identical one
	DedupeTTL time.Duration `koanf:"dedupe_ttl"`
}

// RetentionConfig is the only place the per-user row cap is read from.
type RetentionConfig struct {
	Cap           int  `koanf:"cap"`
	AllowDecrease bool `koanf:"allow_decrease"`
}

type RulesConfig struct {
	SenderDenylist      []string `koanf:"sender_denylist"`
	SenderAllowlist     []string `koanf:"sender_allowlist"`
	SpamKeywords        []string `koanf:"spam_keywords"`
	FundraisingKeywords []string `koanf:"fundraising_keywords"`
	DeckLinkPatterns    []string `koanf:"deck_link_patterns"`
	HiringKeywords      []string `koanf:"hiring_keywords"`
	NetworkingKeywords  []string `koanf:"networking_keywords"`
}

// Load reads the embedded defaults, an optional CONFIG_FILE and then
// environment variables, in that order of precedence.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaultConfig), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Database.DSN = getEnv("DATABASE_URL", cfg.Database.DSN)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.JWT.Secret = getEnv("JWT_SECRET", cfg.JWT.Secret)
	cfg.Google.ClientID = getEnv("GOOGLE_CLIENT_ID", cfg.Google.ClientID)
	cfg.Google.ClientSecret = getEnv("GOOGLE_CLIENT_SECRET", cfg.Google.ClientSecret)
	cfg.Google.RedirectURI = getEnv("GOOGLE_REDIRECT_URI", cfg.Google.RedirectURI)
	cfg.Google.ProjectID = getEnv("GOOGLE_PROJECT_ID", cfg.Google.ProjectID)
	cfg.Google.PubSubTopic = getEnv("GOOGLE_PUBSUB_TOPIC", cfg.Google.PubSubTopic)
	cfg.Google.Credentials = getEnv("GOOGLE_APPLICATION_CREDENTIALS", cfg.Google.Credentials)
	cfg.Google.PushToken = getEnv("GOOGLE_PUBSUB_PUSH_TOKEN", cfg.Google.PushToken)
	cfg.Firebase.Credentials = getEnv("FIREBASE_CREDENTIALS", cfg.Firebase.Credentials)
	cfg.Encryption.Key = getEnv("ENCRYPTION_KEY", cfg.Encryption.Key)
	cfg.AI.Provider = getEnv("AI_PROVIDER", cfg.AI.Provider)
	cfg.AI.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.AI.GeminiAPIKey)
	cfg.AI.OllamaBaseURL = getEnv("OLLAMA_BASE_URL", cfg.AI.OllamaBaseURL)
	cfg.AI.OllamaModel = getEnv("OLLAMA_MODEL", cfg.AI.OllamaModel)

	if v := os.Getenv("LOG_PRETTY"); v != "" {
		cfg.Log.Pretty = v == "true" || v == "1"
	}
	if v := os.Getenv("GOOGLE_PUBSUB_PULL"); v != "" {
		cfg.Google.PubSubPull = v == "true" || v == "1"
	}

	durations := map[string]*time.Duration{
		"JWT_ACCESS_EXPIRY":    &cfg.JWT.AccessExpiry,
		"JWT_REFRESH_EXPIRY":   &cfg.JWT.RefreshExpiry,
		"AI_TIMEOUT":           &cfg.AI.Timeout,
		"AI_QUOTA_COOLDOWN":    &cfg.AI.QuotaCooldown,
		"SYNC_INTERVAL":        &cfg.Sync.Interval,
		"FULL_RESYNC_INTERVAL": &cfg.Sync.FullResyncInterval,
		"JOB_TIMEOUT":          &cfg.Queue.JobTimeout,
		"QUEUE_DEDUPE_TTL":     &cfg.Queue.DedupeTTL,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = parsed
		}
	}

	if v := os.Getenv("RETENTION_CAP"); v != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid RETENTION_CAP %q: %w", v, err)
		}
		cfg.Retention.Cap = parsed
	}
	if v := os.Getenv("RETENTION_ALLOW_DECREASE"); v != "" {
		cfg.Retention.AllowDecrease = v == "true" || v == "1"
	}
	if v := os.Getenv("QUEUE_WORKERS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QUEUE_WORKERS %q: %w", v, err)
		}
		cfg.Queue.Workers = parsed
	}
	return nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Retention.Cap <= 0 {
		errs = append(errs, errors.New("retention.cap (RETENTION_CAP) is required and must be greater than zero"))
	}
	if c.Sync.FullSyncMaxMessages <= 0 {
		errs = append(errs, errors.New("sync.full_sync_max_messages must be greater than zero"))
	}
	if c.Queue.JobTimeout <= 0 {
		errs = append(errs, errors.New("queue.job_timeout must be greater than zero"))
	}
	if c.Queue.DedupeTTL < c.Queue.JobTimeout {
		errs = append(errs, errors.New("queue.dedupe_ttl must be at least queue.job_timeout"))
	}
	if c.AI.Timeout <= 0 {
		errs = append(errs, errors.New("ai.timeout must be greater than zero"))
	}
	if c.Encryption.Key != "" {
		if _, err := c.EncryptionKey(); err != nil {
			errs = append(errs, err)
		}
	} else if c.Env == "production" {
		errs = append(errs, errors.New("encryption.key (ENCRYPTION_KEY) is required in production"))
	}
	return errors.Join(errs...)
}

// EncryptionKey decodes the configured key. A nil key means encryption is off.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Encryption.Key == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("encryption.key must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption.key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
