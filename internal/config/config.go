package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストアバックエンドの種別
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Waitlist
	Capacity     int
	LedgerPath   string
	SessionPath  string
	TokenTTLDays int

	// Store
	StoreBackend string
	DatabaseURL  string
	BadgerDir    string

	// Token
	TokenSigningKey string

	// Webhook
	WebhookURL     string
	WebhookTimeout time.Duration

	// Rate Limit
	LoginRatePerMin int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// TokenTTL はトークン有効期間をtime.Durationで返す。
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLDays) * 24 * time.Hour
}

// Load は環境変数からConfigを読み込む。
// 値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Capacity = getEnvInt("WAITLIST_CAPACITY", 1000)
	cfg.LedgerPath = getEnvString("LEDGER_PATH", "participants_data.json")
	cfg.SessionPath = getEnvString("SESSION_PATH", "auth_data.json")
	cfg.TokenTTLDays = getEnvInt("TOKEN_TTL_DAYS", 30)
	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", BackendFile))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.BadgerDir = getEnvString("BADGER_DIR", "data/badger")
	cfg.TokenSigningKey = os.Getenv("TOKEN_SIGNING_KEY")
	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")
	cfg.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	cfg.LoginRatePerMin = getEnvInt("LOGIN_RATE_PER_MIN", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var problems []string

	if c.Capacity < 1 {
		problems = append(problems, "WAITLIST_CAPACITY must be >= 1")
	}
	if c.TokenTTLDays < 1 {
		problems = append(problems, "TOKEN_TTL_DAYS must be >= 1")
	}
	if c.LoginRatePerMin < 1 {
		problems = append(problems, "LOGIN_RATE_PER_MIN must be >= 1")
	}

	switch c.StoreBackend {
	case BackendFile:
		if c.LedgerPath == "" || c.SessionPath == "" {
			problems = append(problems, "LEDGER_PATH and SESSION_PATH are required for file backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for postgres backend")
		}
	case BackendBadger:
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %v", problems)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
