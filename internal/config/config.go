// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// 短命ストアの実装種別
const (
	EphemeralStoreCookie = "cookie"
	EphemeralStoreMemory = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string        `env:"DATABASE_URL,notEmpty"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// OAuth
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID,notEmpty"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET,notEmpty"`
	GoogleRedirectURL  string        `env:"GOOGLE_REDIRECT_URL,notEmpty"`
	OAuthHTTPTimeout   time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`
	OAuthSafeClient    bool          `env:"OAUTH_SAFE_CLIENT" envDefault:"false"`

	// Session
	SessionSecret       string        `env:"SESSION_SECRET,notEmpty"`
	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionReuseExpired bool          `env:"SESSION_REUSE_EXPIRED" envDefault:"false"`
	LoginStateTTL       time.Duration `env:"LOGIN_STATE_TTL" envDefault:"5m"`
	EphemeralStore      string        `env:"EPHEMERAL_STORE" envDefault:"cookie"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"20"`
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Tracing（OTEL_ENDPOINTが空ならトレースを送信しない）
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	// Server
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL     string `env:"BASE_URL,notEmpty"`
	LandingPath string `env:"LANDING_PATH" envDefault:"/"`

	// Cookie
	CookieSecure bool   `env:"-"`
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	durations := map[string]time.Duration{
		"SESSION_TTL":        c.SessionTTL,
		"LOGIN_STATE_TTL":    c.LoginStateTTL,
		"SWEEP_INTERVAL":     c.SweepInterval,
		"OAUTH_HTTP_TIMEOUT": c.OAuthHTTPTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}

	limits := map[string]int{
		"RATE_LIMIT_AUTH":    c.RateLimitAuth,
		"RATE_LIMIT_GENERAL": c.RateLimitGeneral,
	}
	for name, n := range limits {
		if n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, n)
		}
	}

	if c.EphemeralStore != EphemeralStoreCookie && c.EphemeralStore != EphemeralStoreMemory {
		return fmt.Errorf("EPHEMERAL_STORE must be %q or %q, got %q", EphemeralStoreCookie, EphemeralStoreMemory, c.EphemeralStore)
	}

	if !strings.HasPrefix(c.LandingPath, "/") && !strings.HasPrefix(c.LandingPath, "http://") && !strings.HasPrefix(c.LandingPath, "https://") {
		return fmt.Errorf("LANDING_PATH must be a path or an absolute URL, got %q", c.LandingPath)
	}

	// "//evil.example.com" はブラウザでは別ホストへのリダイレクトになる
	if strings.HasPrefix(c.LandingPath, "//") {
		return fmt.Errorf("LANDING_PATH must not be protocol-relative, got %q", c.LandingPath)
	}

	return nil
}
