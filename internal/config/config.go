package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// StoreBackend はデータストアの種別を表す。
type StoreBackend string

const (
	// StorePostgres はPostgreSQLを使用する（デフォルト）。
	StorePostgres StoreBackend = "postgres"
	// StoreMemory はプロセス内メモリを使用する。ローカル起動とテスト用。
	StoreMemory StoreBackend = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreBackend StoreBackend `env:"STORE_BACKEND" envDefault:"postgres"`
	DatabaseURL  string       `env:"DATABASE_URL"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Session
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	AdminEmails []string      `env:"ADMIN_EMAILS" envSeparator:","`

	// External identity provider
	AuthLoginURL        string        `env:"AUTH_LOGIN_URL" envDefault:"https://auth.emergentagent.com/?redirect={redirect}"`
	AuthSessionDataURL  string        `env:"AUTH_SESSION_DATA_URL" envDefault:"https://demobackend.emergentagent.com/auth/v1/env/oauth/session-data"`
	AuthUpstreamTimeout time.Duration `env:"AUTH_UPSTREAM_TIMEOUT" envDefault:"10s"`

	// Analytics
	AnalyticsQueueSize    int           `env:"ANALYTICS_QUEUE_SIZE" envDefault:"1024"`
	AnalyticsWorkers      int           `env:"ANALYTICS_WORKERS" envDefault:"2"`
	AnalyticsWriteTimeout time.Duration `env:"ANALYTICS_WRITE_TIMEOUT" envDefault:"5s"`

	// Image ingestion
	ImageFetchTimeout time.Duration `env:"IMAGE_FETCH_TIMEOUT" envDefault:"10s"`
	ImageMaxSize      int64         `env:"IMAGE_MAX_SIZE" envDefault:"2097152"`

	// Rate Limit (requests per minute)
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"10"`

	// Cleanup
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// リバースプロキシ。ここに含まれる接続元からの X-Forwarded-For だけを信用する
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env があれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.AdminEmails = normalizeEmails(cfg.AdminEmails)
	cfg.CORSAllowedOrigins = trimNonEmpty(cfg.CORSAllowedOrigins)
	cfg.TrustedProxies = trimNonEmpty(cfg.TrustedProxies)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate はフィールド間の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreBackend))
	}

	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.AnalyticsQueueSize <= 0 {
		errs = append(errs, errors.New("ANALYTICS_QUEUE_SIZE must be positive"))
	}
	if c.AnalyticsWorkers <= 0 {
		errs = append(errs, errors.New("ANALYTICS_WORKERS must be positive"))
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_GENERAL and RATE_LIMIT_AUTH must be positive"))
	}
	if _, err := url.ParseRequestURI(c.AuthSessionDataURL); err != nil {
		errs = append(errs, fmt.Errorf("AUTH_SESSION_DATA_URL is invalid: %w", err))
	}
	for _, origin := range c.CORSAllowedOrigins {
		if origin == "*" {
			errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS must not contain * because credentials are allowed"))
		}
	}
	for _, proxy := range c.TrustedProxies {
		if !validProxy(proxy) {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES contains an invalid IP or CIDR: %q", proxy))
		}
	}
	if !strings.Contains(c.AuthLoginURL, "{redirect}") {
		errs = append(errs, errors.New("AUTH_LOGIN_URL must contain the {redirect} placeholder"))
	}

	return errors.Join(errs...)
}

// IsAdminEmail はメールアドレスが管理者として登録されているかを判定する。
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range c.AdminEmails {
		if e == email {
			return true
		}
	}
	return false
}

func normalizeEmails(emails []string) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func validProxy(v string) bool {
	if strings.Contains(v, "/") {
		_, err := netip.ParsePrefix(v)
		return err == nil
	}
	_, err := netip.ParseAddr(v)
	return err == nil
}
