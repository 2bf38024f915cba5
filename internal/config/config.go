package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinJWTSecretLength はHS256署名鍵として受け入れる最小バイト数（256bit）。
const MinJWTSecretLength = 32

// ProviderConfig は1つのOAuth IdPのクライアント設定を保持する。
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled は設定が揃っているかどうかを返す。
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != "" && p.RedirectURL != ""
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（未設定の場合セッションキャッシュは無効）
	RedisURL string

	// OAuth
	Google   ProviderConfig
	Facebook ProviderConfig

	// Keys
	JWTSecret     string
	EncryptionKey string

	// Token / Session
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	SessionCacheTTL time.Duration

	// Timeouts
	StoreTimeout time.Duration
	CacheTimeout time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Logging
	LogLevel string

	// Server
	ServerPort  string
	BaseURL     string
	FrontendURL string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// envFiles はLoadDotEnvが探索する.envファイルの候補。
var envFiles = []string{
	".env",
	"../.env",
}

// LoadDotEnv は.envファイルが存在すれば環境変数として読み込む。
// 既に設定されている環境変数は上書きしない。ファイルがない場合は何もしない。
func LoadDotEnv() {
	for _, p := range envFiles {
		if err := godotenv.Load(p); err == nil {
			return
		}
	}
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	if cfg.EncryptionKey == "" {
		missing = append(missing, "ENCRYPTION_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.Google = loadProvider("GOOGLE")
	cfg.Facebook = loadProvider("FACEBOOK")
	missing = append(missing, partialProviderVars("GOOGLE", cfg.Google)...)
	missing = append(missing, partialProviderVars("FACEBOOK", cfg.Facebook)...)
	if !cfg.Google.Enabled() && !cfg.Facebook.Enabled() && len(missing) == 0 {
		missing = append(missing, "GOOGLE_CLIENT_ID or FACEBOOK_CLIENT_ID")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.JWTSecret) < MinJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes, got %d", MinJWTSecretLength, len(cfg.JWTSecret))
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	cfg.SessionCacheTTL = getEnvDuration("SESSION_CACHE_TTL", 7*24*time.Hour)
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 3*time.Second)
	cfg.CacheTimeout = getEnvDuration("CACHE_TIMEOUT", 500*time.Millisecond)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 30)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.FrontendURL = getEnvString("FRONTEND_URL", cfg.BaseURL)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return nil, fmt.Errorf("REFRESH_TOKEN_TTL (%v) must be longer than ACCESS_TOKEN_TTL (%v)", cfg.RefreshTokenTTL, cfg.AccessTokenTTL)
	}

	return cfg, nil
}

func loadProvider(prefix string) ProviderConfig {
	return ProviderConfig{
		ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
		ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
		RedirectURL:  os.Getenv(prefix + "_REDIRECT_URL"),
	}
}

// partialProviderVars は一部だけ設定されたIdPの不足変数名を返す。
// 全く設定されていない場合はそのIdPを無効として扱い、空を返す。
func partialProviderVars(prefix string, p ProviderConfig) []string {
	if p.ClientID == "" && p.ClientSecret == "" && p.RedirectURL == "" {
		return nil
	}
	var missing []string
	if p.ClientID == "" {
		missing = append(missing, prefix+"_CLIENT_ID")
	}
	if p.ClientSecret == "" {
		missing = append(missing, prefix+"_CLIENT_SECRET")
	}
	if p.RedirectURL == "" {
		missing = append(missing, prefix+"_REDIRECT_URL")
	}
	return missing
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
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
