package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity
	TokenSecret string
	TokenTTL    time.Duration
	BcryptCost  int

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAuth    int

	// Worker
	SessionCleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// minTokenSecretLength はHS256署名鍵として受け付ける最小バイト数。
const minTokenSecretLength = 32

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TokenSecret = os.Getenv("TOKEN_SECRET")
	if cfg.TokenSecret == "" {
		missing = append(missing, "TOKEN_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.TokenSecret) < minTokenSecretLength {
		return nil, fmt.Errorf("TOKEN_SECRET must be at least %d bytes", minTokenSecretLength)
	}

	// Optional fields with defaults
	// 期間・レートは0以下だとタイマーやトークンバケットが機能しないため既定値に戻す
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", time.Hour)
	cfg.BcryptCost = getEnvIntInRange("BCRYPT_COST", 10, bcrypt.MinCost, bcrypt.MaxCost)
	cfg.RateLimitGeneral = getEnvIntInRange("RATE_LIMIT_GENERAL", 120, 1, math.MaxInt32)
	cfg.RateLimitAuth = getEnvIntInRange("RATE_LIMIT_AUTH", 10, 1, math.MaxInt32)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvIntInRange は[minVal, maxVal]の範囲外や解析できない値をdefaultValとして扱う。
func getEnvIntInRange(key string, defaultVal, minVal, maxVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < minVal || i > maxVal {
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
