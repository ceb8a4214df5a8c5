package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/taskman/internal/model"
	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // 認証済みAPIのユーザーごとのレート（req/sec）
	GeneralBurst    int           // 同バーストサイズ
	AuthRate        rate.Limit    // ログイン・登録のクライアントIPごとのレート（req/sec）
	AuthBurst       int           // 同バーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// RateLimiterConfigPerMinute は分あたりのリクエスト数から設定を組み立てる。
// バーストは1分間の上限と同じにする。
func RateLimiterConfigPerMinute(generalPerMin, authPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMin) / 60.0),
		GeneralBurst:    max(generalPerMin, 1),
		AuthRate:        rate.Limit(float64(authPerMin) / 60.0),
		AuthBurst:       max(authPerMin, 1),
		CleanupInterval: 5 * time.Minute,
	}
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 認証済みAPI 120 req/min/user、ログイン・登録 10 req/min/IP
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfigPerMinute(120, 10)
}

// keyedLimiter はキー（ユーザーIDやIP）ごとのリミッターを保持する。
type keyedLimiter struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newKeyedLimiter(r rate.Limit, burst int) *keyedLimiter {
	return &keyedLimiter{
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
}

func (k *keyedLimiter) allow(key string) bool {
	k.mu.Lock()
	e, ok := k.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.rate, k.burst)}
		k.limiters[key] = e
	}
	e.lastAccess = time.Now()
	k.mu.Unlock()

	return e.limiter.Allow()
}

func (k *keyedLimiter) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// evictIdle は最終アクセスからttl以上経過したエントリを削除する。
func (k *keyedLimiter) evictIdle(now time.Time, ttl time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.limiters {
		if now.Sub(e.lastAccess) > ttl {
			delete(k.limiters, key)
		}
	}
}

// RateLimiter は認証済みAPIのユーザー単位制限と、認証エンドポイントのIP単位制限を管理する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *keyedLimiter
	auth    *keyedLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成し、期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newKeyedLimiter(config.GeneralRate, config.GeneralBurst),
		auth:    newKeyedLimiter(config.AuthRate, config.AuthBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は認証済みAPIのレート制限ミドルウェアを返す。
// ベアラー認証ミドルウェアの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !rl.general.allow(userID) {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", "general"),
				)
				writeRateLimitResponse(w, rl.config.GeneralRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware はログイン・登録エンドポイント用のクライアントIP単位のレート制限を返す。
// パスワード総当たりを抑止するため、認証前に適用する。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !rl.auth.allow(ip) {
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "auth"),
				)
				writeRateLimitResponse(w, rl.config.AuthRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は管理中のユーザー単位リミッター数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int { return rl.general.len() }

// AuthLimiterCount は管理中のIP単位リミッター数を返す。
func (rl *RateLimiter) AuthLimiterCount() int { return rl.auth.len() }

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evictIdle(now, ttl)
	rl.auth.evictIdle(now, ttl)
}

// clientIP はRemoteAddrからポートを除いたアドレスを返す。
// X-Forwarded-For・X-Real-IPはクライアントが自由に設定できるため参照しない。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429レスポンスを書き込む。
// Retry-Afterには1トークンが補充されるまでの秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = max(int(math.Ceil(1.0/float64(r))), 1)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
