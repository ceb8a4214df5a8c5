// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/hitoshi/taskman/internal/identity"
	"github.com/hitoshi/taskman/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	tokenContextKey  = contextKey("bearer_token")
	holderContextKey = contextKey("user_holder")
)

// errNoBearer はAuthorizationヘッダーが無い、またはBearer形式でない場合のエラー。
var errNoBearer = errors.New("missing or malformed bearer token")

// TokenVerifier はベアラートークンの検証を行う。identity.Serviceが実装する。
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*identity.Claims, error)
}

// NewBearerAuthMiddleware はAuthorization: Bearer <token> を検証するミドルウェアを返す。
// 検証に成功したトークンのUIDをリクエストコンテキストに注入する。
// ヘッダーの欠落・形式不正・検証失敗はすべて401とし、原因はログにのみ残す。
func NewBearerAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeUnauthorized(w, r, err)
				return
			}

			claims, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				writeUnauthorized(w, r, err)
				return
			}

			if h, ok := r.Context().Value(holderContextKey).(*userHolder); ok {
				h.set(claims.UID)
			}

			ctx := ContextWithUserID(r.Context(), claims.UID)
			ctx = context.WithValue(ctx, tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークンを取り出す。スキーム名は大文字小文字を区別しない。
func bearerToken(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errNoBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errNoBearer
	}
	return token, nil
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, cause error) {
	// サービスが到達不能な場合も含め、利用者には区別せず401を返す
	level := slog.LevelInfo
	if !errors.Is(cause, errNoBearer) && !errors.Is(cause, identity.ErrInvalidToken) {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "bearer authentication failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", cause.Error()),
	)
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

// userHolder は外側のミドルウェア（ロギング）へ認証済みユーザーIDを伝える。
type userHolder struct {
	mu     sync.Mutex
	userID string
}

func (h *userHolder) set(id string) {
	h.mu.Lock()
	h.userID = id
	h.mu.Unlock()
}

func (h *userHolder) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userID
}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, holderContextKey, h)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// ベアラー認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", errors.New("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// TokenFromContext は検証済みのベアラートークンを返す。ログアウト時の失効に使う。
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey).(string)
	return token, ok && token != ""
}
