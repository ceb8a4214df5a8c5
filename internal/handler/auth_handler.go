// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string) (*auth.Result, error)
	Login(ctx context.Context, email, password string) (*auth.Result, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, uid string) (*model.User, error)
}

// AuthHandler はメールアドレス・パスワード認証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse は登録・ログイン成功時のレスポンス。
// idTokenは以降のリクエストでAuthorization: Bearerに付与する。
type authResponse struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	IDToken   string    `json:"idToken"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type userResponse struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Register はアカウントを作成する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	res, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

// Login は資格情報を照合してトークンを返す。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

// Logout はリクエストのトークンを失効させる。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerUID(w, r)
	if !ok {
		return
	}

	user, err := h.service.CurrentUser(r.Context(), uid)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{UID: user.ID, Email: user.Email})
}

func toAuthResponse(res *auth.Result) authResponse {
	return authResponse{
		UID:       res.UID,
		Email:     res.Email,
		IDToken:   res.IDToken,
		ExpiresAt: res.ExpiresAt.UTC(),
	}
}
