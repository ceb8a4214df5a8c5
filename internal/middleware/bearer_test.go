package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/taskman/internal/identity"
)

type mockVerifier struct {
	verifyFn func(ctx context.Context, token string) (*identity.Claims, error)
	calls    int
}

func (m *mockVerifier) VerifyToken(ctx context.Context, token string) (*identity.Claims, error) {
	m.calls++
	return m.verifyFn(ctx, token)
}

func acceptToken(valid, uid string) *mockVerifier {
	return &mockVerifier{
		verifyFn: func(ctx context.Context, token string) (*identity.Claims, error) {
			if token == valid {
				return &identity.Claims{UID: uid, SessionID: "sess-1"}, nil
			}
			return nil, fmt.Errorf("%w: signature is invalid", identity.ErrInvalidToken)
		},
	}
}

func TestBearerAuth_ValidToken_InjectsUserID(t *testing.T) {
	mw := NewBearerAuthMiddleware(acceptToken("good-token", "user-123"))

	var gotUID, gotToken string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("UserIDFromContext() error = %v", err)
		}
		gotUID = uid
		gotToken, _ = TokenFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUID != "user-123" {
		t.Errorf("uid = %q, want %q", gotUID, "user-123")
	}
	if gotToken != "good-token" {
		t.Errorf("token = %q, want %q", gotToken, "good-token")
	}
}

func TestBearerAuth_SchemeIsCaseInsensitive(t *testing.T) {
	for _, header := range []string{"bearer good-token", "BEARER good-token", "Bearer   good-token  "} {
		t.Run(header, func(t *testing.T) {
			mw := NewBearerAuthMiddleware(acceptToken("good-token", "u1"))
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", header)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
		})
	}
}

func TestBearerAuth_Rejections(t *testing.T) {
	tests := []struct {
		name           string
		header         string
		wantVerifyCall bool
	}{
		{"ヘッダーなし", "", false},
		{"Basic認証", "Basic dXNlcjpwYXNz", false},
		{"トークンなし", "Bearer", false},
		{"空白のみのトークン", "Bearer    ", false},
		{"検証失敗", "Bearer forged-token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := acceptToken("good-token", "u1")
			mw := NewBearerAuthMiddleware(verifier)
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Error != "Unauthorized" {
				t.Errorf("error = %q, want %q", body.Error, "Unauthorized")
			}
			if body.Code != "UNAUTHORIZED" {
				t.Errorf("code = %q, want %q", body.Code, "UNAUTHORIZED")
			}

			if (verifier.calls > 0) != tt.wantVerifyCall {
				t.Errorf("verifier calls = %d, wantCall = %v", verifier.calls, tt.wantVerifyCall)
			}
		})
	}
}

// 検証サービス自体の障害も401とし、内部エラーの内容は返さない
func TestBearerAuth_VerifierFailure_DoesNotLeakCause(t *testing.T) {
	verifier := &mockVerifier{
		verifyFn: func(ctx context.Context, token string) (*identity.Claims, error) {
			return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
		},
	}
	handler := NewBearerAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := w.Body.String(); containsAny(got, "10.0.0.5", "connection refused") {
		t.Errorf("response leaks internal error: %s", got)
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without user ID")
	}
	if _, err := UserIDFromContext(ContextWithUserID(context.Background(), "")); err == nil {
		t.Error("expected error for empty user ID")
	}
	uid, err := UserIDFromContext(ContextWithUserID(context.Background(), "u1"))
	if err != nil || uid != "u1" {
		t.Errorf("UserIDFromContext() = %q, %v", uid, err)
	}
}

func TestTokenFromContext_Missing(t *testing.T) {
	if _, ok := TokenFromContext(context.Background()); ok {
		t.Error("TokenFromContext() ok = true for empty context")
	}
}
