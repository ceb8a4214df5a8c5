package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

func newTestRouter(deps *RouterDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if deps.TokenVerifier == nil {
		deps.TokenVerifier = staticVerifier{"tok-1": "U1"}
	}
	return NewRouter(deps)
}

func TestRouter_Health(t *testing.T) {
	t.Run("DB疎通OK", func(t *testing.T) {
		router := newTestRouter(&RouterDeps{HealthChecker: &mockHealthChecker{}})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if got := decodeBody[map[string]string](t, w); got["status"] != "ok" {
			t.Errorf("status = %q, want ok", got["status"])
		}
	})

	t.Run("DB疎通NG", func(t *testing.T) {
		router := newTestRouter(&RouterDeps{HealthChecker: &mockHealthChecker{err: errors.New("connection refused")}})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
		if got := decodeBody[map[string]string](t, w); got["status"] != "unavailable" {
			t.Errorf("status = %q, want unavailable", got["status"])
		}
	})
}

func TestRouter_ProtectedRoutesRequireBearerToken(t *testing.T) {
	router := newTestRouter(&RouterDeps{})

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/auth/logout"},
		{http.MethodGet, "/api/auth/me"},
		{http.MethodGet, "/api/projects"},
		{http.MethodPost, "/api/projects"},
		{http.MethodGet, "/api/tasks?projectId=p1"},
		{http.MethodPost, "/api/tasks?projectId=p1"},
		{http.MethodPut, "/api/tasks?projectId=p1&taskId=t1"},
		{http.MethodDelete, "/api/tasks?projectId=p1&taskId=t1"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			for name, header := range map[string]string{
				"ヘッダーなし":   "",
				"不正なトークン":  "Bearer nope",
				"Bearer以外": "Basic dXNlcjpwYXNz",
			} {
				req := httptest.NewRequest(rt.method, rt.path, strings.NewReader(`{}`))
				if header != "" {
					req.Header.Set("Authorization", header)
				}
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)

				if w.Code != http.StatusUnauthorized {
					t.Errorf("%s: status = %d, want %d", name, w.Code, http.StatusUnauthorized)
				}
			}
		})
	}
}

func TestRouter_AuthenticatedRequestReachesHandler(t *testing.T) {
	var gotUID string
	router := newTestRouter(&RouterDeps{
		ProjectService: &mockProjectService{
			listFn: func(ctx context.Context, callerUID string) ([]*model.Project, error) {
				gotUID = callerUID
				return []*model.Project{}, nil
			},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "bearer tok-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUID != "U1" {
		t.Errorf("callerUID = %q, want U1", gotUID)
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	router := newTestRouter(&RouterDeps{})

	t.Run("未定義のパス", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
		assertErrorResponse(t, w, http.StatusNotFound, "NOT_FOUND")
	})

	t.Run("未定義のメソッド", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/projects", nil))
		assertErrorResponse(t, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
	})
}

func TestRouter_SecurityAndCORSHeaders(t *testing.T) {
	router := newTestRouter(&RouterDeps{
		HealthChecker:     &mockHealthChecker{},
		CORSAllowedOrigin: "http://localhost:3000",
	})

	t.Run("通常リクエスト", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
		if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
		}
		if got := w.Header().Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", got)
		}
	})

	// プリフライトは認証なしで204
	t.Run("プリフライト", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
		if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
			t.Errorf("Access-Control-Allow-Headers = %q", got)
		}
	})
}

func TestRouter_AuthRateLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Every(time.Hour),
		GeneralBurst:    100,
		AuthRate:        rate.Every(time.Hour),
		AuthBurst:       2,
		CleanupInterval: time.Hour,
	})
	defer rl.Stop()

	calls := 0
	router := newTestRouter(&RouterDeps{
		RateLimiter: rl,
		AuthService: &mockAuthService{
			loginFn: func(ctx context.Context, email, password string) (*auth.Result, error) {
				calls++
				return nil, model.NewInvalidCredentialsError()
			},
		},
	})

	login := func(remoteAddr string) *httptest.ResponseRecorder {
		req := newJSONRequest(http.MethodPost, "/api/auth/login", map[string]string{
			"email": "a@example.com", "password": "wrong-password",
		})
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := login("192.0.2.1:1234"); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, w.Code, http.StatusUnauthorized)
		}
	}

	w := login("192.0.2.1:5678")
	assertErrorResponse(t, w, http.StatusTooManyRequests, model.ErrCodeRateLimited)
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
	if calls != 2 {
		t.Errorf("service calls = %d, want 2", calls)
	}

	// 別のクライアントIPは影響を受けない
	if w := login("198.51.100.7:1234"); w.Code != http.StatusUnauthorized {
		t.Errorf("other ip: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// 転送ヘッダーを毎回変えても、同じ接続元からのログイン試行は制限される
func TestRouter_AuthRateLimitIgnoresForwardedHeaders(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Every(time.Hour),
		GeneralBurst:    100,
		AuthRate:        rate.Every(time.Hour),
		AuthBurst:       3,
		CleanupInterval: time.Hour,
	})
	defer rl.Stop()

	router := newTestRouter(&RouterDeps{
		RateLimiter: rl,
		AuthService: &mockAuthService{
			loginFn: func(ctx context.Context, email, password string) (*auth.Result, error) {
				return nil, model.NewInvalidCredentialsError()
			},
		},
	})

	var codes []int
	for i := 0; i < 10; i++ {
		req := newJSONRequest(http.MethodPost, "/api/auth/login", map[string]string{
			"email": "a@example.com", "password": "wrong-password",
		})
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i+1))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	for i, code := range codes {
		want := http.StatusUnauthorized
		if i >= 3 {
			want = http.StatusTooManyRequests
		}
		if code != want {
			t.Errorf("attempt %d: status = %d, want %d (codes = %v)", i+1, code, want, codes)
		}
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	router := newTestRouter(&RouterDeps{
		HealthChecker:  &mockHealthChecker{},
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `taskman_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("metrics output does not contain /health request counter:\n%s", body)
	}
}

func TestRouter_MetricsEndpointDisabled(t *testing.T) {
	router := newTestRouter(&RouterDeps{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
