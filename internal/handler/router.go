package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
)

// healthCheckTimeout は/healthでのDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter // nilの場合はレート制限しない
	Logger            *slog.Logger            // nilの場合はslog.Default()

	// メトリクス
	Metrics        metrics.MetricsCollector // nilの場合は記録しない
	MetricsHandler http.Handler             // nilの場合は/metricsを公開しない

	AuthService    AuthServiceInterface
	ProjectService ProjectServiceInterface
	TaskService    TaskServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Metrics → Recovery → SecurityHeaders → CORS
//
// クライアントIPは接続元のRemoteAddrを使い、X-Forwarded-For等のヘッダーは信用しない。
//
// /api/auth/login と /api/auth/register はクライアントIP単位のレート制限のみ、
// それ以外の /api 配下は BearerAuth → RateLimit(General) を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "NOT_FOUND",
			Message:  "Not Found",
			Category: "system",
			Action:   "URLを確認してください。",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeAPIErrorResponse(w, http.StatusMethodNotAllowed, &model.APIError{
			Code:     "METHOD_NOT_ALLOWED",
			Message:  "Method Not Allowed",
			Category: "system",
			Action:   "HTTPメソッドを確認してください。",
		})
	})

	authHandler := NewAuthHandler(deps.AuthService)
	projectHandler := NewProjectHandler(deps.ProjectService)
	taskHandler := NewTaskHandler(deps.TaskService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.AuthMiddleware())
		}
		r.Post("/api/auth/login", authHandler.Login)
		r.Post("/api/auth/register", authHandler.Register)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.TokenVerifier))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Post("/api/auth/logout", authHandler.Logout)
		r.Get("/api/auth/me", authHandler.Me)

		r.Get("/api/projects", projectHandler.ListProjects)
		r.Post("/api/projects", projectHandler.CreateProject)

		r.Get("/api/tasks", taskHandler.ListTasks)
		r.Post("/api/tasks", taskHandler.CreateTask)
		r.Put("/api/tasks", taskHandler.UpdateTask)
		r.Delete("/api/tasks", taskHandler.DeleteTask)
	})

	return r
}

// healthHandler はDB疎通を確認し、{status:"ok"} または503を返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
