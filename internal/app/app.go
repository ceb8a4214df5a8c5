package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/config"
	"github.com/hitoshi/taskman/internal/database"
	"github.com/hitoshi/taskman/internal/handler"
	"github.com/hitoshi/taskman/internal/identity"
	"github.com/hitoshi/taskman/internal/logger"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/project"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/security"
	"github.com/hitoshi/taskman/internal/task"
	"github.com/hitoshi/taskman/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする。レベルはLOG_LEVELから決める
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("mode", cmd.Description()),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollector(reg)

	idp := identity.NewService(
		repository.NewPostgresCredentialRepo(db),
		repository.NewPostgresSessionRepo(db),
		identity.Config{
			Secret:     []byte(cfg.TokenSecret),
			TokenTTL:   cfg.TokenTTL,
			BcryptCost: cfg.BcryptCost,
		},
	)
	sanitizer := security.NewTextSanitizer()
	projectService := project.NewService(repository.NewPostgresProjectRepo(db), sanitizer, mc)
	taskService := task.NewService(repository.NewPostgresTaskRepo(db), projectService, sanitizer, mc)
	authService := auth.NewService(idp, repository.NewPostgresUserRepo(db), mc)

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	defer rl.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:     db,
		TokenVerifier:     idp,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		Logger:            slog.Default(),
		Metrics:           mc,
		MetricsHandler:    metrics.Handler(reg),
		AuthService:       authService,
		ProjectService:    projectService,
		TaskService:       taskService,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除をSESSION_CLEANUP_INTERVAL間隔で実行し、ctxのキャンセルで終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewSessionCleanupJob(db, slog.Default(), nil)
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.ApplyMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("applied", status.Applied),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(target string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
