// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 期限切れのセッションはトークン検証で既に無効だが、行は残り続けるため
// workerプロセスが一定間隔でまとめて削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskman/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SessionCleanupJob は期限切れセッションの削除ジョブ。
// 何度実行しても結果は変わらない。
type SessionCleanupJob struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time

	// Grace は期限切れからこの時間が経過したセッションだけを削除する（デフォルト: 0）。
	Grace time.Duration
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。mcがnilの場合はメトリクスを記録しない。
func NewSessionCleanupJob(db Executor, logger *slog.Logger, mc metrics.MetricsCollector) *SessionCleanupJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &SessionCleanupJob{
		db:      db,
		logger:  logger,
		metrics: mc,
		now:     time.Now,
	}
}

// Run はexpires_atがカットオフ時刻以前のセッションを削除し、削除件数を返す。
func (j *SessionCleanupJob) Run(ctx context.Context) (int64, error) {
	start := j.now()
	cutoff := start.Add(-j.Grace).UTC()

	result, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, cutoff)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
			slog.Time("cutoff", cutoff),
		)
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to get deleted session count",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.metrics.RecordSessionsPurged(deleted)
	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deleted, nil
}

// DefaultInterval はintervalに0以下が渡された場合の実行間隔。
const DefaultInterval = time.Hour

// Start はinterval間隔でRunを実行する。起動直後にも1回実行する。
// intervalが0以下の場合はDefaultIntervalを使う。
// コンテキストがキャンセルされるまで戻らない。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		j.logger.Warn("non-positive cleanup interval, using default",
			slog.Duration("interval", interval),
			slog.Duration("default", DefaultInterval),
		)
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("session cleanup scheduler started", slog.Duration("interval", interval))

	// 失敗は次回に持ち越す。ログはRun内で出力済み
	_, _ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup scheduler stopped")
			return
		case <-ticker.C:
			_, _ = j.Run(ctx)
		}
	}
}
