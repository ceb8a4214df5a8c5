// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証イベントの結果ラベル
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure" // 利用者の入力に起因する失敗（4xx相当）
	OutcomeError   = "error"   // 内部エラー
)

// MetricsCollector はメトリクス収集のインターフェース。
// HTTPミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordAuthAttempt(action, outcome string)
	RecordDocumentWrite(kind, op string)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	authAttempts   *prometheus.CounterVec
	documentWrites *prometheus.CounterVec
	sessionsPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_http_requests_total",
			Help: "ルート・メソッド・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskman_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_auth_attempts_total",
			Help: "認証操作（login/register/logout）の結果別件数",
		}, []string{"action", "outcome"}),
		documentWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_document_writes_total",
			Help: "プロジェクト・タスクの書き込み件数",
		}, []string{"kind", "op"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskman_sessions_purged_total",
			Help: "クリーンアップジョブが削除した期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.authAttempts,
		c.documentWrites,
		c.sessionsPurged,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
// routeにはchiのルートパターン（/api/tasks 等）を渡し、ラベルの爆発を防ぐ。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAuthAttempt は認証操作の結果を記録する。
func (c *Collector) RecordAuthAttempt(action, outcome string) {
	c.authAttempts.WithLabelValues(action, outcome).Inc()
}

// RecordDocumentWrite はプロジェクト・タスクの書き込みを記録する。
func (c *Collector) RecordDocumentWrite(kind, op string) {
	c.documentWrites.WithLabelValues(kind, op).Inc()
}

// RecordSessionsPurged は削除したセッション数を加算する。
func (c *Collector) RecordSessionsPurged(count int64) {
	if count > 0 {
		c.sessionsPurged.Add(float64(count))
	}
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
func (Nop) RecordAuthAttempt(string, string)                     {}
func (Nop) RecordDocumentWrite(string, string)                   {}
func (Nop) RecordSessionsPurged(int64)                           {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
