package middleware

import (
	"net/http"
	"time"

	"github.com/hitoshi/taskman/internal/metrics"
)

// unmatchedRoute はどのルートにも一致しなかったリクエストのラベル。
// 生のパスをラベルにするとカーディナリティが際限なく増えるため、まとめて扱う。
const unmatchedRoute = "unmatched"

// NewMetricsMiddleware はHTTPリクエストの件数と処理時間を記録するミドルウェアを返す。
// ラベルにはchiのルートパターンを使う。
func NewMetricsMiddleware(mc metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := routePattern(r)
			if route == "" {
				route = unmatchedRoute
			}
			mc.RecordHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
		})
	}
}
