package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/storefront/internal/metrics"
)

// responseRecorder は書き込まれたステータスコードとボディのバイト数を記録する。
// ログとアクセス解析の両ミドルウェアで共有するため、二重にはラップしない。
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func wrapResponse(w http.ResponseWriter) *responseRecorder {
	if rr, ok := w.(*responseRecorder); ok {
		return rr
	}
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.status = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.wroteHeader = true
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

// Unwrap は http.ResponseController 用。
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// NewLoggingMiddleware はリクエストごとに "http_request" を1行出力する。
// 4xxはWARN、5xxはERRORで記録し、ステータスとルート別レイテンシをmに送る。
func NewLoggingMiddleware(logger *slog.Logger, m metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if m == nil {
		m = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rr := wrapResponse(w)

			next.ServeHTTP(rr, r)

			elapsed := time.Since(start)
			route := routePattern(r)
			m.RecordHTTPStatus(rr.status)
			m.RecordRequestLatency(route, elapsed)

			attrs := make([]slog.Attr, 0, 7)
			attrs = append(attrs,
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", route),
				slog.Int("status", rr.status),
				slog.Int("bytes", rr.bytes),
				slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
			)
			if u := UserFromContext(r.Context()); u != nil {
				attrs = append(attrs, slog.String("user_id", u.ID))
			}

			logger.LogAttrs(r.Context(), levelForStatus(rr.status), "http_request", attrs...)
		})
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// routePattern はマッチしたchiのルートパターン。ルーター外では空文字。
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
