package middleware

import (
	"net/http"

	"github.com/hitoshi/storefront/internal/model"
)

// VisitorRecorder はアクセスログの記録先。Record はブロックしてはならない。
type VisitorRecorder interface {
	Record(rec model.VisitorRecord)
}

// NewVisitorMiddleware はリクエストごとにアクセスログを1件記録するミドルウェアを返す。
// ハンドラーの成否に関係なく、panicした場合も500として記録してから再送出する。
// SessionMiddlewareの後に配置すると認証済みユーザーのIDが記録される。
func NewVisitorMiddleware(recorder VisitorRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rr := wrapResponse(w)

			defer func() {
				status := rr.status
				rec := recover()
				if rec != nil {
					status = http.StatusInternalServerError
				}

				userID, _ := UserIDFromContext(r.Context())
				recorder.Record(model.VisitorRecord{
					UserID:    userID,
					IPAddress: ClientIP(r),
					UserAgent: r.UserAgent(),
					Path:      r.URL.Path,
					Method:    r.Method,
					Status:    status,
				})

				if rec != nil {
					panic(rec)
				}
			}()

			next.ServeHTTP(rr, r)
		})
	}
}
