package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/storefront/internal/analytics"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
)

// AnalyticsServiceInterface はアクセス解析ハンドラーが必要とするサービスインターフェース。
type AnalyticsServiceInterface interface {
	Summarize(ctx context.Context, from, to time.Time) (*model.AnalyticsReport, error)
}

// AnalyticsHandler は管理者向けアクセス解析のHTTPハンドラー。
type AnalyticsHandler struct {
	service AnalyticsServiceInterface
	now     func() time.Time
}

// NewAnalyticsHandler はAnalyticsHandlerを生成する。
func NewAnalyticsHandler(service AnalyticsServiceInterface) *AnalyticsHandler {
	return &AnalyticsHandler{service: service, now: time.Now}
}

type identityBreakdownResponse struct {
	Known            int `json:"known"`
	Anonymous        int `json:"anonymous"`
	UniqueIdentities int `json:"unique_identities"`
}

type analyticsResponse struct {
	From        time.Time                 `json:"from"`
	To          time.Time                 `json:"to"`
	TotalVisits int                       `json:"total_visits"`
	UniqueIPs   int                       `json:"unique_ips"`
	ByPage      map[string]int            `json:"by_page"`
	ByIdentity  identityBreakdownResponse `json:"by_identity"`
	ByDay       map[string]int            `json:"by_day"`
}

// GetAnalytics は期間内のアクセスログの集計を返す。
// 期間の省略時は直近30日。日付のみの to はその日の終わりまでを含む。
// GET /admin/analytics?from=&to=
func (h *AnalyticsHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	to := h.now().UTC()
	if raw := q.Get("to"); raw != "" {
		t, dateOnly, err := parseTimeParam(raw)
		if err != nil {
			middleware.WriteServiceError(w, model.NewInvalidArgumentError("to must be RFC3339 or YYYY-MM-DD"))
			return
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		to = t
	}

	from := to.Add(-analytics.DefaultRange)
	if raw := q.Get("from"); raw != "" {
		t, _, err := parseTimeParam(raw)
		if err != nil {
			middleware.WriteServiceError(w, model.NewInvalidArgumentError("from must be RFC3339 or YYYY-MM-DD"))
			return
		}
		from = t
	}

	report, err := h.service.Summarize(r.Context(), from, to)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analyticsResponse{
		From:        report.From,
		To:          report.To,
		TotalVisits: report.TotalVisits,
		UniqueIPs:   report.UniqueIPs,
		ByPage:      report.ByPage,
		ByIdentity: identityBreakdownResponse{
			Known:            report.ByIdentity.Known,
			Anonymous:        report.ByIdentity.Anonymous,
			UniqueIdentities: report.ByIdentity.UniqueIdentities,
		},
		ByDay: report.ByDay,
	})
}

// parseTimeParam はRFC3339またはYYYY-MM-DD（UTC）を解析する。
func parseTimeParam(raw string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	if t, err = time.Parse(time.DateOnly, raw); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, err
}
