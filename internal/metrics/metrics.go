// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、アクセス解析ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(route string, duration time.Duration)
	RecordSessionExchange(outcome string)
	RecordAnalyticsEnqueued()
	RecordAnalyticsDropped()
	RecordAnalyticsWritten()
	RecordAnalyticsFailed()
	SetAnalyticsQueueDepth(depth int)
}

// セッション交換の結果ラベル。
const (
	ExchangeSuccess     = "success"
	ExchangeRejected    = "rejected"
	ExchangeUnavailable = "unavailable"
	ExchangeError       = "error"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus        *prometheus.CounterVec
	requestLatency    *prometheus.HistogramVec
	sessionExchange   *prometheus.CounterVec
	analyticsEnqueued prometheus.Counter
	analyticsDropped  prometheus.Counter
	analyticsWritten  prometheus.Counter
	analyticsFailed   prometheus.Counter
	analyticsQueue    prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "ルート別のリクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		sessionExchange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_session_exchange_total",
			Help: "結果別のセッション交換数",
		}, []string{"outcome"}),
		analyticsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_analytics_enqueued_total",
			Help: "キューに投入されたアクセスログの合計数",
		}),
		analyticsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_analytics_dropped_total",
			Help: "キュー満杯により破棄されたアクセスログの合計数",
		}),
		analyticsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_analytics_written_total",
			Help: "書き込みに成功したアクセスログの合計数",
		}),
		analyticsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_analytics_failed_total",
			Help: "書き込みに失敗したアクセスログの合計数",
		}),
		analyticsQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_analytics_queue_depth",
			Help: "書き込み待ちのアクセスログ数",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestLatency,
		c.sessionExchange,
		c.analyticsEnqueued,
		c.analyticsDropped,
		c.analyticsWritten,
		c.analyticsFailed,
		c.analyticsQueue,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はルートパターン単位でリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(route string, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.requestLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordSessionExchange はセッション交換の結果を記録する。
func (c *Collector) RecordSessionExchange(outcome string) {
	c.sessionExchange.WithLabelValues(outcome).Inc()
}

// RecordAnalyticsEnqueued はアクセスログのキュー投入を記録する。
func (c *Collector) RecordAnalyticsEnqueued() {
	c.analyticsEnqueued.Inc()
}

// RecordAnalyticsDropped はアクセスログの破棄を記録する。
func (c *Collector) RecordAnalyticsDropped() {
	c.analyticsDropped.Inc()
}

// RecordAnalyticsWritten はアクセスログの書き込み成功を記録する。
func (c *Collector) RecordAnalyticsWritten() {
	c.analyticsWritten.Inc()
}

// RecordAnalyticsFailed はアクセスログの書き込み失敗を記録する。
func (c *Collector) RecordAnalyticsFailed() {
	c.analyticsFailed.Inc()
}

// SetAnalyticsQueueDepth は書き込み待ちのアクセスログ数を記録する。
func (c *Collector) SetAnalyticsQueueDepth(depth int) {
	c.analyticsQueue.Set(float64(depth))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(string, time.Duration) {}
func (Nop) RecordSessionExchange(string) {}
func (Nop) RecordAnalyticsEnqueued() {}
func (Nop) RecordAnalyticsDropped() {}
func (Nop) RecordAnalyticsWritten() {}
func (Nop) RecordAnalyticsFailed() {}
func (Nop) SetAnalyticsQueueDepth(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
