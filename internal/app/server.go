package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/storefront/internal/analytics"
	"github.com/hitoshi/storefront/internal/auth"
	"github.com/hitoshi/storefront/internal/catalog"
	"github.com/hitoshi/storefront/internal/config"
	"github.com/hitoshi/storefront/internal/handler"
	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/security"
	"github.com/hitoshi/storefront/internal/user"
	"github.com/hitoshi/storefront/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// server はHTTPハンドラーと、その寿命に紐づくバックグラウンド処理をまとめる。
type server struct {
	handler   http.Handler
	collector *analytics.Collector
	limiter   *middleware.RateLimiter
	cleanup   *cleanup.CleanupJob
}

// newServer は全依存関係をワイヤリングしてserverを構築する。
// アクセスログの書き込みワーカーはここで起動する。
func newServer(cfg *config.Config, st *stores, logger *slog.Logger) (*server, error) {
	ipResolver, err := middleware.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector := metrics.NewCollector(registry)

	// 2. 認証
	asserter := auth.NewHTTPAsserter(auth.HTTPAsserterConfig{
		SessionDataURL: cfg.AuthSessionDataURL,
		Timeout:        cfg.AuthUpstreamTimeout,
	})
	authService := auth.NewService(asserter, st.users, st.sessions, auth.ServiceConfig{
		SessionTTL:   cfg.SessionTTL,
		LoginURL:     cfg.AuthLoginURL,
		IsAdminEmail: cfg.IsAdminEmail,
	})

	// 3. 商品
	imageFetcher := security.NewImageFetcher(security.NewSSRFGuard(), cfg.ImageFetchTimeout, cfg.ImageMaxSize)
	catalogService := catalog.NewService(st.products, security.NewDescriptionSanitizer(), imageFetcher)

	// 4. アクセス解析
	collector := analytics.NewCollector(st.visitors, metricsCollector, analytics.CollectorConfig{
		QueueSize:    cfg.AnalyticsQueueSize,
		Workers:      cfg.AnalyticsWorkers,
		WriteTimeout: cfg.AnalyticsWriteTimeout,
	})
	collector.Start()

	// 5. ルーター
	limiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:      st.health,
		SessionValidator:   authService,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ClientIPResolver:   ipResolver,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			TokenTTL:     cfg.SessionTTL,
		},
		RateLimiter:     limiter,
		VisitorRecorder: collector,
		Logger:          logger,
		Metrics:         metricsCollector,
		MetricsHandler:  metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		ProductService: catalogService,

		AnalyticsService: analytics.NewAggregator(st.visitors),
		UserService:      user.NewService(st.users),
	})

	return &server{
		handler:   router,
		collector: collector,
		limiter:   limiter,
		cleanup:   cleanup.NewCleanupJob(st.sessions, logger),
	}, nil
}

// shutdown はレートリミッタを停止し、キューに残ったアクセスログをctxの期限まで書き込む。
func (s *server) shutdown(ctx context.Context) {
	s.limiter.Stop()
	if err := s.collector.Stop(ctx); err != nil {
		slog.Warn("analytics queue was not fully drained",
			slog.String("error", err.Error()),
			slog.Int("pending", s.collector.Pending()),
		)
	}
}
