package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker      HealthChecker
	SessionValidator   middleware.SessionValidator
	CORSAllowedOrigins []string
	CSRFConfig         middleware.CSRFConfig
	ClientIPResolver   *middleware.ClientIPResolver // nilの場合は接続元アドレスのみを使う
	RateLimiter        *middleware.RateLimiter      // nilの場合はレート制限しない
	VisitorRecorder    middleware.VisitorRecorder   // nilの場合はアクセスログを記録しない
	Logger             *slog.Logger
	Metrics            metrics.MetricsCollector
	MetricsHandler     http.Handler // nilの場合は /metrics を公開しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 商品
	ProductService ProductServiceInterface

	// 管理者
	AnalyticsService AnalyticsServiceInterface
	UserService      UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → ClientIP → SecurityHeaders → CORS → Session → Logging → Visitor → RateLimit(General)
//
// 商品の変更と管理者APIには RequireRole(admin) → CSRF を追加で適用する。
// 全てのルートは /api 配下にも同じ構成で公開する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(deps.ClientIPResolver.Middleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CSRFConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(chimw.StripSlashes)
	r.Use(middleware.NewSessionMiddleware(deps.SessionValidator))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	if deps.VisitorRecorder != nil {
		r.Use(middleware.NewVisitorMiddleware(deps.VisitorRecorder))
	}
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.GeneralMiddleware())
	}

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	routes := apiRoutes(deps)
	routes(r)
	r.Route("/api", routes)

	return r
}

// apiRoutes はルート直下と /api 配下で共有するルーティングを返す。
func apiRoutes(deps *RouterDeps) func(r chi.Router) {
	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, deps.Metrics)
	productHandler := NewProductHandler(deps.ProductService)
	analyticsHandler := NewAnalyticsHandler(deps.AnalyticsService)
	userHandler := NewUserHandler(deps.UserService)
	healthHandler := NewHealthHandler(deps.HealthChecker)
	csrfTokenHandler := middleware.NewCSRFTokenHandler(deps.CSRFConfig)

	return func(r chi.Router) {
		r.Get("/health", healthHandler)

		// --- 認証 ---
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", authHandler.Login)
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.AuthExchangeMiddleware()).Post("/session", authHandler.Session)
			} else {
				r.Post("/session", authHandler.Session)
			}
			r.With(middleware.RequireAuth()).Get("/me", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
			r.Method(http.MethodGet, "/csrf-token", csrfTokenHandler)
		})

		// --- 公開カタログ ---
		r.Get("/products", productHandler.ListProducts)
		r.Get("/products/{id}", productHandler.GetProduct)
		r.Get("/categories", productHandler.ListCategories)

		// --- 管理者のみ ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.Post("/products", productHandler.CreateProduct)
			r.Put("/products/{id}", productHandler.UpdateProduct)
			r.Delete("/products/{id}", productHandler.DeleteProduct)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/analytics", analyticsHandler.GetAnalytics)
				r.Get("/users", userHandler.ListUsers)
				r.Put("/users/{id}/role", userHandler.SetRole)
			})
		})
	}
}
