// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginURL(redirect string) string
	Exchange(ctx context.Context, externalSessionID string) (*model.Session, *model.User, error)
	Invalidate(ctx context.Context, sessionID string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string // login の redirect 省略時のリダイレクト先
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はセッション交換とログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig, m metrics.MetricsCollector) *AuthHandler {
	if m == nil {
		m = metrics.Nop{}
	}
	return &AuthHandler{
		service: service,
		config:  config,
		metrics: m,
		now:     time.Now,
	}
}

type loginResponse struct {
	AuthURL string `json:"auth_url"`
}

type exchangeRequest struct {
	SessionID string `json:"session_id"`
}

type exchangeResponse struct {
	User         userResponse `json:"user"`
	SessionToken string       `json:"session_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// Login は外部IdPのログインURLを返す。
// GET /auth/login?redirect=
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	redirect := r.URL.Query().Get("redirect")
	if redirect == "" {
		redirect = h.config.BaseURL
	}
	writeJSON(w, http.StatusOK, loginResponse{AuthURL: h.service.LoginURL(redirect)})
}

// Session は外部IdPのセッションIDを自サービスのセッションに交換する。
// POST /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	session, user, err := h.service.Exchange(r.Context(), req.SessionID)
	h.metrics.RecordSessionExchange(exchangeOutcome(err))
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	maxAge := int(session.ExpiresAt.Sub(h.now()).Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, exchangeResponse{
		User:         toUserResponse(user),
		SessionToken: session.ID,
		ExpiresAt:    session.ExpiresAt,
	})
}

// Me は現在のログインユーザー情報を返す。RequireAuthの後に配置する。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Logout はセッションを破棄する。セッションの有無にかかわらず200を返す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID, _ := middleware.SessionIDFromRequest(r); sessionID != "" {
		h.service.Invalidate(r.Context(), sessionID)
	}

	// ストアの削除に失敗してもCookieはクリアする
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// exchangeOutcome はセッション交換の結果をメトリクスのラベルに変換する。
func exchangeOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.ExchangeSuccess
	case model.HasCode(err, model.ErrCodeInvalidSession):
		return metrics.ExchangeRejected
	case model.HasCode(err, model.ErrCodeUpstreamUnavailable),
		model.HasCode(err, model.ErrCodeStorageUnavailable):
		return metrics.ExchangeUnavailable
	default:
		slog.Error("session exchange failed", slog.String("error", err.Error()))
		return metrics.ExchangeError
	}
}
