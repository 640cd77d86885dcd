// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/storefront/internal/auth"
	"github.com/hitoshi/storefront/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
	userContextKey = contextKey("user")
	// cookieAuthContextKey はCookieで認証されたかどうかを格納するためのキー。
	cookieAuthContextKey = contextKey("cookie_auth")
	// identityErrorContextKey はセッション検証中に発生したストア障害を格納するためのキー。
	identityErrorContextKey = contextKey("identity_error")
)

// SessionValidator はセッションの検証に必要なインターフェース。
// auth.Service が満たす。
type SessionValidator interface {
	Validate(ctx context.Context, sessionID string) (*model.User, error)
}

// SessionIDFromRequest はCookie、次いで Authorization: Bearer ヘッダーからセッションIDを取得する。
// Cookieから取得した場合は fromCookie が true になる。
func SessionIDFromRequest(r *http.Request) (sessionID string, fromCookie bool) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	header := r.Header.Get("Authorization")
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):]), false
	}
	return "", false
}

// NewSessionMiddleware はリクエストのセッションを検証し、
// 有効な場合は認証済みユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// セッションがない、または無効な場合は匿名のまま後続に渡す。
// 認可は RequireAuth / RequireRole で行う。
func NewSessionMiddleware(validator SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, fromCookie := SessionIDFromRequest(r)
			if sessionID == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			user, err := validator.Validate(ctx, sessionID)
			switch {
			case err == nil:
				ctx = ContextWithUser(ctx, user)
				ctx = context.WithValue(ctx, cookieAuthContextKey, fromCookie)
			case model.HasCode(err, model.ErrCodeUnauthenticated):
				// 匿名として扱う
			default:
				slog.Error("failed to validate session",
					slog.String("error", err.Error()),
				)
				ctx = context.WithValue(ctx, identityErrorContextKey, err)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth は認証済みユーザーのみを通すミドルウェアを返す。
// セッション検証がストア障害で失敗していた場合は401ではなく503を返す。
func RequireAuth() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserFromContext(r.Context()) == nil {
				if err, ok := r.Context().Value(identityErrorContextKey).(error); ok {
					WriteServiceError(w, err)
					return
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole は指定ロールを満たすユーザーのみを通すミドルウェアを返す。
// 未認証は401、権限不足は403を返す。
func RequireRole(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if err := auth.Authorize(user, role); err != nil {
				slog.Warn("authorization denied",
					slog.String("user_id", user.ID),
					slog.String("required_role", string(role)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteServiceError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// 匿名リクエストの場合はnilを返す。
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user := UserFromContext(ctx)
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// authenticatedByCookie はCookieのセッションで認証されたリクエストかを判定する。
func authenticatedByCookie(ctx context.Context) bool {
	fromCookie, _ := ctx.Value(cookieAuthContextKey).(bool)
	return fromCookie
}
