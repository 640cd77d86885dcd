package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/storefront/internal/model"
)

// --- モック定義 ---

type mockSessionValidator struct {
	validateFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockSessionValidator) Validate(ctx context.Context, sessionID string) (*model.User, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, sessionID)
	}
	return nil, model.NewUnauthenticatedError()
}

var (
	testAdmin    = &model.User{ID: "admin-1", Email: "admin@example.com", Role: model.RoleAdmin}
	testCustomer = &model.User{ID: "user-1", Email: "user@example.com", Role: model.RoleUser}
)

// validatorFor は既知のセッションIDに対してユーザーを返すバリデータを生成する。
func validatorFor(sessions map[string]*model.User) *mockSessionValidator {
	return &mockSessionValidator{
		validateFn: func(_ context.Context, sessionID string) (*model.User, error) {
			if u, ok := sessions[sessionID]; ok {
				return u, nil
			}
			return nil, model.NewUnauthenticatedError()
		},
	}
}

// --- SessionIDFromRequest ---

func TestSessionIDFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		authHeader string
		wantID     string
		wantCookie bool
	}{
		{"Cookie", "sid-cookie", "", "sid-cookie", true},
		{"Bearer", "", "Bearer sid-bearer", "sid-bearer", false},
		{"小文字のbearer", "", "bearer sid-lower", "sid-lower", false},
		{"Cookie優先", "sid-cookie", "Bearer sid-bearer", "sid-cookie", true},
		{"Basicは無視", "", "Basic dXNlcjpwYXNz", "", false},
		{"空のBearer", "", "Bearer ", "", false},
		{"なし", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.cookie})
			}
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			id, fromCookie := SessionIDFromRequest(req)
			if id != tt.wantID || fromCookie != tt.wantCookie {
				t.Errorf("got (%q, %v), want (%q, %v)", id, fromCookie, tt.wantID, tt.wantCookie)
			}
		})
	}
}

// --- NewSessionMiddleware ---

func TestSessionMiddleware_ValidSession_InjectsUser(t *testing.T) {
	mw := NewSessionMiddleware(validatorFor(map[string]*model.User{"valid": testCustomer}))

	var captured *model.User
	var byCookie bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = UserFromContext(r.Context())
		byCookie = authenticatedByCookie(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if captured == nil || captured.ID != "user-1" {
		t.Fatalf("expected user-1 in context, got %+v", captured)
	}
	if !byCookie {
		t.Error("expected cookie authentication flag")
	}
}

func TestSessionMiddleware_BearerSession_NotMarkedAsCookie(t *testing.T) {
	mw := NewSessionMiddleware(validatorFor(map[string]*model.User{"valid": testCustomer}))

	var byCookie = true
	var userID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ = UserIDFromContext(r.Context())
		byCookie = authenticatedByCookie(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set("Authorization", "Bearer valid")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if userID != "user-1" {
		t.Errorf("userID = %q, want user-1", userID)
	}
	if byCookie {
		t.Error("bearer authentication must not be flagged as cookie authentication")
	}
}

func TestSessionMiddleware_InvalidSession_ContinuesAnonymous(t *testing.T) {
	mw := NewSessionMiddleware(validatorFor(nil))

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if UserFromContext(r.Context()) != nil {
			t.Error("expected anonymous request")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "forged"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Fatal("next handler should be called for public routes")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestSessionMiddleware_NoCredential_SkipsValidation(t *testing.T) {
	validateCalled := false
	mw := NewSessionMiddleware(&mockSessionValidator{
		validateFn: func(context.Context, string) (*model.User, error) {
			validateCalled = true
			return nil, nil
		},
	})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if validateCalled {
		t.Error("Validate should not be called without a credential")
	}
}

// --- RequireAuth / RequireRole ---

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		validator  *mockSessionValidator
		wantStatus int
		wantCode   string
	}{
		{"未認証", "", validatorFor(nil), http.StatusUnauthorized, model.ErrCodeUnauthenticated},
		{"無効なセッション", "forged", validatorFor(nil), http.StatusUnauthorized, model.ErrCodeUnauthenticated},
		{"認証済み", "valid", validatorFor(map[string]*model.User{"valid": testCustomer}), http.StatusOK, ""},
		{"ストア障害", "valid", &mockSessionValidator{
			validateFn: func(context.Context, string) (*model.User, error) {
				return nil, model.NewStorageUnavailableError(errors.New("down"))
			},
		}, http.StatusServiceUnavailable, model.ErrCodeStorageUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSessionMiddleware(tt.validator)(RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})))

			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				assertErrorCode(t, w, tt.wantCode)
			}
		})
	}
}

func TestRequireRole_Admin(t *testing.T) {
	sessions := map[string]*model.User{"admin": testAdmin, "user": testCustomer}

	tests := []struct {
		name       string
		session    string
		wantStatus int
	}{
		{"未認証は401", "", http.StatusUnauthorized},
		{"一般ユーザーは403", "user", http.StatusForbidden},
		{"管理者は通過", "admin", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			handler := NewSessionMiddleware(validatorFor(sessions))(
				RequireRole(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					reached = true
					w.WriteHeader(http.StatusNoContent)
				})),
			)

			req := httptest.NewRequest(http.MethodPost, "/products", nil)
			if tt.session != "" {
				req.Header.Set("Authorization", "Bearer "+tt.session)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if reached != (tt.wantStatus == http.StatusNoContent) {
				t.Errorf("handler reached = %v", reached)
			}
		})
	}
}

func TestContextWithUser(t *testing.T) {
	ctx := ContextWithUser(context.Background(), testAdmin)

	if got := UserFromContext(ctx); got != testAdmin {
		t.Errorf("UserFromContext = %+v, want %+v", got, testAdmin)
	}
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
}
