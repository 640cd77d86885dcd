package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/storefront/internal/model"
	"golang.org/x/time/rate"
)

func testRateLimiterConfig(generalBurst, authBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:       1,
		GeneralBurst:      generalBurst,
		AuthExchangeRate:  1,
		AuthExchangeBurst: authBurst,
		CleanupInterval:   1 * time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// requestAs は指定ユーザー（nilなら匿名）とIPのリクエストを生成する。
func requestAs(user *model.User, remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.RemoteAddr = remoteAddr
	if user != nil {
		req = req.WithContext(ContextWithUser(req.Context(), user))
	}
	return req
}

// --- GeneralMiddleware のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 10))
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(testCustomer, "10.0.0.1:1234"))

		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterAndErrorBody(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(2, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(testCustomer, "10.0.0.1:1234"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	// 3回目はレート制限に引っかかる
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(testCustomer, "10.0.0.1:1234"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	retrySeconds, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After header should be a number, got %q", w.Header().Get("Retry-After"))
	}
	if retrySeconds < 1 {
		t.Errorf("Retry-After = %d, should be at least 1", retrySeconds)
	}
	assertErrorCode(t, w, model.ErrCodeRateLimited)
}

func TestRateLimitMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// 同じIPでもユーザーが異なれば独立して制限される
	for _, user := range []*model.User{testCustomer, testAdmin} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(user, "10.0.0.1:1234"))
		if w.Code != http.StatusOK {
			t.Errorf("user %s: status = %d, want %d", user.ID, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(testCustomer, "10.0.0.1:1234"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestRateLimitMiddleware_AnonymousKeyedByClientIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	tests := []struct {
		name       string
		remoteAddr string
		wantStatus int
	}{
		{"IP A 1回目", "10.0.0.1:1111", http.StatusOK},
		{"IP A 別ポート", "10.0.0.1:2222", http.StatusTooManyRequests},
		{"IP B 1回目", "10.0.0.2:1111", http.StatusOK},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(nil, tt.remoteAddr))
		if w.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.name, w.Code, tt.wantStatus)
		}
	}
}

// --- AuthExchangeMiddleware のテスト ---

func TestAuthExchangeRateLimit_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 2))
	defer rl.Stop()

	handler := rl.AuthExchangeMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(nil, "10.0.0.9:1234"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(nil, "10.0.0.9:1234"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestAuthExchangeRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 1))
	defer rl.Stop()

	authHandler := rl.AuthExchangeMiddleware()(okHandler())
	generalHandler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	authHandler.ServeHTTP(w, requestAs(nil, "10.0.0.9:1234"))
	w = httptest.NewRecorder()
	authHandler.ServeHTTP(w, requestAs(nil, "10.0.0.9:1234"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("auth status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// セッション交換の上限に達しても一般APIには影響しない
	w = httptest.NewRecorder()
	generalHandler.ServeHTTP(w, requestAs(nil, "10.0.0.9:1234"))
	if w.Code != http.StatusOK {
		t.Errorf("general status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.AuthLimiterCount() != 1 {
		t.Errorf("AuthLimiterCount = %d, want 1", rl.AuthLimiterCount())
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testRateLimiterConfig(5, 5)
	cfg.CleanupInterval = 50 * time.Millisecond

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs(testCustomer, "10.0.0.1:1234"))
	rl.AuthExchangeMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs(nil, "10.0.0.1:1234"))

	if rl.GeneralLimiterCount() == 0 || rl.AuthLimiterCount() == 0 {
		t.Fatal("expected limiter entries to exist")
	}

	// TTLはCleanupIntervalの2倍（100ms）
	time.Sleep(300 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 general entries after cleanup, got %d", count)
	}
	if count := rl.AuthLimiterCount(); count != 0 {
		t.Errorf("expected 0 auth entries after cleanup, got %d", count)
	}
}

// --- ミドルウェアチェーンとの統合テスト ---

func TestRateLimitMiddleware_InChainWithSession(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(2, 10))
	defer rl.Stop()

	sessionMW := NewSessionMiddleware(validatorFor(map[string]*model.User{"rate-limit-session": testCustomer}))

	// Session -> RateLimit -> Handler
	handler := sessionMW(rl.GeneralMiddleware()(okHandler()))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/products", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "rate-limit-session"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		want := http.StatusOK
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		if w.Code != want {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, want)
		}
	}
}

// --- 設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.AuthExchangeBurst != 10 {
		t.Errorf("AuthExchangeBurst = %d, want 10", cfg.AuthExchangeBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

func TestPerMinuteRateLimiterConfig(t *testing.T) {
	cfg := PerMinuteRateLimiterConfig(60, 30)

	if cfg.GeneralRate != 1.0 {
		t.Errorf("GeneralRate = %f, want 1.0", cfg.GeneralRate)
	}
	if cfg.AuthExchangeRate != 0.5 {
		t.Errorf("AuthExchangeRate = %f, want 0.5", cfg.AuthExchangeRate)
	}
	if cfg.GeneralBurst != 60 || cfg.AuthExchangeBurst != 30 {
		t.Errorf("bursts = %d/%d, want 60/30", cfg.GeneralBurst, cfg.AuthExchangeBurst)
	}
}

func TestLimiterPool_AdmitReportsWait(t *testing.T) {
	pool := newLimiterPool(rate.Limit(0.5), 1) // 2秒に1トークン
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if wait := pool.admit("ip:a", now); wait != 0 {
		t.Fatalf("first request wait = %v, want 0", wait)
	}
	if wait := pool.admit("ip:a", now); wait != 2*time.Second {
		t.Errorf("second request wait = %v, want 2s", wait)
	}
	// 拒否はトークンを消費しない
	if wait := pool.admit("ip:a", now.Add(2*time.Second)); wait != 0 {
		t.Errorf("wait after refill = %v, want 0", wait)
	}
	if wait := pool.admit("ip:b", now); wait != 0 {
		t.Errorf("other client wait = %v, want 0", wait)
	}

	pool.evictIdle(time.Second, now.Add(2*time.Second))
	if pool.size() != 1 {
		t.Errorf("size after eviction = %d, want 1", pool.size())
	}
}
