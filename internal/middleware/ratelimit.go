package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/storefront/internal/model"
	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定。レートは req/sec。
type RateLimiterConfig struct {
	GeneralRate       rate.Limit
	GeneralBurst      int
	AuthExchangeRate  rate.Limit
	AuthExchangeBurst int
	// 最終アクセスからこの2倍経過したクライアントを忘れる
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig はAPI全般 120 req/min、セッション交換 10 req/min。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteRateLimiterConfig(120, 10)
}

// PerMinuteRateLimiterConfig は分あたりの上限から設定を作る。バーストは分あたりの上限と同じ。
func PerMinuteRateLimiterConfig(generalPerMin, authExchangePerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:       rate.Limit(float64(generalPerMin) / 60),
		GeneralBurst:      generalPerMin,
		AuthExchangeRate:  rate.Limit(float64(authExchangePerMin) / 60),
		AuthExchangeBurst: authExchangePerMin,
		CleanupInterval:   5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool はキーごとのトークンバケットを保持する。
type limiterPool struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func newLimiterPool(limit rate.Limit, burst int) *limiterPool {
	return &limiterPool{limit: limit, burst: burst, clients: make(map[string]*clientLimiter)}
}

// admit はトークンを1つ消費できれば0を返し、できなければ次に許可されるまでの待ち時間を返す。
func (p *limiterPool) admit(key string, now time.Time) time.Duration {
	p.mu.Lock()
	c, ok := p.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.clients[key] = c
	}
	c.lastSeen = now
	p.mu.Unlock()

	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return delay
	}
	return 0
}

func (p *limiterPool) evictIdle(idle time.Duration, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, c := range p.clients {
		if now.Sub(c.lastSeen) > idle {
			delete(p.clients, key)
		}
	}
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// RateLimiter はAPI全般とセッション交換の2系統のレート制限を持つ。
// 使い終わったら Stop でアイドルクライアントの掃除を止める。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterPool
	auth    *limiterPool

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterPool(config.GeneralRate, config.GeneralBurst),
		auth:    newLimiterPool(config.AuthExchangeRate, config.AuthExchangeBurst),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop は複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は認証済みならユーザー単位、匿名ならIP単位で制限する。
// SessionMiddlewareより後に置くこと。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, "general", rateLimitKey)
}

// AuthExchangeMiddleware はセッション交換をIP単位で制限する。API全般の制限とは別枠。
func (rl *RateLimiter) AuthExchangeMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.auth, "auth_exchange", func(r *http.Request) string {
		return "ip:" + ClientIP(r)
	})
}

func (rl *RateLimiter) middleware(pool *limiterPool, kind string, keyOf func(*http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyOf(r)
			if wait := pool.admit(key, time.Now()); wait > 0 {
				slog.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("limit_type", kind),
					slog.Duration("retry_after", wait),
				)
				writeRateLimitResponse(w, wait)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if u := UserFromContext(r.Context()); u != nil && u.ID != "" {
		return "user:" + u.ID
	}
	return "ip:" + ClientIP(r)
}

// GeneralLimiterCount と AuthLimiterCount は保持中のクライアント数。
func (rl *RateLimiter) GeneralLimiterCount() int { return rl.general.size() }

func (rl *RateLimiter) AuthLimiterCount() int { return rl.auth.size() }

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			rl.cleanup(now)
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) {
	idle := 2 * rl.config.CleanupInterval
	rl.general.evictIdle(idle, now)
	rl.auth.evictIdle(idle, now)
}

// writeRateLimitResponse は Retry-After を秒単位に切り上げて429を返す。
func writeRateLimitResponse(w http.ResponseWriter, wait time.Duration) {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
