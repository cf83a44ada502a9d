package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定。
type RateLimiterConfig struct {
	// GeneralRate はAPI全体のレート（リクエスト/秒）
	GeneralRate rate.Limit
	// GeneralBurst はバーストサイズ
	GeneralBurst int
	// CleanupInterval は未使用リミッターの掃除間隔
	CleanupInterval time.Duration
	// ClientTTL はこの期間アクセスのないクライアントのリミッターを破棄する
	ClientTTL time.Duration
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 1分あたり120リクエストを想定する。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0),
		GeneralBurst:    20,
		CleanupInterval: 10 * time.Minute,
		ClientTTL:       30 * time.Minute,
	}
}

// RateLimiterConfigForRPM は1分あたりのリクエスト数からレート制限設定を生成する。
func RateLimiterConfigForRPM(rpm int) RateLimiterConfig {
	cfg := DefaultRateLimiterConfig()
	if rpm > 0 {
		cfg.GeneralRate = rate.Limit(float64(rpm) / 60.0)
		cfg.GeneralBurst = rpm / 6
		if cfg.GeneralBurst < 1 {
			cfg.GeneralBurst = 1
		}
	}
	return cfg
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter はクライアントIPごとのレート制限を提供する。
type RateLimiter struct {
	config   RateLimiterConfig
	logger   *slog.Logger
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter はレートリミッターを生成し、掃除ループを開始する。
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		logger:   logger,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop は掃除ループを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

// Middleware はクライアントIPごとにリクエストレートを制限するミドルウェアを返す。
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		limiter := rl.getOrCreate(ip)
		if !limiter.Allow() {
			rl.logger.Warn("レート制限を超過しました",
				slog.String("client_ip", ip),
				slog.String("path", r.URL.Path),
			)
			writeRateLimitResponse(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getOrCreate はクライアントIPのリミッターを取得し、なければ生成する。
func (rl *RateLimiter) getOrCreate(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.limiters[ip]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rl.config.GeneralRate, rl.config.GeneralBurst),
		}
		rl.limiters[ip] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

// cleanupLoop は一定間隔でアクセスのないクライアントのリミッターを破棄する。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.config.ClientTTL)
	for ip, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}

// clientIP はリクエストからクライアントIPを取り出す。
// ポート部分は除去し、解析できなければRemoteAddrをそのまま使う。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse はレート制限超過レスポンスを書き込む。
func writeRateLimitResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprint(w, `{"code":"RATE_LIMIT_EXCEEDED","message":"リクエストが多すぎます。しばらく待ってから再度お試しください。","category":"system","action":"1分ほど待ってから再度お試しください。"}`)
}
