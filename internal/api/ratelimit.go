package api

import (
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/pkg/logger"
)

// CodeRateLimited 表示调用方请求过于频繁。
const CodeRateLimited xerrors.Code = "RATE_LIMITED"

func init() {
	xerrors.Register(CodeRateLimited, xerrors.Attributes{Message: "too many requests", Severity: xerrors.SeverityInfo, Retryable: true})
}

// maxLimiters 超过后清空限流器表，避免长期运行时无限增长。
const maxLimiters = 10000

// RateLimiter 按调用方维护令牌桶。
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter 创建限流器。
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiters: make(map[string]*rate.Limiter), rate: rate.Limit(perSecond), burst: burst}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Handler 返回限流中间件。已认证的调用方按身份限流，否则按来源地址。
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if actor, ok := auth.ActorFromContext(r.Context()); ok {
			key = actor.String()
		}
		if !rl.limiter(key).Allow() {
			logger.Audit().Warn("rate_limit_exceeded",
				slog.String("key", key),
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
			)
			writeError(w, xerrors.New(CodeRateLimited, ""), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
