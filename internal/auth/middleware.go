package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	loggerpkg "PurchaseRelay/pkg/logger"
)

// Authenticator 解析请求头中的凭证。
type Authenticator interface {
	VerifyAuthorization(header string) (Actor, error)
}

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// Public 列出无需认证的路径。
	Public map[string]bool
	// AuditEvent 指定记录审计日志时使用的事件名称。
	AuditEvent string
	Logger     *slog.Logger
}

// Middleware 返回一个 HTTP 中间件，用于认证调用者并记录审计日志。
func Middleware(authn Authenticator, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			logger := cfg.Logger
			if logger == nil {
				logger = loggerpkg.Audit()
			}
			actor, err := authn.VerifyAuthorization(r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				http.Error(w, http.StatusText(status), status)
				reason := "invalid_token"
				if errors.Is(err, ErrMissingToken) {
					reason = "missing_token"
				}
				logger.Warn("access_denied",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.Int("status", status),
					slog.String("reason", reason),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithActor(r.Context(), actor)))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			logger.Info("api_request",
				slog.String("event", event),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("actor", actor.String()),
			)
		})
	}
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
