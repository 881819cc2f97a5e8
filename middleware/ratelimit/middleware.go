package ratelimit

import (
	"encoding/json"
	"net/http"

	"admission-gateway/middleware/ratelimit/domain"
)

type Options struct {
	Limiter             *Limiter
	RejectStatus        int
	AddRateLimitHeaders bool
}

// SetInfoHeaders expõe a classe e o limite aplicados à request.
func SetInfoHeaders(w http.ResponseWriter, c Classification) {
	w.Header().Set("X-RateLimit-Class", string(c.Class))
	w.Header().Set("X-RateLimit-Limit", formatInt(c.Config.MaxRequests))
	w.Header().Set("X-RateLimit-Window", formatSeconds(c.Config.Window))
}

// WriteRejection responde o bloqueio: Retry-After em segundos e corpo JSON.
func WriteRejection(w http.ResponseWriter, dec domain.Decision, status int) {
	if status == 0 {
		status = http.StatusTooManyRequests
	}
	w.Header().Set("Retry-After", formatInt(dec.RetryAfterSeconds()))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(status)})
}

// Middleware aplica só o rate limit. Para compor com CSRF e headers de segurança use o gate.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.Limiter == nil {
		opts.Limiter = NewLimiter(LimiterOptions{})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, dec := opts.Limiter.Admit(r)

			if opts.AddRateLimitHeaders {
				SetInfoHeaders(w, c)
			}
			if !dec.Allowed {
				WriteRejection(w, dec, opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
