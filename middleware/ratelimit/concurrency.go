package ratelimit

import (
	"encoding/json"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// Match restringe o limite a algumas requests (ex: só a classe ai). nil = todas.
	Match func(r *http.Request) bool
}

// ConcurrencyMiddleware limita quantas requests ficam em andamento ao mesmo tempo.
// Max <= 0 desliga o limite.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	svc := application.ConcurrencyService{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Match != nil && !opts.Match(r) {
				next.ServeHTTP(w, r)
				return
			}

			release, ok := svc.Acquire(r.Context())
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(opts.RejectStatus)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(opts.RejectStatus)})
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}

// MatchClass devolve um Match para ConcurrencyOptions que casa requests de uma classe.
func MatchClass(rules *Classifier, class string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return string(rules.Match(r.Method, r.URL.Path).Class) == class
	}
}
