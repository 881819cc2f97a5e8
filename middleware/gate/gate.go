// Package gate compõe a admissão de cada request:
// identidade → headers de segurança → rate limit → CSRF → handler.
//
// Todas as etapas escrevem no mesmo http.ResponseWriter, então cookies emitidos
// antes de uma rejeição (sessão renovada, token CSRF) chegam ao cliente.
package gate

import (
	"net/http"

	"admission-gateway/middleware/csrf"
	"admission-gateway/middleware/identity"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/secheaders"

	"github.com/rs/zerolog"
)

// Observer recebe o resultado do CSRF. Opcional.
type Observer interface {
	ObserveCSRF(outcome string)
}

type Gate struct {
	Identity   identity.Resolver // nil: todos anônimos
	Production bool
	Limiter    *ratelimit.Limiter // nil: sem rate limit
	CSRF       *csrf.Guard        // nil: sem CSRF

	// RateLimitHeaders adiciona X-RateLimit-Class/Limit/Window.
	RateLimitHeaders bool

	Logger   zerolog.Logger
	Observer Observer
}

func (g *Gate) logger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &g.Logger
}

func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = g.resolveIdentity(w, r)

		secheaders.Stamp(w.Header(), g.Production)

		if g.Limiter != nil {
			c, dec := g.Limiter.Admit(r)
			if g.RateLimitHeaders {
				ratelimit.SetInfoHeaders(w, c)
			}
			if !dec.Allowed {
				ratelimit.WriteRejection(w, dec, http.StatusTooManyRequests)
				return
			}
		}

		if g.CSRF != nil {
			d := g.CSRF.Check(w, r)
			if g.Observer != nil {
				g.Observer.ObserveCSRF(string(d.Outcome))
			}
			if !d.Continue {
				g.logger(r).Debug().
					Str("path", r.URL.Path).
					Str("outcome", string(d.Outcome)).
					Msg("csrf rejected")
				csrf.Reject(w, d)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// resolveIdentity guarda o principal no contexto. Falha do provedor vira anônimo.
func (g *Gate) resolveIdentity(w http.ResponseWriter, r *http.Request) *http.Request {
	if g.Identity == nil {
		return r
	}
	p, ok, err := g.Identity.Resolve(w, r)
	if err != nil {
		g.logger(r).Warn().Err(err).Msg("identity resolution failed, continuing as anonymous")
		return r
	}
	if !ok {
		return r
	}
	return r.WithContext(identity.WithPrincipal(r.Context(), p))
}
