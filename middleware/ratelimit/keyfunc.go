package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"admission-gateway/middleware/identity"
	"admission-gateway/middleware/ratelimit/domain"
)

// KeyFunc deriva o principal (tipo + id) usado na chave de rate limit.
type KeyFunc func(r *http.Request) (domain.PrincipalKind, string)

// DefaultKeyFunc usa o usuário resolvido pelo provedor de identidade (identity.PrincipalFrom);
// sem usuário, cai para o IP do cliente (ClientIP).
func DefaultKeyFunc(useRemoteAddr bool) KeyFunc {
	return func(r *http.Request) (domain.PrincipalKind, string) {
		if p, ok := identity.PrincipalFrom(r.Context()); ok {
			return domain.PrincipalUser, p.ID
		}
		return domain.PrincipalIP, ClientIP(r, useRemoteAddr)
	}
}

// ClientIP segue a ordem: primeiro IP do X-Forwarded-For (cliente original),
// X-Real-IP, opcionalmente o endereço da conexão, e por fim "unknown".
//
// Os headers são controlados pelo cliente quando não há proxy confiável na frente;
// isso só atrapalha rotação trivial de IP, não é defesa forte.
func ClientIP(r *http.Request, useRemoteAddr bool) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	if useRemoteAddr {
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
	}
	return "unknown"
}
