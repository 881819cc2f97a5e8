// Package secheaders carimba os headers de segurança fixos em todas as respostas.
package secheaders

import "net/http"

// ContentSecurityPolicy é a política fixa do app de redações.
const ContentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: blob: https:; " +
	"font-src 'self' data:; " +
	"connect-src 'self' https:; " +
	"media-src 'self' blob:; " +
	"frame-ancestors 'none'; " +
	"base-uri 'self'; " +
	"form-action 'self'"

const HSTS = "max-age=31536000; includeSubDomains"

var fixed = [...][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "1; mode=block"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	{"Content-Security-Policy", ContentSecurityPolicy},
}

// Stamp escreve os headers em h. HSTS só em produção.
func Stamp(h http.Header, production bool) {
	for _, kv := range fixed {
		h.Set(kv[0], kv[1])
	}
	if production {
		h.Set("Strict-Transport-Security", HSTS)
	}
}

func Middleware(production bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Stamp(w.Header(), production)
			next.ServeHTTP(w, r)
		})
	}
}
