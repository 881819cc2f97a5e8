// Package csrf valida requests mutáveis da API com o padrão double-submit cookie.
//
// Em métodos seguros o guard emite um token aleatório no cookie csrf-token (legível
// pelo JavaScript do cliente). Em métodos mutáveis sob /api/ o cliente precisa
// devolver o mesmo valor no header x-csrf-token.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const (
	DefaultCookieName = "csrf-token"
	DefaultHeaderName = "x-csrf-token"
	DefaultAPIPrefix  = "/api/"

	// TokenBytes gera tokens de 64 caracteres hex.
	TokenBytes = 32

	RejectMessage = "CSRF token missing or invalid"
)

// Outcome descreve o que o guard fez com a request (para logs e métricas).
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"
	OutcomeIssued   Outcome = "issued"
	OutcomeSafe     Outcome = "safe"
	OutcomeValid    Outcome = "valid"
	OutcomeNonAPI   Outcome = "non_api"
	OutcomeMissing  Outcome = "missing"
	OutcomeMismatch Outcome = "mismatch"
)

// Decision é Continue ou Reject(Status).
type Decision struct {
	Continue bool
	Status   int
	Outcome  Outcome
}

// TokenSource gera o valor do token. Injetável nos testes.
type TokenSource func() (string, error)

// RandomToken lê TokenBytes de crypto/rand e codifica em hex.
func RandomToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("csrf token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type Options struct {
	Production bool // cookie com Secure

	CookieName string
	HeaderName string
	APIPrefix  string

	// SkipPrefixes e SkipExact substituem a allowlist padrão quando não vazios.
	SkipPrefixes []string
	SkipExact    []string

	Tokens TokenSource
	Logger zerolog.Logger
}

// DefaultSkipPrefixes: webhooks de pagamento (assinatura do provedor) e callbacks de login.
func DefaultSkipPrefixes() []string {
	return []string{"/api/webhooks/", "/auth/callback"}
}

// DefaultSkipExact: logout.
func DefaultSkipExact() []string {
	return []string{"/api/auth/logout", "/auth/logout"}
}

type Guard struct {
	opts  Options
	exact map[string]struct{}
}

func New(opts Options) *Guard {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.HeaderName == "" {
		opts.HeaderName = DefaultHeaderName
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = DefaultAPIPrefix
	}
	if len(opts.SkipPrefixes) == 0 {
		opts.SkipPrefixes = DefaultSkipPrefixes()
	}
	if len(opts.SkipExact) == 0 {
		opts.SkipExact = DefaultSkipExact()
	}
	if opts.Tokens == nil {
		opts.Tokens = RandomToken
	}

	exact := make(map[string]struct{}, len(opts.SkipExact))
	for _, p := range opts.SkipExact {
		exact[p] = struct{}{}
	}
	return &Guard{opts: opts, exact: exact}
}

// ShouldSkip diz se o caminho usa outra verificação (assinatura, state do OAuth) ou é o logout.
func (g *Guard) ShouldSkip(path string) bool {
	if _, ok := g.exact[path]; ok {
		return true
	}
	for _, p := range g.opts.SkipPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isSafe(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Check decide a request. O cookie novo (métodos seguros) é escrito em w.
func (g *Guard) Check(w http.ResponseWriter, r *http.Request) Decision {
	if g.ShouldSkip(r.URL.Path) {
		return Decision{Continue: true, Outcome: OutcomeSkipped}
	}

	if isSafe(r.Method) {
		if c, err := r.Cookie(g.opts.CookieName); err == nil && c.Value != "" {
			return Decision{Continue: true, Outcome: OutcomeSafe}
		}
		token, err := g.opts.Tokens()
		if err != nil {
			// a próxima request segura tenta de novo
			g.opts.Logger.Warn().Err(err).Msg("csrf token generation failed")
			return Decision{Continue: true, Outcome: OutcomeSafe}
		}
		http.SetCookie(w, g.cookie(token))
		return Decision{Continue: true, Outcome: OutcomeIssued}
	}

	if !strings.HasPrefix(r.URL.Path, g.opts.APIPrefix) {
		return Decision{Continue: true, Outcome: OutcomeNonAPI}
	}

	header := r.Header.Get(g.opts.HeaderName)
	c, err := r.Cookie(g.opts.CookieName)
	if err != nil || c.Value == "" || header == "" {
		return Decision{Status: http.StatusForbidden, Outcome: OutcomeMissing}
	}
	if subtle.ConstantTimeCompare([]byte(c.Value), []byte(header)) != 1 {
		return Decision{Status: http.StatusForbidden, Outcome: OutcomeMismatch}
	}
	return Decision{Continue: true, Outcome: OutcomeValid}
}

func (g *Guard) cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     g.opts.CookieName,
		Value:    token,
		Path:     "/",
		Secure:   g.opts.Production,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	}
}

// Reject escreve a resposta 403 com corpo JSON.
func Reject(w http.ResponseWriter, d Decision) {
	status := d.Status
	if status == 0 {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": RejectMessage})
}

// Middleware aplica só o guard. Para a ordem completa (headers, rate limit, CSRF) use o gate.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Check(w, r)
		if !d.Continue {
			Reject(w, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}
