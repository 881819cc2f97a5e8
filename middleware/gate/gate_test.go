package gate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"admission-gateway/middleware/csrf"
	"admission-gateway/middleware/identity"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/require"
)

func tightLimiter(t *testing.T, max int) *ratelimit.Limiter {
	t.Helper()
	cfg := domain.Config{Window: time.Minute, MaxRequests: max}
	rules, err := ratelimit.NewClassifier([]ratelimit.Rule{{
		Class:     domain.ClassDefault,
		User:      cfg,
		Anonymous: cfg,
	}})
	require.NoError(t, err)
	return ratelimit.NewLimiter(ratelimit.LimiterOptions{Rules: rules, SweepInterval: -1})
}

// refreshingIdentity renova o cookie de sessão e identifica o usuário.
var refreshingIdentity = identity.ResolverFunc(func(w http.ResponseWriter, r *http.Request) (identity.Principal, bool, error) {
	http.SetCookie(w, &http.Cookie{Name: "session", Value: "refreshed", Path: "/"})
	return identity.Principal{ID: "u1"}, true, nil
})

func cookieNames(w *httptest.ResponseRecorder) map[string]string {
	out := map[string]string{}
	for _, c := range w.Result().Cookies() {
		out[c.Name] = c.Value
	}
	return out
}

func TestGate_RateLimitRejectionKeepsHeadersAndCookies(t *testing.T) {
	g := &Gate{
		Identity:   refreshingIdentity,
		Production: true,
		Limiter:    tightLimiter(t, 1),
		CSRF:       csrf.New(csrf.Options{}),
	}
	calls := 0
	h := g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))

	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusOK, w1.Code)
	require.Contains(t, cookieNames(w1), "csrf-token")

	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
	require.NotEmpty(t, w2.Header().Get("Retry-After"))
	require.Equal(t, "nosniff", w2.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, w2.Header().Get("Strict-Transport-Security"))
	require.Equal(t, "refreshed", cookieNames(w2)["session"])
	// CSRF não roda depois do 429
	require.NotContains(t, cookieNames(w2), "csrf-token")

	var body map[string]string
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &body))
	require.Equal(t, "Too Many Requests", body["error"])
	require.Equal(t, 1, calls)
}

func TestGate_CSRFRejectionKeepsHeaders(t *testing.T) {
	g := &Gate{Identity: refreshingIdentity, Limiter: tightLimiter(t, 10), CSRF: csrf.New(csrf.Options{})}
	called := false
	h := g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/essays", nil))

	require.False(t, called)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	require.Empty(t, w.Header().Get("Strict-Transport-Security"))
	require.Equal(t, "refreshed", cookieNames(w)["session"])

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, csrf.RejectMessage, body["error"])
}

func TestGate_RateLimitRunsBeforeCSRF(t *testing.T) {
	g := &Gate{Limiter: tightLimiter(t, 1), CSRF: csrf.New(csrf.Options{})}
	h := g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	// a primeira consome a vaga mesmo sendo rejeitada pelo CSRF
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, httptest.NewRequest(http.MethodPost, "/api/essays", nil))
	require.Equal(t, http.StatusForbidden, w1.Code)

	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, httptest.NewRequest(http.MethodPost, "/api/essays", nil))
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestGate_PrincipalReachesHandlerAndKey(t *testing.T) {
	g := &Gate{Identity: refreshingIdentity, Limiter: tightLimiter(t, 5), RateLimitHeaders: true}

	var got identity.Principal
	h := g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = identity.PrincipalFrom(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, "u1", got.ID)
	require.Equal(t, "default", w.Header().Get("X-RateLimit-Class"))
}

func TestGate_IdentityFailureDegradesToAnonymous(t *testing.T) {
	failing := identity.ResolverFunc(func(w http.ResponseWriter, r *http.Request) (identity.Principal, bool, error) {
		return identity.Principal{}, false, identity.ErrUnavailable
	})
	g := &Gate{Identity: failing, Limiter: tightLimiter(t, 1)}

	var anonymous bool
	h := g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := identity.PrincipalFrom(r.Context())
		anonymous = !ok
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, anonymous)
}

type csrfCounter map[string]int

func (c csrfCounter) ObserveCSRF(outcome string) { c[outcome]++ }

func TestGate_ObservesCSRFOutcome(t *testing.T) {
	obs := csrfCounter{}
	g := &Gate{CSRF: csrf.New(csrf.Options{}), Observer: obs}
	h := g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/x", nil))

	require.Equal(t, 1, obs["issued"])
	require.Equal(t, 1, obs["missing"])
}
