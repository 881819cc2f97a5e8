package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"admission-gateway/config"
	"admission-gateway/metrics"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) (*app, *httptest.Server) {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "1")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)

	cfg := config.Default()
	cfg.Upstream.URL = upstream.URL
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	a, err := buildApp(context.Background(), cfg, zerolog.Nop(), metrics.NewWithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, upstream
}

func serve(a *app, method, path string) *httptest.ResponseRecorder {
	return serveOn(a.handler, method, path)
}

func serveAdmin(a *app, path string) *httptest.ResponseRecorder {
	return serveOn(a.admin, http.MethodGet, path)
}

func serveOn(h http.Handler, method, path string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRulesFromConfig(t *testing.T) {
	require.Nil(t, rulesFromConfig(nil))

	rules := rulesFromConfig([]config.RuleConfig{{
		Class:     "ai",
		Methods:   []string{"POST"},
		Patterns:  []string{"/api/summarize"},
		User:      config.LimitConfig{Window: time.Minute, MaxRequests: 4},
		Anonymous: config.LimitConfig{Window: 2 * time.Minute, MaxRequests: 1},
	}})
	require.Len(t, rules, 1)
	require.Equal(t, domain.ClassAI, rules[0].Class)
	require.Equal(t, domain.Config{Window: time.Minute, MaxRequests: 4}, rules[0].User)
	require.Equal(t, domain.Config{Window: 2 * time.Minute, MaxRequests: 1}, rules[0].Anonymous)
}

func TestApp_ProxiesThroughGate(t *testing.T) {
	a, _ := newTestApp(t, nil)

	w := serve(a, http.MethodGet, "/dashboard")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1", w.Header().Get("X-Upstream"))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
	require.Contains(t, w.Header().Get("Set-Cookie"), "csrf-token=")

	// mutação na API sem token
	w = serve(a, http.MethodPost, "/api/essays")
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestApp_AIClassRateLimited(t *testing.T) {
	a, _ := newTestApp(t, func(c *config.Config) {
		c.RateLimit.Rules = []config.RuleConfig{{
			Class:     "ai",
			Patterns:  []string{"/api/evaluate"},
			User:      config.LimitConfig{Window: time.Minute, MaxRequests: 1},
			Anonymous: config.LimitConfig{Window: time.Minute, MaxRequests: 1},
		}}
	})

	require.Equal(t, http.StatusOK, serve(a, http.MethodGet, "/api/evaluate").Code)
	w := serve(a, http.MethodGet, "/api/evaluate")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "60", w.Header().Get("Retry-After"))
	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestApp_OpsEndpointsOnAdminHandler(t *testing.T) {
	a, _ := newTestApp(t, func(c *config.Config) { c.Stats.Backend = "memory" })

	serve(a, http.MethodGet, "/dashboard")

	w := serveAdmin(a, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	w = serveAdmin(a, "/_gate/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var snap struct {
		Total struct {
			Allowed int64 `json:"allowed"`
		} `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.EqualValues(t, 1, snap.Total.Allowed)

	w = serveAdmin(a, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "gate_admissions_total")
}

func TestApp_PublicListenerGatesOpsPaths(t *testing.T) {
	a, _ := newTestApp(t, func(c *config.Config) {
		c.Stats.Backend = "memory"
		c.RateLimit.Rules = []config.RuleConfig{{
			Class:     "upload",
			Patterns:  []string{"/_gate/*"},
			User:      config.LimitConfig{Window: time.Minute, MaxRequests: 1},
			Anonymous: config.LimitConfig{Window: time.Minute, MaxRequests: 1},
		}}
	})

	// no listener público esses caminhos vão para o upstream, com gate
	for _, path := range []string{"/healthz", "/metrics"} {
		w := serve(a, http.MethodGet, path)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "1", w.Header().Get("X-Upstream"), path)
		require.NotEmpty(t, w.Header().Get("Content-Security-Policy"), path)
	}

	require.Equal(t, "1", serve(a, http.MethodGet, "/_gate/stats").Header().Get("X-Upstream"))
	w := serve(a, http.MethodGet, "/_gate/stats")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestApp_SQLiteStats(t *testing.T) {
	a, _ := newTestApp(t, func(c *config.Config) {
		c.Stats.Backend = "sqlite"
		c.Stats.SQLite = filepath.Join(t.TempDir(), "stats.db")
	})

	serve(a, http.MethodGet, "/dashboard")
	w := serveAdmin(a, "/_gate/stats")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"default"`)
}

func TestApp_HotReloadSwapsRules(t *testing.T) {
	a, _ := newTestApp(t, nil)

	require.NoError(t, a.classifier.Replace(rulesFromConfig([]config.RuleConfig{{
		Class:     "upload",
		Patterns:  []string{"/api/import"},
		User:      config.LimitConfig{Window: time.Minute, MaxRequests: 0},
		Anonymous: config.LimitConfig{Window: time.Minute, MaxRequests: 0},
	}})))

	// limite zerado: a classe falha fechada
	w := serve(a, http.MethodGet, "/api/import")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, http.StatusOK, serve(a, http.MethodGet, "/dashboard").Code)
}

func TestNewProxy_RejectsBadURL(t *testing.T) {
	_, err := newProxy("not a url", zerolog.Nop())
	require.Error(t, err)
}
