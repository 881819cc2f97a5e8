package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"admission-gateway/config"
	"admission-gateway/logging"
	"admission-gateway/metrics"
	"admission-gateway/middleware/csrf"
	"admission-gateway/middleware/gate"
	"admission-gateway/middleware/identity"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type app struct {
	// handler é o listener público: tudo passa pelo gate até o upstream.
	handler http.Handler
	// admin responde /healthz, /metrics e /_gate/stats no listener de operação.
	admin      http.Handler
	classifier *ratelimit.Classifier
	closers    []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// rulesFromConfig converte as regras do YAML. Vazio: tabela padrão.
func rulesFromConfig(in []config.RuleConfig) []ratelimit.Rule {
	if len(in) == 0 {
		return nil
	}
	out := make([]ratelimit.Rule, 0, len(in))
	for _, r := range in {
		out = append(out, ratelimit.Rule{
			Class:     domain.Class(r.Class),
			Methods:   r.Methods,
			Patterns:  r.Patterns,
			User:      domain.Config{Window: r.User.Window, MaxRequests: r.User.MaxRequests},
			Anonymous: domain.Config{Window: r.Anonymous.Window, MaxRequests: r.Anonymous.MaxRequests},
		})
	}
	return out
}

func newRedisClient(ctx context.Context, rc config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", rc.Addr, err)
	}
	return rdb, nil
}

// statsReader alimenta GET /_gate/stats.
type statsReader func(ctx context.Context) (any, error)

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, collector *metrics.Collector) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	classifier, err := ratelimit.NewClassifier(rulesFromConfig(cfg.RateLimit.Rules))
	if err != nil {
		return nil, fmt.Errorf("rate limit rules: %w", err)
	}
	a.classifier = classifier

	var store domain.WindowStore
	switch cfg.Store.Backend {
	case "redis":
		rdb, err := newRedisClient(ctx, cfg.Store.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		store = infra.NewRedisWindowStore(rdb, infra.WithWindowPrefix(cfg.Store.Prefix))
	default:
		store = infra.NewMemoryWindowStore()
	}

	stats, reader, err := buildStats(ctx, cfg, logger, a)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(ratelimit.LimiterOptions{
		Rules:                classifier,
		Store:                store,
		Stats:                stats,
		FallbackToRemoteAddr: cfg.RateLimit.FallbackToRemoteAddr,
		SweepInterval:        cfg.RateLimit.SweepInterval,
		FailClosed:           cfg.RateLimit.FailClosed,
		Logger:               logger,
		Observer:             collector,
	})

	var resolver identity.Resolver
	if cfg.Identity.URL != "" {
		resolver = identity.NewRemoteResolver(identity.RemoteConfig{
			URL:           cfg.Identity.URL,
			SessionCookie: cfg.Identity.SessionCookie,
			APIKey:        cfg.Identity.APIKey,
			Timeout:       cfg.Identity.Timeout,
		})
	}

	g := &gate.Gate{
		Identity:   resolver,
		Production: cfg.Server.Production,
		Limiter:    limiter,
		CSRF: csrf.New(csrf.Options{
			Production:   cfg.Server.Production,
			SkipPrefixes: cfg.CSRF.SkipPrefixes,
			SkipExact:    cfg.CSRF.SkipExact,
			Logger:       logger,
		}),
		RateLimitHeaders: cfg.RateLimit.Headers,
		Logger:           logger,
		Observer:         collector,
	}

	proxy, err := newProxy(cfg.Upstream.URL, logger)
	if err != nil {
		return nil, err
	}

	upstream := ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.Concurrency.Max,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.Concurrency.Timeout,
		Match:          ratelimit.MatchClass(classifier, string(domain.ClassAI)),
	})(proxy)

	r := chi.NewRouter()
	r.Use(logging.RequestID(logger), logging.AccessLog, collector.Middleware)
	r.Handle("/*", g.Handler(upstream))
	a.handler = r

	a.admin = newAdminRouter(collector, reader, logger)
	ok = true
	return a, nil
}

// newAdminRouter monta as rotas de operação. Ficam fora do gate e do listener
// público, então não disputam caminhos com o upstream.
func newAdminRouter(collector *metrics.Collector, reader statsReader, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(logging.RequestID(logger))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", collector.Handler())
	if reader != nil {
		r.Get("/_gate/stats", statsHandler(reader, logger))
	}
	return r
}

func buildStats(ctx context.Context, cfg *config.Config, logger zerolog.Logger, a *app) (domain.StatsStore, statsReader, error) {
	switch cfg.Stats.Backend {
	case "memory":
		s := infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.Stats.TrackKeys))
		return s, func(context.Context) (any, error) { return s.Snapshot(), nil }, nil

	case "redis":
		rdb, err := newRedisClient(ctx, cfg.StatsRedis())
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		s := infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		)
		return s, func(ctx context.Context) (any, error) { return s.ClassCounters(ctx) }, nil

	case "sqlite":
		s, err := infra.OpenSQLiteStatsStore(cfg.Stats.SQLite)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, s.Close)
		if cfg.Stats.Retention > 0 {
			n, err := s.Prune(ctx, time.Now().Add(-cfg.Stats.Retention))
			if err != nil {
				logger.Warn().Err(err).Msg("stats prune failed")
			} else if n > 0 {
				logger.Info().Int64("rows", n).Msg("old admission events pruned")
			}
		}
		window := cfg.Stats.Retention
		if window <= 0 {
			window = 24 * time.Hour
		}
		return s, func(ctx context.Context) (any, error) { return s.Summary(ctx, time.Now().Add(-window)) }, nil
	}
	return nil, nil, nil
}

func statsHandler(read statsReader, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := read(r.Context())
		if err != nil {
			logger.Warn().Err(err).Msg("stats read failed")
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func newProxy(upstream string, logger zerolog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid UPSTREAM_URL %q: scheme and host are required", upstream)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn().Err(err).Str("path", r.URL.Path).Msg("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}
	return proxy, nil
}
