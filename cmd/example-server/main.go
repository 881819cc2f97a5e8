// Command example-server embute o gate direto num app chi (sem proxy):
// rotas de exemplo do app de redações protegidas por rate limit e CSRF.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/config"
	"admission-gateway/logging"
	"admission-gateway/middleware/csrf"
	"admission-gateway/middleware/gate"
	"admission-gateway/middleware/identity"
	"admission-gateway/middleware/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config error")
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           newRouter(cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("example server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}

// demoIdentity trata o cookie "session" como o próprio id do usuário. Só para demonstração.
var demoIdentity = identity.ResolverFunc(func(w http.ResponseWriter, r *http.Request) (identity.Principal, bool, error) {
	c, err := r.Cookie("session")
	if err != nil || c.Value == "" {
		return identity.Principal{}, false, nil
	}
	return identity.Principal{ID: c.Value}, true, nil
})

func newRouter(cfg *config.Config, logger zerolog.Logger) http.Handler {
	limiter := ratelimit.NewLimiter(ratelimit.LimiterOptions{
		FallbackToRemoteAddr: true,
		SweepInterval:        cfg.RateLimit.SweepInterval,
		Logger:               logger,
	})

	g := &gate.Gate{
		Identity:         demoIdentity,
		Production:       cfg.Server.Production,
		Limiter:          limiter,
		CSRF:             csrf.New(csrf.Options{Production: cfg.Server.Production, Logger: logger}),
		RateLimitHeaders: true,
		Logger:           logger,
	}

	r := chi.NewRouter()
	r.Use(logging.RequestID(logger), logging.AccessLog, g.Handler)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/evaluate", echo("evaluation queued"))
		r.Post("/rewrite", echo("rewrite queued"))
		r.Post("/drafts/{draftID}/assistant", echo("assistant reply"))
		r.Post("/upload", echo("upload accepted"))
		r.Post("/essays/{essayID}/finalize", echo("essay finalized"))
		r.Get("/essays", echo("[]"))
		r.Post("/webhooks/stripe", echo("webhook received"))
	})
	return r
}

func echo(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"message": msg}
		if p, ok := identity.PrincipalFrom(r.Context()); ok {
			resp["user"] = p.ID
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
