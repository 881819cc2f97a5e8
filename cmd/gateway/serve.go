package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/config"
	"admission-gateway/logging"
	"admission-gateway/metrics"

	"github.com/spf13/cobra"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admission reverse proxy",
	Long: `Start the admission gateway in front of UPSTREAM_URL.

Environment variables:
  LISTEN_ADDR              listen address (default :8080)
  ADMIN_LISTEN_ADDR        /healthz, /metrics, /_gate/stats (default 127.0.0.1:9090)
  UPSTREAM_URL             upstream app URL (required)
  APP_ENV=production       Secure CSRF cookie + HSTS (or PRODUCTION=true)
  STORE_BACKEND            memory | redis (shared limits across instances)
  REDIS_ADDR               redis for STORE_BACKEND=redis
  RATE_FAIL_CLOSED         reject when the redis store fails (default false)
  RATE_STATS_BACKEND       none | memory | redis | sqlite
  CONCURRENCY_MAX          in-flight cap for the ai class (0 disables)
  CONCURRENCY_TIMEOUT      wait for a free slot before 503 (default 5s)
  IDENTITY_URL             identity provider user endpoint
  LOG_LEVEL, LOG_FORMAT    zerolog level and json|console`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload rate limit rules on config change or SIGHUP")
}

func runServe(cmd *cobra.Command, args []string) error {
	boot, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger := logging.New(boot.Logging.Level, boot.Logging.Format, nil)

	holder, err := config.NewHolder(cfgFile, logger)
	if err != nil {
		return err
	}
	defer holder.Stop()

	cfg := holder.Get()
	if err := cfg.ValidateProxy(); err != nil {
		return err
	}

	collector := metrics.New()
	app, err := buildApp(cmd.Context(), cfg, logger, collector)
	if err != nil {
		return err
	}
	defer app.Close()

	if hotReload {
		holder.OnReload(collector.ObserveReload)
		holder.OnChange(func(c *config.Config) {
			if err := app.classifier.Replace(rulesFromConfig(c.RateLimit.Rules)); err != nil {
				logger.Error().Err(err).Msg("rate limit rules rejected, keeping previous table")
				return
			}
			logger.Info().Int("rules", len(app.classifier.Rules())).Msg("rate limit rules replaced")
		})
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config file watch disabled")
		}
		holder.WatchSignals()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	servers := []*http.Server{newServer(cfg.Server.ListenAddr, app.handler)}
	if cfg.Server.AdminAddr != "" {
		servers = append(servers, newServer(cfg.Server.AdminAddr, app.admin))
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
	}()

	logger.Info().
		Str("addr", cfg.Server.ListenAddr).
		Str("admin_addr", cfg.Server.AdminAddr).
		Str("upstream", cfg.Upstream.URL).
		Bool("production", cfg.Server.Production).
		Str("store", cfg.Store.Backend).
		Str("stats", cfg.Stats.Backend).
		Int("concurrency_max", cfg.Concurrency.Max).
		Bool("identity", cfg.Identity.URL != "").
		Msg("gateway listening")

	// se um listener cair, o cancel derruba o outro.
	errc := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				cancel()
				errc <- fmt.Errorf("server %s: %w", srv.Addr, err)
				return
			}
			errc <- nil
		}()
	}
	var serveErr error
	for range servers {
		if err := <-errc; err != nil && serveErr == nil {
			serveErr = err
		}
	}
	if serveErr != nil {
		return serveErr
	}
	logger.Info().Msg("gateway stopped")
	return nil
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}
