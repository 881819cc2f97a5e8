package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleConfig = `
server:
  listen_addr: ":9090"
upstream:
  url: "http://app:3000"
rate_limit:
  rules:
    - class: ai
      patterns: ["/api/evaluate", "/api/drafts/{id}/assistant"]
      user: {window: 1m, max_requests: 5}
      anonymous: {window: 1m, max_requests: 2}
stats:
  backend: memory
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.ListenAddr)
	require.Equal(t, "127.0.0.1:9090", cfg.Server.AdminAddr)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.Equal(t, "none", cfg.Stats.Backend)
	require.Equal(t, 60*time.Second, cfg.RateLimit.SweepInterval)
	require.Equal(t, 20, cfg.Concurrency.Max)
	require.Equal(t, 5*time.Second, cfg.Concurrency.Timeout)
	require.False(t, cfg.Server.Production)
	require.Empty(t, cfg.RateLimit.Rules)
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.ListenAddr)
	require.Equal(t, "http://app:3000", cfg.Upstream.URL)
	require.Equal(t, "memory", cfg.Stats.Backend)
	require.Len(t, cfg.RateLimit.Rules, 1)

	r := cfg.RateLimit.Rules[0]
	require.Equal(t, "ai", r.Class)
	require.Equal(t, time.Minute, r.User.Window)
	require.Equal(t, 5, r.User.MaxRequests)
	require.Equal(t, 2, r.Anonymous.MaxRequests)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("ADMIN_LISTEN_ADDR", "127.0.0.1:7071")
	t.Setenv("APP_ENV", "production")
	t.Setenv("CONCURRENCY_MAX", "3")
	t.Setenv("RATE_SWEEP_INTERVAL", "30s")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, ":7070", cfg.Server.ListenAddr)
	require.Equal(t, "127.0.0.1:7071", cfg.Server.AdminAddr)
	require.True(t, cfg.Server.Production)
	require.Equal(t, 3, cfg.Concurrency.Max)
	require.Equal(t, 30*time.Second, cfg.RateLimit.SweepInterval)
}

func TestLoad_LegacyStatsEnabledMeansRedis(t *testing.T) {
	t.Setenv("RATE_STATS_ENABLED", "true")

	_, err := Load("")
	require.Error(t, err)

	t.Setenv("REDIS_ADDR", "localhost:6379")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "redis", cfg.Stats.Backend)
	require.Equal(t, "localhost:6379", cfg.StatsRedis().Addr)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "redis"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Stats.Backend = "kafka"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Concurrency.Max = -1
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.AdminAddr = cfg.Server.ListenAddr
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Concurrency.Timeout = 0
	require.Error(t, cfg.Validate())
	cfg.Concurrency.Max = 0
	require.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.RateLimit.Rules = []RuleConfig{{Class: "ai", Patterns: []string{"api/x"}}}
	require.Error(t, cfg.Validate())

	// limite zerado é aceito: a classe falha fechada em tempo de execução
	cfg = Default()
	cfg.RateLimit.Rules = []RuleConfig{{Class: "upload", Patterns: []string{"/api/upload"}}}
	require.NoError(t, cfg.Validate())

	cfg = Default()
	require.Error(t, cfg.ValidateProxy())
	cfg.Upstream.URL = "http://app"
	require.NoError(t, cfg.ValidateProxy())
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
