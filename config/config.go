// Package config carrega a configuração do gateway: arquivo YAML opcional,
// sobrescrito por variáveis de ambiente e validado.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Store       StoreConfig       `yaml:"store"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Stats       StatsConfig       `yaml:"stats"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Identity    IdentityConfig    `yaml:"identity"`
	CSRF        CSRFConfig        `yaml:"csrf"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// AdminAddr serve /healthz, /metrics e /_gate/stats fora do listener público.
	// Vazio desliga as rotas de operação.
	AdminAddr string `yaml:"admin_addr"`
	// Production liga Secure no cookie CSRF e o HSTS. Lido só na inicialização.
	Production bool `yaml:"production"`
}

type UpstreamConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StoreConfig escolhe onde ficam as janelas do rate limit.
type StoreConfig struct {
	Backend string      `yaml:"backend"` // memory | redis
	Redis   RedisConfig `yaml:"redis"`
	Prefix  string      `yaml:"prefix"`
}

type RateLimitConfig struct {
	FailClosed           bool          `yaml:"fail_closed"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	FallbackToRemoteAddr bool          `yaml:"fallback_to_remote_addr"`
	Headers              bool          `yaml:"headers"`
	// Rules vazia usa a tabela padrão.
	Rules []RuleConfig `yaml:"rules"`
}

type RuleConfig struct {
	Class     string      `yaml:"class"`
	Methods   []string    `yaml:"methods"`
	Patterns  []string    `yaml:"patterns"`
	User      LimitConfig `yaml:"user"`
	Anonymous LimitConfig `yaml:"anonymous"`
}

type LimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

type StatsConfig struct {
	Backend   string        `yaml:"backend"` // none | memory | redis | sqlite
	Redis     RedisConfig   `yaml:"redis"`   // vazio: usa store.redis
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
	Bucket    string        `yaml:"bucket"`
	TrackKeys bool          `yaml:"track_keys"`
	SQLite    string        `yaml:"sqlite_path"`
	Retention time.Duration `yaml:"retention"`
}

type ConcurrencyConfig struct {
	Max     int           `yaml:"max"`
	Timeout time.Duration `yaml:"timeout"`
}

type IdentityConfig struct {
	URL           string        `yaml:"url"` // vazio: sem provedor, todos anônimos
	SessionCookie string        `yaml:"session_cookie"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
}

type CSRFConfig struct {
	SkipPrefixes []string `yaml:"skip_prefixes"`
	SkipExact    []string `yaml:"skip_exact"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Default devolve a configuração sem arquivo nem ambiente.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{ListenAddr: ":8080", AdminAddr: "127.0.0.1:9090"},
		Store:     StoreConfig{Backend: "memory", Prefix: "ratelimit:window"},
		RateLimit: RateLimitConfig{SweepInterval: 60 * time.Second},
		Stats: StatsConfig{
			Backend:   "none",
			Prefix:    "ratelimit:stats",
			TTL:       24 * time.Hour,
			Bucket:    "minute",
			SQLite:    "admission-stats.db",
			Retention: 7 * 24 * time.Hour,
		},
		Concurrency: ConcurrencyConfig{Max: 20, Timeout: 5 * time.Second},
		Identity:    IdentityConfig{SessionCookie: "session", Timeout: 2 * time.Second},
		Logging:     LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load lê o YAML em path (opcional), aplica o ambiente e valida.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.ListenAddr = getenvDefault("LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.AdminAddr = getenvDefault("ADMIN_LISTEN_ADDR", cfg.Server.AdminAddr)
	cfg.Upstream.URL = getenvDefault("UPSTREAM_URL", cfg.Upstream.URL)
	if strings.EqualFold(os.Getenv("APP_ENV"), "production") {
		cfg.Server.Production = true
	}
	cfg.Server.Production = getenvBoolDefault("PRODUCTION", cfg.Server.Production)

	cfg.Store.Backend = getenvDefault("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Store.Redis.Password)
	cfg.Store.Redis.DB = getenvIntDefault("REDIS_DB", cfg.Store.Redis.DB)

	cfg.RateLimit.FailClosed = getenvBoolDefault("RATE_FAIL_CLOSED", cfg.RateLimit.FailClosed)
	cfg.RateLimit.SweepInterval = getenvDurationDefault("RATE_SWEEP_INTERVAL", cfg.RateLimit.SweepInterval)
	cfg.RateLimit.FallbackToRemoteAddr = getenvBoolDefault("RATE_FALLBACK_REMOTE_ADDR", cfg.RateLimit.FallbackToRemoteAddr)
	cfg.RateLimit.Headers = getenvBoolDefault("ADD_RATELIMIT_HEADERS", cfg.RateLimit.Headers)

	// RATE_STATS_ENABLED=true sem backend explícito mantém o comportamento antigo (redis).
	if getenvBoolDefault("RATE_STATS_ENABLED", false) && !getenvIsSet("RATE_STATS_BACKEND") {
		cfg.Stats.Backend = "redis"
	}
	cfg.Stats.Backend = getenvDefault("RATE_STATS_BACKEND", cfg.Stats.Backend)
	cfg.Stats.Redis.Addr = getenvDefault("RATE_STATS_REDIS_ADDR", cfg.Stats.Redis.Addr)
	cfg.Stats.Redis.Password = getenvDefault("RATE_STATS_REDIS_PASSWORD", cfg.Stats.Redis.Password)
	cfg.Stats.Redis.DB = getenvIntDefault("RATE_STATS_REDIS_DB", cfg.Stats.Redis.DB)
	cfg.Stats.Prefix = getenvDefault("RATE_STATS_PREFIX", cfg.Stats.Prefix)
	cfg.Stats.TTL = getenvDurationDefault("RATE_STATS_TTL", cfg.Stats.TTL)
	cfg.Stats.Bucket = getenvDefault("RATE_STATS_BUCKET", cfg.Stats.Bucket)
	cfg.Stats.TrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", cfg.Stats.TrackKeys)
	cfg.Stats.SQLite = getenvDefault("RATE_STATS_SQLITE_PATH", cfg.Stats.SQLite)
	cfg.Stats.Retention = getenvDurationDefault("RATE_STATS_RETENTION", cfg.Stats.Retention)

	cfg.Concurrency.Max = getenvIntDefault("CONCURRENCY_MAX", cfg.Concurrency.Max)
	cfg.Concurrency.Timeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", cfg.Concurrency.Timeout)

	cfg.Identity.URL = getenvDefault("IDENTITY_URL", cfg.Identity.URL)
	cfg.Identity.SessionCookie = getenvDefault("IDENTITY_SESSION_COOKIE", cfg.Identity.SessionCookie)
	cfg.Identity.APIKey = getenvDefault("IDENTITY_API_KEY", cfg.Identity.APIKey)
	cfg.Identity.Timeout = getenvDurationDefault("IDENTITY_TIMEOUT", cfg.Identity.Timeout)

	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
}

// StatsRedis devolve o redis das estatísticas, caindo para o do store.
func (c *Config) StatsRedis() RedisConfig {
	if strings.TrimSpace(c.Stats.Redis.Addr) != "" {
		return c.Stats.Redis
	}
	return c.Store.Redis
}

// Validate checa combinações impossíveis. Limites inválidos nas regras não são
// erro aqui: a classe correspondente rejeita tudo em tempo de execução.
func (c *Config) Validate() error {
	if c.Server.AdminAddr != "" && c.Server.AdminAddr == c.Server.ListenAddr {
		return errors.New("ADMIN_LISTEN_ADDR must differ from LISTEN_ADDR")
	}

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Store.Redis.Addr) == "" {
			return errors.New("REDIS_ADDR is required when STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown store backend %q (memory|redis)", c.Store.Backend)
	}

	switch c.Stats.Backend {
	case "none", "memory":
	case "redis":
		if strings.TrimSpace(c.StatsRedis().Addr) == "" {
			return errors.New("RATE_STATS_REDIS_ADDR (or REDIS_ADDR) is required when stats backend is redis")
		}
		if c.Stats.Bucket != "minute" && c.Stats.Bucket != "none" {
			return fmt.Errorf("unknown stats bucket %q (minute|none)", c.Stats.Bucket)
		}
	case "sqlite":
		if strings.TrimSpace(c.Stats.SQLite) == "" {
			return errors.New("RATE_STATS_SQLITE_PATH is required when stats backend is sqlite")
		}
	default:
		return fmt.Errorf("unknown stats backend %q (none|memory|redis|sqlite)", c.Stats.Backend)
	}

	if c.Concurrency.Max < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	// sem timeout a espera por vaga só termina quando o cliente desiste
	if c.Concurrency.Max > 0 && c.Concurrency.Timeout <= 0 {
		return errors.New("CONCURRENCY_TIMEOUT must be > 0 when CONCURRENCY_MAX is set")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("unknown log format %q (json|console)", c.Logging.Format)
	}

	for i, r := range c.RateLimit.Rules {
		if strings.TrimSpace(r.Class) == "" {
			return fmt.Errorf("rate_limit.rules[%d]: class is required", i)
		}
		for _, p := range r.Patterns {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("rate_limit.rules[%d]: pattern %q must start with /", i, p)
			}
		}
	}
	return nil
}

// ValidateProxy exige o que só o modo reverse proxy precisa.
func (c *Config) ValidateProxy() error {
	if strings.TrimSpace(c.Upstream.URL) == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	return nil
}
