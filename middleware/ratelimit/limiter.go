package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval é o intervalo mínimo entre varreduras globais do store.
const DefaultSweepInterval = 60 * time.Second

// Observer recebe contadores para métricas. Opcional.
type Observer interface {
	ObserveAdmission(class string, allowed bool)
	ObserveSweep(removed, keys int)
}

type LimiterOptions struct {
	Rules *Classifier        // nil: DefaultRules
	Store domain.WindowStore // nil: MemoryWindowStore
	Stats domain.StatsStore
	KeyFn KeyFunc // nil: DefaultKeyFunc(FallbackToRemoteAddr)

	// FallbackToRemoteAddr usa o endereço da conexão antes de "unknown".
	FallbackToRemoteAddr bool
	// SweepInterval: 0 usa DefaultSweepInterval; negativo desliga a varredura.
	SweepInterval time.Duration
	FailClosed    bool

	Now      func() time.Time
	Logger   zerolog.Logger
	Observer Observer
}

// Limiter é o RateLimiter: classify(request) e check(key, config).
type Limiter struct {
	rules    *Classifier
	svc      application.Service
	stats    domain.StatsStore
	keyFn    KeyFunc
	logger   zerolog.Logger
	observer Observer
	now      func() time.Time
}

func NewLimiter(opts LimiterOptions) *Limiter {
	if opts.Rules == nil {
		// DefaultRules sempre compila.
		opts.Rules, _ = NewClassifier(nil)
	}
	if opts.Store == nil {
		opts.Store = infra.NewMemoryWindowStore()
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.FallbackToRemoteAddr)
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}

	l := &Limiter{
		rules:    opts.Rules,
		stats:    opts.Stats,
		keyFn:    opts.KeyFn,
		logger:   opts.Logger,
		observer: opts.Observer,
		now:      opts.Now,
	}
	if l.now == nil {
		l.now = time.Now
	}

	var sweeper *application.Sweeper
	if opts.SweepInterval > 0 {
		sweeper = application.NewSweeper(opts.Store, opts.SweepInterval)
		sweeper.OnSweep = l.onSweep(opts.Store)
	}
	l.svc = application.Service{
		Store:      opts.Store,
		Sweeper:    sweeper,
		FailClosed: opts.FailClosed,
		Now:        opts.Now,
	}
	return l
}

func (l *Limiter) onSweep(store domain.WindowStore) func(int, error) {
	sized, _ := store.(interface{ Len() int })
	return func(removed int, err error) {
		if err != nil {
			l.logger.Warn().Err(err).Msg("rate limit sweep failed")
			return
		}
		keys := -1
		if sized != nil {
			keys = sized.Len()
		}
		l.logger.Debug().Int("removed", removed).Int("keys", keys).Msg("rate limit sweep")
		if l.observer != nil {
			l.observer.ObserveSweep(removed, keys)
		}
	}
}

// Rules expõe o classificador (para troca da tabela em hot reload).
func (l *Limiter) Rules() *Classifier { return l.rules }

// Classify deriva chave e configuração a partir da request.
func (l *Limiter) Classify(r *http.Request) Classification {
	kind, id := l.keyFn(r)
	return l.rules.Classify(r.Method, r.URL.Path, kind, id)
}

// Check aplica a janela deslizante. Nunca falha: erros viram decisão + log.
func (l *Limiter) Check(ctx context.Context, key domain.Key, cfg domain.Config) domain.Decision {
	dec, err := l.svc.Decide(ctx, key, cfg)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfig) {
			l.logger.Warn().Err(err).Str("key", string(key)).Msg("rate limit class misconfigured, rejecting")
		} else {
			l.logger.Warn().Err(err).Str("key", string(key)).Bool("allowed", dec.Allowed).Msg("rate limit store failed")
		}
	}
	return dec
}

// Admit faz classify + check e registra a decisão (estatísticas/métricas).
func (l *Limiter) Admit(r *http.Request) (Classification, domain.Decision) {
	c := l.Classify(r)
	dec := l.Check(r.Context(), c.Key, c.Config)

	if l.observer != nil {
		l.observer.ObserveAdmission(string(c.Class), dec.Allowed)
	}
	if l.stats != nil {
		err := l.stats.Record(r.Context(), domain.StatsEvent{
			Key:     c.Key,
			Class:   c.Class,
			Allowed: dec.Allowed,
			Method:  r.Method,
			Path:    r.URL.Path,
			Route:   c.Route,
			At:      l.now(),
		})
		if err != nil {
			l.logger.Debug().Err(err).Msg("rate limit stats record failed")
		}
	}
	if !dec.Allowed {
		l.logger.Debug().
			Str("class", string(c.Class)).
			Str("key", string(c.Key)).
			Int("retry_after", dec.RetryAfterSeconds()).
			Msg("rate limited")
	}
	return c, dec
}
