package application

import (
	"context"
	"fmt"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store   domain.WindowStore
	Sweeper *Sweeper
	// FailClosed bloqueia quando o store falha (só acontece com store remoto).
	// O padrão é deixar passar: o limiter é controle de abuso, não cota de cobrança.
	FailClosed bool
	Now        func() time.Time
}

// Decide aplica a janela deslizante para `key`.
//
// A Decision é sempre utilizável, mesmo quando err != nil: configuração inválida
// vira bloqueio e falha de store segue FailClosed. O erro existe só para log.
func (s Service) Decide(ctx context.Context, key domain.Key, cfg domain.Config) (domain.Decision, error) {
	now := s.now()

	if s.Sweeper != nil {
		s.Sweeper.MaybeSweep(ctx, now)
	}

	if err := cfg.Validate(); err != nil {
		return domain.FailClosed(cfg), fmt.Errorf("decide %s: %w", key, err)
	}
	if s.Store == nil {
		return domain.Decision{Allowed: true}, nil
	}

	if as, ok := s.Store.(domain.AtomicWindowStore); ok {
		dec, err := as.Admit(ctx, key, cfg, now)
		if err != nil {
			return s.storeFailure(cfg), fmt.Errorf("admit %s: %w", key, err)
		}
		return dec, nil
	}

	// caminho não atômico: leitura, decisão e escrita separadas.
	entry, _, err := s.Store.Get(ctx, key)
	if err != nil {
		return s.storeFailure(cfg), fmt.Errorf("get %s: %w", key, err)
	}
	dec, next := domain.Slide(entry, cfg, now)
	if err := s.Store.Put(ctx, key, next); err != nil {
		return s.storeFailure(cfg), fmt.Errorf("put %s: %w", key, err)
	}
	return dec, nil
}

func (s Service) storeFailure(cfg domain.Config) domain.Decision {
	if s.FailClosed {
		return domain.FailClosed(cfg)
	}
	return domain.Decision{Allowed: true}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
