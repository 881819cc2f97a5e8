package application

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// Sweeper dispara a varredura global do store no caminho da requisição,
// no máximo uma vez por Interval (tempo real). Não usa goroutine própria.
type Sweeper struct {
	store    domain.WindowStore
	interval time.Duration
	every    rate.Sometimes

	// OnSweep é chamado após cada varredura (métricas/log). Opcional.
	OnSweep func(removed int, err error)
}

func NewSweeper(store domain.WindowStore, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		every:    rate.Sometimes{Interval: interval},
	}
}

// MaybeSweep executa a varredura se o intervalo já passou desde a última.
// A primeira chamada sempre varre. Interval <= 0 desliga a varredura.
func (s *Sweeper) MaybeSweep(ctx context.Context, now time.Time) (ran bool) {
	if s == nil || s.store == nil || s.interval <= 0 {
		return false
	}
	s.every.Do(func() {
		ran = true
		removed, err := s.store.SweepExpired(ctx, now)
		if s.OnSweep != nil {
			s.OnSweep(removed, err)
		}
	})
	return ran
}
