package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

// ChanPool é um semáforo baseado em channel.
type ChanPool struct {
	sem chan struct{}
}

// NewChanPool cria um pool com capacidade `max` (mínimo 1).
func NewChanPool(max int) *ChanPool {
	if max <= 0 {
		max = 1
	}
	return &ChanPool{sem: make(chan struct{}, max)}
}

// Acquire implementa domain.SlotPool. O release devolvido é idempotente:
// chamar duas vezes não libera uma vaga que pertence a outra request.
func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-p.sem }) }, true
	case <-ctx.Done():
		return nil, false
	}
}

// InUse retorna quantas vagas estão ocupadas agora.
func (p *ChanPool) InUse() int { return len(p.sem) }

// Cap retorna a capacidade total.
func (p *ChanPool) Cap() int { return cap(p.sem) }

var _ domain.SlotPool = (*ChanPool)(nil)
