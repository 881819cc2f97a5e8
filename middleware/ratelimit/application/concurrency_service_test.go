package application

import (
	"context"
	"testing"
	"time"
)

// blockingPool nunca libera vaga: só retorna quando o ctx encerra.
type blockingPool struct{}

func (p *blockingPool) Acquire(ctx context.Context) (func(), bool) {
	<-ctx.Done()
	return nil, false
}

type countingPool struct {
	acquired int
	released int
}

func (p *countingPool) Acquire(ctx context.Context) (func(), bool) {
	p.acquired++
	return func() { p.released++ }, true
}

func TestConcurrencyService_Acquire_AllowsWhenNoPool(t *testing.T) {
	release, ok := ConcurrencyService{}.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected ok")
	}
	release()
}

func TestConcurrencyService_Acquire_GivesUpAfterTimeout(t *testing.T) {
	svc := ConcurrencyService{Pool: &blockingPool{}, AcquireTimeout: 10 * time.Millisecond}

	start := time.Now()
	_, ok := svc.Acquire(context.Background())
	if ok {
		t.Fatalf("expected timeout and ok=false")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("expected Acquire to return around the timeout")
	}
}

func TestConcurrencyService_Acquire_RespectsCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := ConcurrencyService{Pool: &blockingPool{}}.Acquire(ctx)
	if ok {
		t.Fatalf("expected ok=false for a cancelled request")
	}
}

func TestConcurrencyService_Acquire_ReleaseReachesPool(t *testing.T) {
	pool := &countingPool{}
	release, ok := ConcurrencyService{Pool: pool}.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected ok")
	}
	release()
	if pool.acquired != 1 || pool.released != 1 {
		t.Fatalf("expected one acquire and one release, got %d/%d", pool.acquired, pool.released)
	}
}
