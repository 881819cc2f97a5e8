package domain

import (
	"context"
	"time"
)

// WindowStore guarda uma Entry por chave.
//
// Implementações devem ser seguras para uso concorrente. Get/Put isolados não são
// atômicos entre si: duas requisições simultâneas da mesma chave podem ler o mesmo
// estado e ambas serem admitidas. Stores que conseguem fechar essa corrida
// implementam AtomicWindowStore.
type WindowStore interface {
	Get(ctx context.Context, key Key) (Entry, bool, error)
	Put(ctx context.Context, key Key, e Entry) error
	// SweepExpired poda todas as chaves e remove as que ficaram vazias.
	// Retorna quantas chaves foram removidas.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// AtomicWindowStore executa poda+verificação+append como uma única operação por chave.
type AtomicWindowStore interface {
	WindowStore
	Admit(ctx context.Context, key Key, cfg Config, now time.Time) (Decision, error)
}
