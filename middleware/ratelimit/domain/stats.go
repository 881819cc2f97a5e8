package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Method/Path são strings genéricas (não dependem de net/http).
//
// Observação: cuidado com cardinalidade. Key carrega id de usuário ou IP;
// salvar por chave sem controle pode explodir o número de séries/chaves.
type StatsEvent struct {
	Key     Key
	Class   Class
	Allowed bool

	Method string
	Path   string

	// Route é o padrão da regra que casou (ex: "/api/drafts/{draftID}/assistant").
	// Preferir Route a Path ao agregar: Path vem do cliente e não tem limite.
	Route string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// Implementações podem armazenar em Redis, SQLite, memória, etc.
// O limiter trata erro como best-effort (não derruba a request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
