package infra

import (
	"context"
	"strings"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// DefaultMaxEntries limita os mapas por rota e por chave.
const DefaultMaxEntries = 1024

// OverflowBucket recebe as contagens de entradas novas depois do limite.
const OverflowBucket = "other"

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes, desenvolvimento e para o endpoint /_gate/stats.
//
// Não faz expiração: por isso rotas e chaves têm teto (WithMaxEntries) e o
// excedente vai para OverflowBucket. Contagem por chave (usuário/IP) só com WithTrackKeys.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byClass map[domain.Class]Counters
	byKey   map[string]Counters

	trackKeys  bool
	maxEntries int
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// WithMaxEntries define o teto de cada mapa (n <= 0 mantém DefaultMaxEntries).
func WithMaxEntries(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute:    make(map[string]Counters),
		byClass:    make(map[domain.Class]Counters),
		byKey:      make(map[string]Counters),
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := routeLabel(ev)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)
	s.bump(s.byRoute, route, ev.Allowed)

	cc := s.byClass[ev.Class]
	cc.add(ev.Allowed)
	s.byClass[ev.Class] = cc

	if s.trackKeys {
		s.bump(s.byKey, string(ev.Key), ev.Allowed)
	}
	return nil
}

// bump incrementa m[k]; chave nova com o mapa cheio conta em OverflowBucket.
func (s *MemoryStatsStore) bump(m map[string]Counters, k string, allowed bool) {
	if _, ok := m[k]; !ok && len(m) >= s.maxEntries {
		k = OverflowBucket
	}
	c := m[k]
	c.add(allowed)
	m[k] = c
}

// routeLabel usa o padrão da regra quando disponível; Path é o fallback.
func routeLabel(ev domain.StatsEvent) string {
	route := ev.Route
	if route == "" {
		route = ev.Path
	}
	return strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + route)
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byRoute)
}

func (s *MemoryStatsStore) ByClass() map[domain.Class]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byClass)
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byKey)
}

// StatsSnapshot é o formato JSON exposto pelo gateway.
type StatsSnapshot struct {
	Total   Counters                  `json:"total"`
	ByClass map[domain.Class]Counters `json:"by_class"`
	ByRoute map[string]Counters       `json:"by_route"`
	ByKey   map[string]Counters       `json:"by_key,omitempty"`
}

func (s *MemoryStatsStore) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatsSnapshot{
		Total:   s.total,
		ByClass: copyCounters(s.byClass),
		ByRoute: copyCounters(s.byRoute),
	}
	if s.trackKeys {
		snap.ByKey = copyCounters(s.byKey)
	}
	return snap
}

func copyCounters[K comparable](in map[K]Counters) map[K]Counters {
	out := make(map[K]Counters, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
