package infra

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// MemoryWindowStore guarda os timestamps por chave em memória do processo.
//
// O mapa é particionado em shards (hash fnv da chave), cada um com seu mutex;
// Admit roda poda+verificação+append sob o lock do shard, então duas requisições
// da mesma chave nunca decidem sobre o mesmo estado.
//
// Limitações: não é compartilhado entre instâncias e um restart zera os contadores.
type MemoryWindowStore struct {
	shards []*windowShard
}

type windowShard struct {
	mu      sync.Mutex
	entries map[domain.Key]domain.Entry
}

type StoreOption func(*storeOptions)

type storeOptions struct {
	shards int
}

// WithShards define o número de partições (padrão 32).
func WithShards(n int) StoreOption {
	return func(o *storeOptions) { o.shards = n }
}

func NewMemoryWindowStore(opts ...StoreOption) *MemoryWindowStore {
	o := storeOptions{shards: 32}
	for _, opt := range opts {
		opt(&o)
	}
	if o.shards <= 0 {
		o.shards = 1
	}

	s := &MemoryWindowStore{shards: make([]*windowShard, o.shards)}
	for i := range s.shards {
		s.shards[i] = &windowShard{entries: make(map[domain.Key]domain.Entry)}
	}
	return s
}

func (s *MemoryWindowStore) shard(key domain.Key) *windowShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Get devolve uma cópia da entrada (o chamador pode alterá-la à vontade).
func (s *MemoryWindowStore) Get(_ context.Context, key domain.Key) (domain.Entry, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return domain.Entry{}, false, nil
	}
	ts := make([]int64, len(e.Timestamps))
	copy(ts, e.Timestamps)
	return domain.Entry{Timestamps: ts, Window: e.Window}, true, nil
}

func (s *MemoryWindowStore) Put(_ context.Context, key domain.Key, e domain.Entry) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e.Empty() {
		delete(sh.entries, key)
		return nil
	}
	sh.entries[key] = e
	return nil
}

// Admit implementa domain.AtomicWindowStore.
func (s *MemoryWindowStore) Admit(_ context.Context, key domain.Key, cfg domain.Config, now time.Time) (domain.Decision, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	dec, next := domain.Slide(sh.entries[key], cfg, now)
	if next.Empty() {
		delete(sh.entries, key)
	} else {
		sh.entries[key] = next
	}
	return dec, nil
}

// SweepExpired percorre todas as chaves, um shard por vez, podando pela janela
// registrada em cada entrada. O caminho de verificação só espera pelo shard em uso.
func (s *MemoryWindowStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			left := e.Expire(now)
			if left.Empty() {
				delete(sh.entries, k)
				removed++
				continue
			}
			if len(left.Timestamps) != len(e.Timestamps) {
				sh.entries[k] = left
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len retorna o total de chaves guardadas.
func (s *MemoryWindowStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

var _ domain.AtomicWindowStore = (*MemoryWindowStore)(nil)
