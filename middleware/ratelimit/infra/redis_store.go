package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisWindowStore guarda a janela de cada chave em um sorted set (score = unix ms),
// compartilhado por todas as instâncias do gateway.
//
// Admit roda como um único script Lua, então o limite é global e sem corrida
// entre instâncias, inclusive em Redis Cluster. Cada chave tem um hash irmão ":meta"
// com o contador de sequência (membros únicos para timestamps iguais) e a janela usada.
// As chaves expiram sozinhas (PEXPIRE = janela + 1s); SweepExpired não precisa fazer nada.
type RedisWindowStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisStoreOption func(*RedisWindowStore)

func WithWindowPrefix(prefix string) RedisStoreOption {
	return func(s *RedisWindowStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func NewRedisWindowStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisWindowStore {
	s := &RedisWindowStore{rdb: rdb, prefix: "ratelimit:window"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// keys monta o par de chaves do script. A hash tag "{key}" coloca as duas no
// mesmo slot, exigido pelo Redis Cluster para scripts com várias chaves.
func (s *RedisWindowStore) keys(key domain.Key) (set, meta string) {
	set = s.prefix + ":{" + string(key) + "}"
	return set, set + ":meta"
}

// KEYS[1] = sorted set, KEYS[2] = meta hash
// ARGV = max_requests, window_ms, now_ms
// retorno: {allowed, retry_after_ms}
var admitScript = redis.NewScript(`
local key = KEYS[1]
local meta = KEYS[2]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", "(" .. (now_ms - window_ms))
local count = redis.call("ZCARD", key)

if count >= limit then
	local retry = window_ms
	local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
	if oldest[2] ~= nil then
		retry = tonumber(oldest[2]) + window_ms - now_ms
	end
	return {0, retry}
end

local seq = redis.call("HINCRBY", meta, "seq", 1)
redis.call("HSET", meta, "window_ms", window_ms)
redis.call("ZADD", key, now_ms, now_ms .. ":" .. seq)
redis.call("PEXPIRE", key, window_ms + 1000)
redis.call("PEXPIRE", meta, window_ms + 1000)
return {1, 0}
`)

// Admit implementa domain.AtomicWindowStore.
func (s *RedisWindowStore) Admit(ctx context.Context, key domain.Key, cfg domain.Config, now time.Time) (domain.Decision, error) {
	if err := cfg.Validate(); err != nil {
		return domain.FailClosed(cfg), err
	}
	set, meta := s.keys(key)
	res, err := admitScript.Run(ctx, s.rdb, []string{set, meta},
		cfg.MaxRequests, cfg.Window.Milliseconds(), now.UnixMilli()).Int64Slice()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("redis admit: %w", err)
	}
	if len(res) < 2 {
		return domain.Decision{}, fmt.Errorf("redis admit: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return domain.Decision{Allowed: true}, nil
	}
	return domain.Decision{Allowed: false, RetryAfter: time.Duration(res[1]) * time.Millisecond}, nil
}

func (s *RedisWindowStore) Get(ctx context.Context, key domain.Key) (domain.Entry, bool, error) {
	set, meta := s.keys(key)

	pipe := s.rdb.Pipeline()
	zs := pipe.ZRangeWithScores(ctx, set, 0, -1)
	win := pipe.HGet(ctx, meta, "window_ms")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.Entry{}, false, fmt.Errorf("redis get: %w", err)
	}

	members := zs.Val()
	if len(members) == 0 {
		return domain.Entry{}, false, nil
	}
	e := domain.Entry{Timestamps: make([]int64, 0, len(members))}
	for _, z := range members {
		e.Timestamps = append(e.Timestamps, int64(z.Score))
	}
	if ms, err := strconv.ParseInt(win.Val(), 10, 64); err == nil {
		e.Window = time.Duration(ms) * time.Millisecond
	}
	return e, true, nil
}

// Put substitui a entrada inteira (não é atômico com Get; use Admit no caminho quente).
func (s *RedisWindowStore) Put(ctx context.Context, key domain.Key, e domain.Entry) error {
	set, meta := s.keys(key)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, set)
		if e.Empty() {
			pipe.Del(ctx, meta)
			return nil
		}
		members := make([]redis.Z, 0, len(e.Timestamps))
		for i, ts := range e.Timestamps {
			members = append(members, redis.Z{Score: float64(ts), Member: strconv.FormatInt(ts, 10) + ":p" + strconv.Itoa(i)})
		}
		pipe.ZAdd(ctx, set, members...)
		pipe.HSet(ctx, meta, "window_ms", e.Window.Milliseconds())
		if e.Window > 0 {
			ttl := e.Window + time.Second
			pipe.PExpire(ctx, set, ttl)
			pipe.PExpire(ctx, meta, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// SweepExpired não faz nada: o Redis expira as chaves pelo PEXPIRE.
func (s *RedisWindowStore) SweepExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

var _ domain.AtomicWindowStore = (*RedisWindowStore)(nil)
