package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/pkg/tool"
)

// MemoryStore keeps attempt logs in process memory. Suitable for a single
// instance and for tests.
type MemoryStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hits: make(map[string][]time.Time)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	kept := s.hits[key][:0]
	for _, at := range s.hits[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	w := &Window{Allowed: len(kept) < limit}
	if w.Allowed {
		kept = append(kept, now)
	}
	if len(kept) == 0 {
		delete(s.hits, key)
	} else {
		s.hits[key] = kept
		w.Oldest = kept[0]
	}
	w.Count = len(kept)
	return w, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hits, key)
	return nil
}

// Size is the number of identities currently tracked.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

// hitScript prunes, checks and records in one round trip. Scores are unix ms.
var hitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  count = count + 1
  allowed = 1
end
local oldest = 0
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RedisStore shares attempt logs across instances through sorted sets.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fanpass:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (*Window, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, tool.GenerateULID(now)).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected script reply %v", res)
	}
	w := &Window{Allowed: res[0] == 1, Count: int(res[1])}
	if res[2] > 0 {
		w.Oldest = time.UnixMilli(res[2])
	}
	return w, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// NewStore prefers Redis when a client is configured.
func NewStore(client *redis.Client, log *zap.SugaredLogger) Store {
	if client == nil {
		log.Infow("rate limits kept in process memory")
		return NewMemoryStore()
	}
	return NewRedisStore(client, "")
}

var Module = fx.Options(
	fx.Provide(NewStore),
)
