package redis

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"offline-contest/internal/domain"

	"github.com/redis/go-redis/v9"
)

// KVStore is a Redis-backed implementation of storage.Store. Keys are
// written under a namespace prefix so several devices can share one Redis.
// A positive ttl expires records (with up to 10% jitter to spread
// expirations); zero keeps them until removed.
type KVStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewKVStore(client *redis.Client, namespace string, ttl time.Duration) *KVStore {
	return &KVStore{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.key(key), value, s.ttlWithJitter()).Err()
}

func (s *KVStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, key := range keys {
		full = append(full, s.key(key))
	}
	return s.client.Del(ctx, full...).Err()
}

func (s *KVStore) key(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

func (s *KVStore) ttlWithJitter() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	jitterMax := int64(s.ttl) / 10
	return s.ttl + time.Duration(s.rnd.Int63n(jitterMax+1))
}
