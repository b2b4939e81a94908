package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a short-lived cache of handled keys. It only short-circuits repeat
// work; the durable record in Postgres stays the source of truth.
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(namespace, id string) string {
	return "idem:" + namespace + ":" + id
}

func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Remember(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}
