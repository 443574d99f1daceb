package oauthstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(state string) string {
	return fmt.Sprintf("%s:oauth:state:%s", s.prefix, state)
}

func (s *RedisStore) Save(ctx context.Context, pending PendingAuth, ttl time.Duration) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(pending.State), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Consume uses GETDEL so two callbacks racing on one state cannot both succeed.
func (s *RedisStore) Consume(ctx context.Context, state string) (*PendingAuth, error) {
	raw, err := s.client.GetDel(ctx, s.key(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUnknownState
		}
		return nil, fmt.Errorf("consume state: %w", err)
	}

	var pending PendingAuth
	if err := json.Unmarshal(raw, &pending); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &pending, nil
}
