package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

// casLua implements domain.KVStore.CompareAndSet: set KEYS[1] to ARGV[2]
// only if its current value equals ARGV[1], or if ARGV[1] is empty and the
// key is absent.
const casLua = `
local cur = redis.call('GET', KEYS[1])
if cur == false then
    if ARGV[1] ~= '' then
        return 0
    end
    redis.call('SET', KEYS[1], ARGV[2])
    return 1
end
if cur == ARGV[1] then
    redis.call('SET', KEYS[1], ARGV[2])
    return 1
end
return 0
`

// KVStore implements domain.KVStore using Redis, backing the durable
// CapitalLedger of spec.md §4.4.
type KVStore struct {
	rdb    *goredis.Client
	casSc  *goredis.Script
}

// NewKVStore creates a KVStore backed by the given Client.
func NewKVStore(c *Client) *KVStore {
	return &KVStore{rdb: c.Underlying(), casSc: goredis.NewScript(casLua)}
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) CompareAndSet(ctx context.Context, key, oldValue, newValue string) (bool, error) {
	res, err := s.casSc.Run(ctx, s.rdb, []string{key}, oldValue, newValue).Int()
	if err != nil {
		return false, fmt.Errorf("redis: cas %s: %w", key, err)
	}
	return res == 1, nil
}

func (s *KVStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := s.rdb.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: incrby %s: %w", key, err)
	}
	return v, nil
}

func (s *KVStore) HashGetAll(ctx context.Context, key string) (map[string]string, bool, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: hgetall %s: %w", key, err)
	}
	if len(m) == 0 {
		return nil, false, nil
	}
	return m, true, nil
}

func (s *KVStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := s.rdb.HSet(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("redis: hset %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan %s: %w", pattern, err)
	}
	return out, nil
}

var _ domain.KVStore = (*KVStore)(nil)
