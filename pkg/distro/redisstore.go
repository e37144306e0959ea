package distro

import (
	"context"
	"encoding/json"

	"github.com/concordkv/concord/pkg/types"
	"github.com/go-redis/redis/v8"
)

// RedisStore backs ItemStore with a shared Redis instance, for a
// multi-process deployment where the AP set must survive a restart.
type RedisStore struct {
	client *redis.Client
	prefix string
	ctx    context.Context
}

// NewRedisStore creates a RedisStore over an existing client. prefix
// namespaces all keys (e.g. "concord:distro:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ctx: context.Background()}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Get(key string) (*types.DistroItem, bool) {
	data, err := s.client.Get(s.ctx, s.redisKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var item types.DistroItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, false
	}
	return &item, true
}

func (s *RedisStore) Put(item *types.DistroItem) bool {
	existing, ok := s.Get(item.Key)
	if ok && !item.Supersedes(existing) {
		return false
	}

	data, err := json.Marshal(item)
	if err != nil {
		return false
	}
	if err := s.client.Set(s.ctx, s.redisKey(item.Key), data, 0).Err(); err != nil {
		return false
	}
	return true
}

func (s *RedisStore) List() []*types.DistroItem {
	keys, err := s.client.Keys(s.ctx, s.prefix+"*").Result()
	if err != nil {
		return nil
	}

	out := make([]*types.DistroItem, 0, len(keys))
	for _, k := range keys {
		data, err := s.client.Get(s.ctx, k).Bytes()
		if err != nil {
			continue
		}
		var item types.DistroItem
		if err := json.Unmarshal(data, &item); err != nil {
			continue
		}
		out = append(out, &item)
	}
	return out
}

func (s *RedisStore) Delete(key string) {
	s.client.Del(s.ctx, s.redisKey(key))
}
