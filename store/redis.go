package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// 键前缀，避免与同一 Redis 实例上的其他应用冲突
const redisKeyPrefix = "tradedeck:state:"

// RedisStore Redis 状态存储（多实例部署时使用）
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 创建 Redis 状态存储
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get 读取键值
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set 写入键值（状态永久保留，不设置过期时间）
func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err()
}

// Delete 删除键
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKeyPrefix+key).Err()
}

// Close 关闭 Redis 连接
func (r *RedisStore) Close() error {
	return r.client.Close()
}
