package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tradedeck/config"
)

// Store 键值状态存储接口
// 保存通知水位线等需要跨重启保留的小状态
type Store interface {
	// Get 读取键值，第二个返回值表示键是否存在
	Get(ctx context.Context, key string) (string, bool, error)
	// Set 写入键值（存在则覆盖）
	Set(ctx context.Context, key, value string) error
	// Delete 删除键（不存在时为空操作）
	Delete(ctx context.Context, key string) error
	// Close 释放底层资源
	Close() error
}

// NewStateStore 根据配置创建状态存储实例
func NewStateStore(cfg *config.Config) (Store, error) {
	switch cfg.StateStore.Type {
	case "database":
		return NewGormStore(&GormConfig{
			Type:            cfg.Database.Type,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
			LogLevel:        cfg.Database.LogLevel,
		})

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.StateStore.Redis.Addr,
			Password: cfg.StateStore.Redis.Password,
			DB:       cfg.StateStore.Redis.DB,
			PoolSize: cfg.StateStore.Redis.PoolSize,
		})
		return NewRedisStore(client), nil

	case "memory":
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("不支持的状态存储类型: %s", cfg.StateStore.Type)
	}
}
