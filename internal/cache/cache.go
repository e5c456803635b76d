package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"omdchat/internal/config"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("cache: key not found")

// Cache 外部键值存储的抽象，会话与在线状态都通过它协调
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
}

// Message 订阅收到的一条消息
type Message struct {
	Channel string
	Payload string
}

// PubSub 推送通道的发布/订阅抽象
type PubSub interface {
	Publish(ctx context.Context, channel, payload string) error
	// Subscribe 返回消息通道和取消函数，取消后通道关闭
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// New 根据配置创建缓存与发布订阅。
// 配置了 Redis 地址时使用 Redis，否则回退到进程内实现（单实例部署和测试）。
func New(cfg *config.Config) (Cache, PubSub, error) {
	if cfg.Redis.Host != "" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		rc, err := NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return rc, rc, nil
	}
	local := NewLocalCache()
	return local, NewLocalPubSub(0), nil
}
