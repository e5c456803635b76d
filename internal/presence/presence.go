package presence

import (
	"context"
	"log"
	"time"

	"omdchat/internal/cache"
	"omdchat/internal/errs"
)

const (
	onlineSetKey      = "online_users"
	presenceKeyPrefix = "presence:"
)

// Tracker 在线状态跟踪。每个在线账号持有一个带 TTL 的标记键，
// 由推送通道的心跳续期；客户端崩溃后标记自然过期，不会永远在线。
// online_users 集合只用于列表展示，判定以标记键为准。
type Tracker struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewTracker 创建在线状态跟踪器
func NewTracker(c cache.Cache, ttl time.Duration) *Tracker {
	return &Tracker{cache: c, ttl: ttl}
}

func presenceKey(accountID string) string {
	return presenceKeyPrefix + accountID
}

// MarkOnline 标记账号在线，登录成功时调用
func (t *Tracker) MarkOnline(ctx context.Context, accountID string) error {
	if err := t.cache.Set(ctx, presenceKey(accountID), "1", t.ttl); err != nil {
		return errs.TransientStore("写入在线标记失败", err)
	}
	if err := t.cache.SAdd(ctx, onlineSetKey, accountID); err != nil {
		return errs.TransientStore("更新在线集合失败", err)
	}
	log.Printf("账号 %s 已标记为在线", accountID)
	return nil
}

// Heartbeat 续期在线标记，由推送通道的 ping 触发。
// 标记已过期时重建，连接还在就视为在线。
func (t *Tracker) Heartbeat(ctx context.Context, accountID string) error {
	if err := t.cache.Set(ctx, presenceKey(accountID), "1", t.ttl); err != nil {
		return errs.TransientStore("续期在线标记失败", err)
	}
	return nil
}

// MarkOffline 标记账号离线，显式登出时调用
func (t *Tracker) MarkOffline(ctx context.Context, accountID string) error {
	if err := t.cache.Del(ctx, presenceKey(accountID)); err != nil {
		return errs.TransientStore("删除在线标记失败", err)
	}
	if err := t.cache.SRem(ctx, onlineSetKey, accountID); err != nil {
		return errs.TransientStore("更新在线集合失败", err)
	}
	log.Printf("账号 %s 已标记为离线", accountID)
	return nil
}

// IsOnline 判断账号是否可达，以 TTL 标记键为准
func (t *Tracker) IsOnline(ctx context.Context, accountID string) (bool, error) {
	ok, err := t.cache.Exists(ctx, presenceKey(accountID))
	if err != nil {
		return false, errs.TransientStore("读取在线标记失败", err)
	}
	return ok, nil
}

// OnlineAccounts 返回当前在线账号列表。集合中标记已过期的成员
// 顺手清理掉。
func (t *Tracker) OnlineAccounts(ctx context.Context) ([]string, error) {
	members, err := t.cache.SMembers(ctx, onlineSetKey)
	if err != nil {
		return nil, errs.TransientStore("读取在线集合失败", err)
	}

	var online []string
	for _, id := range members {
		ok, err := t.cache.Exists(ctx, presenceKey(id))
		if err != nil {
			return nil, errs.TransientStore("读取在线标记失败", err)
		}
		if ok {
			online = append(online, id)
			continue
		}
		if err := t.cache.SRem(ctx, onlineSetKey, id); err != nil {
			log.Printf("清理过期在线成员 %s 失败: %v", id, err)
		}
	}
	return online, nil
}
