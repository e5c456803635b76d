package cache

import (
	"context"
	"sync"
	"time"
)

// localEntry 带过期时间的值
type localEntry struct {
	data     string
	expireAt time.Time
	noExpiry bool
}

func (e *localEntry) expired() bool {
	return !e.noExpiry && time.Now().After(e.expireAt)
}

// LocalCache 进程内缓存实现，语义与 Redis 实现一致。
// 过期键在读取时惰性删除，不依赖后台清理。
type LocalCache struct {
	mu   sync.RWMutex
	kv   map[string]*localEntry
	sets map[string]map[string]struct{}
}

// NewLocalCache 创建进程内缓存
func NewLocalCache() *LocalCache {
	return &LocalCache{
		kv:   make(map[string]*localEntry),
		sets: make(map[string]map[string]struct{}),
	}
}

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	if e.expired() {
		delete(c.kv, key)
		return "", ErrNotFound
	}
	return e.data, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := &localEntry{data: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	} else {
		e.noExpiry = true
	}
	c.mu.Lock()
	c.kv[key] = e
	c.mu.Unlock()
	return nil
}

func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.kv, k)
	}
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.kv[key]
	if !ok {
		return false, nil
	}
	if e.expired() {
		delete(c.kv, key)
		return false, nil
	}
	return true, nil
}

func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.kv[key]
	if !ok || e.expired() {
		delete(c.kv, key)
		return ErrNotFound
	}
	c.kv[key] = &localEntry{data: e.data, expireAt: time.Now().Add(ttl)}
	return nil
}

func (c *LocalCache) SAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sets[key]
	if !ok {
		s = make(map[string]struct{})
		c.sets[key] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (c *LocalCache) SRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(s, m)
	}
	return nil
}

func (c *LocalCache) SMembers(_ context.Context, key string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.sets[key]
	result := make([]string, 0, len(s))
	for m := range s {
		result = append(result, m)
	}
	return result, nil
}

func (c *LocalCache) SIsMember(_ context.Context, key, member string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sets[key][member]
	return ok, nil
}

// localSubscriber 单个订阅者的接收端
type localSubscriber struct {
	ch chan *Message
}

// LocalPubSub 进程内发布订阅实现
type LocalPubSub struct {
	mu          sync.RWMutex
	subscribers map[string][]*localSubscriber
	bufSize     int
}

// NewLocalPubSub 创建进程内发布订阅，bufSize <= 0 时使用默认缓冲
func NewLocalPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subscribers: make(map[string][]*localSubscriber),
		bufSize:     bufSize,
	}
}

func (ps *LocalPubSub) Publish(_ context.Context, channel, payload string) error {
	msg := &Message{Channel: channel, Payload: payload}
	ps.mu.RLock()
	subs := ps.subscribers[channel]
	ps.mu.RUnlock()
	for _, s := range subs {
		select {
		case s.ch <- msg:
		default:
			// 缓冲满时丢弃，推送本身就是尽力而为
		}
	}
	return nil
}

func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *Message, func(), error) {
	ch := make(chan *Message, ps.bufSize)
	subs := make([]*localSubscriber, len(channels))

	ps.mu.Lock()
	for i, c := range channels {
		s := &localSubscriber{ch: ch}
		ps.subscribers[c] = append(ps.subscribers[c], s)
		subs[i] = s
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ps.mu.Lock()
			defer ps.mu.Unlock()
			for i, c := range channels {
				list := ps.subscribers[c]
				for j, sub := range list {
					if sub == subs[i] {
						ps.subscribers[c] = append(list[:j], list[j+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}

	return ch, cancel, nil
}
