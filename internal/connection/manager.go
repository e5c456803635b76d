package connection

import (
	"context"
	"log"
	"sync"

	"omdchat/internal/cache"
	"omdchat/internal/chat"

	"github.com/google/uuid"
)

// accountSubscription 某个账号的推送订阅和它的本地连接
type accountSubscription struct {
	conns  map[string]Connection
	cancel func()
}

// Manager 连接管理器。每个账号第一条连接建立时订阅它的推送通道，
// 订阅收到的负载转发给该账号的全部本地连接；最后一条连接断开时
// 退订。跨实例的投递由发布订阅层（Redis）完成。
type Manager struct {
	mu       sync.RWMutex
	accounts map[string]*accountSubscription
	pubsub   cache.PubSub
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewManager 创建连接管理器
func NewManager(ctx context.Context, ps cache.PubSub) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		accounts: make(map[string]*accountSubscription),
		pubsub:   ps,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register 注册一条连接，返回连接ID
func (m *Manager) Register(conn Connection) (string, error) {
	accountID := conn.AccountID()
	connID := uuid.New().String()

	m.mu.Lock()
	sub, ok := m.accounts[accountID]
	if ok {
		sub.conns[connID] = conn
		m.mu.Unlock()
		return connID, nil
	}

	sub = &accountSubscription{conns: map[string]Connection{connID: conn}}
	m.accounts[accountID] = sub
	m.mu.Unlock()

	ch, cancel, err := m.pubsub.Subscribe(m.ctx, chat.ChannelFor(accountID))
	if err != nil {
		m.mu.Lock()
		delete(m.accounts, accountID)
		m.mu.Unlock()
		return "", err
	}
	sub.cancel = cancel

	go m.forward(accountID, ch)

	log.Printf("账号 %s 的推送通道已订阅", accountID)
	return connID, nil
}

// forward 把订阅收到的负载转发给账号的所有本地连接
func (m *Manager) forward(accountID string, ch <-chan *cache.Message) {
	for msg := range ch {
		m.mu.RLock()
		sub, ok := m.accounts[accountID]
		var conns []Connection
		if ok {
			conns = make([]Connection, 0, len(sub.conns))
			for _, c := range sub.conns {
				conns = append(conns, c)
			}
		}
		m.mu.RUnlock()

		for _, c := range conns {
			if err := c.Send([]byte(msg.Payload)); err != nil {
				// 推送尽力而为，单条连接投递失败只记录
				log.Printf("向账号 %s 的连接推送失败: %v", accountID, err)
			}
		}
	}
}

// Unregister 注销一条连接，账号的最后一条连接断开时退订推送通道
func (m *Manager) Unregister(accountID, connID string) {
	m.mu.Lock()
	sub, ok := m.accounts[accountID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(sub.conns, connID)
	var cancel func()
	if len(sub.conns) == 0 {
		cancel = sub.cancel
		delete(m.accounts, accountID)
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		log.Printf("账号 %s 的推送通道已退订", accountID)
	}
}

// Close 关闭管理器，断开所有连接并退订
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	accounts := m.accounts
	m.accounts = make(map[string]*accountSubscription)
	m.mu.Unlock()

	for _, sub := range accounts {
		if sub.cancel != nil {
			sub.cancel()
		}
		for _, c := range sub.conns {
			c.Close()
		}
	}
	return nil
}
