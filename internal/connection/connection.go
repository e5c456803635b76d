package connection

import (
	"fmt"
	"time"
)

// Connection 一条到客户端的推送连接
type Connection interface {
	// Send 向客户端推送一段负载，缓冲满或连接已关闭时返回错误
	Send(payload []byte) error

	// Close 关闭连接
	Close() error

	// AccountID 连接所属账号
	AccountID() string

	// Done 连接关闭信号
	Done() <-chan struct{}
}

// 连接超时与心跳参数
const (
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 10000
)

// ErrConnectionBufferFull 发送缓冲区已满
var ErrConnectionBufferFull = fmt.Errorf("发送缓冲区已满")

// ErrConnectionClosed 连接已关闭
var ErrConnectionClosed = fmt.Errorf("连接已关闭")
