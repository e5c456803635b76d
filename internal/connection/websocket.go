package connection

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// controlFrame 客户端发来的控制消息，目前只有心跳
type controlFrame struct {
	Type string `json:"type"`
}

// WebSocketConnection 基于 WebSocket 的推送连接实现
type WebSocketConnection struct {
	conn      *websocket.Conn
	accountID string
	send      chan []byte
	done      chan struct{}
}

// NewWebSocketConnection 创建 WebSocket 连接
func NewWebSocketConnection(conn *websocket.Conn, accountID string) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		accountID: accountID,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
	}
}

// Send 把负载排入发送队列。推送是尽力而为：缓冲满直接报错而不是阻塞。
func (c *WebSocketConnection) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrConnectionBufferFull
	}
}

// Close 关闭连接
func (c *WebSocketConnection) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.conn.Close()
}

// AccountID 连接所属账号
func (c *WebSocketConnection) AccountID() string {
	return c.accountID
}

// Done 连接关闭信号
func (c *WebSocketConnection) Done() <-chan struct{} {
	return c.done
}

// StartReading 读取循环。客户端的 ping（JSON 或 ping 帧）触发
// heartbeat 回调，在线标记靠它续期；连接断开后标记自然过期。
func (c *WebSocketConnection) StartReading(heartbeat func()) {
	defer c.Close()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongWait))
		heartbeat()
		return nil
	})

	log.Printf("账号 %s 的推送连接已建立", c.accountID)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("账号 %s 的推送连接读取错误: %v", c.accountID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(PongWait))

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type == "ping" {
			heartbeat()
			pong, _ := json.Marshal(controlFrame{Type: "pong"})
			if err := c.Send(pong); err != nil {
				log.Printf("账号 %s 回复pong失败: %v", c.accountID, err)
			}
		}
	}
}

// StartWriting 写入循环，定期发送 ping 帧保持连接
func (c *WebSocketConnection) StartWriting() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("账号 %s 的推送写入失败: %v", c.accountID, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
