package connection

import (
	"log"
	"net/http"

	"omdchat/internal/errs"
	"omdchat/internal/presence"
	"omdchat/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 生产环境应收紧来源校验
	},
}

// WebSocketHandler 推送端点。令牌通过查询参数传入（浏览器的
// WebSocket 不支持自定义请求头），认证通过后注册连接并启动读写泵。
func WebSocketHandler(mgr *Manager, sessions *session.Store, tracker *presence.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "未提供认证token"})
			return
		}

		accountID, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("升级WebSocket连接失败: %v", err)
			return
		}

		conn := NewWebSocketConnection(ws, accountID)
		connID, err := mgr.Register(conn)
		if err != nil {
			log.Printf("注册账号 %s 的连接失败: %v", accountID, err)
			conn.Close()
			return
		}

		// 建连视作一次心跳
		heartbeat := func() {
			if err := tracker.Heartbeat(c.Request.Context(), accountID); err != nil {
				log.Printf("账号 %s 心跳续期失败: %v", accountID, err)
			}
		}
		heartbeat()

		go conn.StartWriting()
		conn.StartReading(heartbeat)

		mgr.Unregister(accountID, connID)
	}
}
