package router

import (
	"log"
	"time"

	"omdchat/internal/chat"
	"omdchat/internal/config"
	"omdchat/internal/connection"
	"omdchat/internal/friend"
	"omdchat/internal/middleware"
	"omdchat/internal/presence"
	"omdchat/internal/session"
	"omdchat/internal/user"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// SetupRouter 配置所有路由
func SetupRouter(
	connMgr *connection.Manager,
	sessions *session.Store,
	tracker *presence.Tracker,
	accounts *user.AccountService,
	friends *friend.Service,
	messages *chat.Service,
) *gin.Engine {
	r := gin.Default()

	// CORS 配置
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// API请求日志中间件，带请求ID方便跟踪
	r.Use(func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("requestID", requestID)

		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)

		log.Printf("[%s] 请求: %s %s, 状态: %d, 延迟: %s",
			requestID, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), latency)
	})

	// 按IP限流
	rl := config.GlobalConfig.RateLimit
	r.Use(middleware.RateLimit(rate.Limit(rl.RPS), rl.Burst))

	userHandler := user.NewHandler(accounts)
	friendHandler := friend.NewHandler(friends, messages, tracker)
	chatHandler := chat.NewHandler(messages)

	// 公开路由
	public := r.Group("/api")
	{
		public.POST("/register", userHandler.Register)
		public.POST("/login", userHandler.Login)
	}

	// WebSocket 路由，令牌走查询参数，在处理器里校验
	r.GET("/api/ws", connection.WebSocketHandler(connMgr, sessions, tracker))

	// 需要认证的路由
	auth := r.Group("/api")
	auth.Use(middleware.Auth(sessions))
	{
		auth.POST("/logout", userHandler.Logout)
		auth.GET("/user/info", userHandler.GetUserInfo)
		auth.GET("/user/search", userHandler.SearchUsers)
		auth.POST("/user/password", userHandler.UpdatePassword)

		auth.GET("/friend/status", friendHandler.Status)
		auth.POST("/friend/request", friendHandler.Request)
		auth.POST("/friend/accept", friendHandler.Accept)
		auth.POST("/friend/reject", friendHandler.Reject)
		auth.POST("/friend/rerequest", friendHandler.ReRequest)
		auth.POST("/friend/block", friendHandler.Block)
		auth.POST("/friend/unblock", friendHandler.Unblock)
		auth.POST("/friend/delete", friendHandler.Delete)
		auth.GET("/friend/list", friendHandler.List)
		auth.GET("/friend/requests", friendHandler.Requests)
		auth.GET("/friend/online", friendHandler.Online)

		auth.POST("/messages", chatHandler.Send)
		auth.GET("/messages/unread", chatHandler.Unread)
		auth.GET("/messages/:peerId", chatHandler.History)
	}

	return r
}
