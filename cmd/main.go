package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"omdchat/internal/cache"
	"omdchat/internal/chat"
	"omdchat/internal/config"
	"omdchat/internal/connection"
	"omdchat/internal/database"
	"omdchat/internal/friend"
	"omdchat/internal/presence"
	"omdchat/internal/router"
	"omdchat/internal/session"
	"omdchat/internal/user"
)

func main() {
	// 读取配置
	if err := config.Init(); err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	cfg := config.GlobalConfig

	// 初始化数据库
	db, err := database.InitDB()
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取数据库连接失败: %v", err)
	}
	defer sqlDB.Close()

	log.Println("数据库初始化成功")

	// 初始化缓存，未配置 Redis 时退化为进程内实现
	store, pubsub, err := cache.New(cfg)
	if err != nil {
		log.Fatalf("初始化缓存失败: %v", err)
	}
	if cfg.Redis.Host != "" {
		log.Printf("Redis 初始化成功: %s:%d", cfg.Redis.Host, cfg.Redis.Port)
	} else {
		log.Println("未配置 Redis，使用进程内缓存")
	}

	// 组装各个服务
	sessions := session.NewStore(store, cfg.JWT.Secret, time.Duration(cfg.JWT.Expire)*time.Hour)
	tracker := presence.NewTracker(store, time.Duration(cfg.Presence.TTL)*time.Second)
	accounts := user.NewAccountService(db, sessions, tracker)
	friends := friend.NewService(db)
	messages := chat.NewService(db, pubsub, tracker, friends)

	// 启动连接管理器
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	connMgr := connection.NewManager(ctx, pubsub)
	defer connMgr.Close()

	// 设置 Gin 路由
	r := router.SetupRouter(connMgr, sessions, tracker, accounts, friends, messages)

	// 启动 HTTP 服务器
	port := cfg.Server.Port
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: r,
	}
	go func() {
		log.Printf("HTTP服务器已启动，监听端口 %d", port)
		log.Printf("WebSocket 地址: ws://localhost:%d/api/ws", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务器...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Println("服务器已安全关闭")
}
