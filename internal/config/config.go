package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver"` // mysql / sqlite
		MySQL  struct {
			DSN string `yaml:"dsn"` // Data Source Name
		} `yaml:"mysql"`
		SQLite struct {
			Path string `yaml:"path"` // 文件路径，":memory:" 表示内存库
		} `yaml:"sqlite"`
	} `yaml:"database"`

	JWT struct {
		Secret string `yaml:"secret"`
		Expire int    `yaml:"expire"` // 会话有效期（小时），同时作为令牌与存储映射的 TTL
	} `yaml:"jwt"`

	Redis struct {
		Host     string `yaml:"host"` // 为空时回退到进程内缓存（仅限单实例/测试）
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Presence struct {
		TTL int `yaml:"ttl"` // 在线标记有效期（秒），由心跳续期
	} `yaml:"presence"`

	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"ratelimit"`
}

// GlobalConfig 全局配置
var GlobalConfig = &Config{}

// Init 初始化配置
func Init() error {
	f, err := os.Open("config.yaml")
	if err != nil {
		// 如果配置文件不存在，使用默认配置
		log.Println("配置文件不存在，使用默认配置")
		GlobalConfig = &Config{}
		applyDefaults()
		return nil
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&GlobalConfig); err != nil {
		return err
	}

	applyDefaults()
	log.Printf("配置加载成功: driver=%s, Redis=%s:%d",
		GlobalConfig.Database.Driver, GlobalConfig.Redis.Host, GlobalConfig.Redis.Port)
	return nil
}

// applyDefaults 补齐缺失的配置项
func applyDefaults() {
	if GlobalConfig.Server.Port == 0 {
		GlobalConfig.Server.Port = 8082
	}
	if GlobalConfig.Database.Driver == "" {
		GlobalConfig.Database.Driver = "mysql"
	}
	if GlobalConfig.Database.MySQL.DSN == "" {
		GlobalConfig.Database.MySQL.DSN = "root:123456@tcp(127.0.0.1:3306)/omdchat?charset=utf8mb4&parseTime=True&loc=Local"
	}
	if GlobalConfig.Database.SQLite.Path == "" {
		GlobalConfig.Database.SQLite.Path = "omdchat.db"
	}
	if GlobalConfig.JWT.Secret == "" {
		GlobalConfig.JWT.Secret = "default_secret_key_for_development"
	}
	if GlobalConfig.JWT.Expire <= 0 {
		GlobalConfig.JWT.Expire = 24
	}
	if GlobalConfig.Redis.Host != "" && GlobalConfig.Redis.Port == 0 {
		GlobalConfig.Redis.Port = 6379
	}
	if GlobalConfig.Presence.TTL <= 0 {
		GlobalConfig.Presence.TTL = 90
	}
	if GlobalConfig.RateLimit.RPS <= 0 {
		GlobalConfig.RateLimit.RPS = 50
	}
	if GlobalConfig.RateLimit.Burst <= 0 {
		GlobalConfig.RateLimit.Burst = 100
	}
}
