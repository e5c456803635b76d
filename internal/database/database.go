package database

import (
	"fmt"
	"log"
	"time"

	"omdchat/internal/config"
	"omdchat/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB 按配置初始化数据库连接
func InitDB() (*gorm.DB, error) {
	cfg := config.GlobalConfig

	// 设置日志
	newLogger := logger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Driver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(cfg.Database.MySQL.DSN), &gorm.Config{Logger: newLogger})
	case "sqlite":
		db, err = OpenSQLite(cfg.Database.SQLite.Path)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Database.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "mysql" {
		// 配置连接池
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	// 自动迁移数据库结构
	if err := model.SetupDatabase(db); err != nil {
		return nil, err
	}

	DB = db
	return db, nil
}

// OpenSQLite 打开 SQLite 库。内存模式限制单连接，避免连接池
// 拿到各自独立的内存库。
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if path == ":memory:" || path == "file::memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// GetDB 获取数据库连接
func GetDB() *gorm.DB {
	return DB
}
