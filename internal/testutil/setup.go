package testutil

import (
	"testing"

	"omdchat/internal/cache"
	"omdchat/internal/database"
	"omdchat/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB 创建内存 SQLite 数据库并完成建表，不依赖外部服务
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err, "SetupTestDB: OpenSQLite")
	require.NoError(t, model.SetupDatabase(db), "SetupTestDB: SetupDatabase")
	return db
}

// SetupTestCache 创建进程内缓存和订阅器，不依赖 Redis
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	return cache.NewLocalCache(), cache.NewLocalPubSub(16)
}
