package testutil

import (
	"fmt"
	"testing"

	"rewardengine/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenTestDB 打开一个独立的内存 SQLite 库并迁移全部表结构。
// 所有 SQL 都不依赖 MySQL 方言（窗口计算在 Go 侧完成），
// 因此测试里跑的是和生产完全相同的查询。
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Member{},
		&model.Center{},
		&model.Purchase{},
		&model.RewardLog{},
		&model.RewardAllocation{},
		&model.RewardDailySummary{},
		&model.Commission{},
		&model.BonusConfig{},
		&model.Setting{},
		&model.OutboxMessage{},
	); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}
	return db
}

// Int64Ptr 测试数据里常用的指针字面量
func Int64Ptr(v int64) *int64 {
	return &v
}
