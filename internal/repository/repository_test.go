package repository

import (
	"fmt"
	"testing"

	"github.com/user/movielist/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 为每个测试创建独立的内存数据库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}

	if err := db.AutoMigrate(&model.User{}, &model.Movie{}, &model.OrphanBlob{}); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}

	return db
}

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	return NewRepositories(newTestDB(t))
}
