package database

import (
	"fmt"

	"reseller-panel/internal/config"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InitTestDB 每次调用返回独立的内存数据库
func InitTestDB() *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(config.DBConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		panic("failed to connect test database: " + err.Error())
	}
	return db
}

func CleanTestDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
}
