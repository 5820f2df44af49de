package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reseller-panel/internal/config"
	"reseller-panel/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 按配置连接数据库并自动迁移
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		// 创建数据目录
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建数据目录失败: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	if dialector.Name() == "sqlite" {
		// sqlite 单写者，串行化连接避免 database is locked
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.LicenseKey{},
		&model.InstanceBinding{},
		&model.ActivationLog{},
		&model.Transaction{},
		&model.Account{},
		&model.Server{},
		&model.Settings{},
		&model.Notification{},
		&model.OperationLog{},
		&model.LoginLog{},
	)
	if err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// EnsureOwner 不存在 owner 账户时按配置创建
func EnsureOwner(db *gorm.DB, cfg config.OwnerConfig) (bool, error) {
	if cfg.Password == "" {
		return false, nil
	}

	var count int64
	if err := db.Model(&model.User{}).Where("role = ?", model.RoleOwner).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("生成密码哈希失败: %w", err)
	}

	owner := &model.User{
		Username:  cfg.Username,
		Password:  string(hashed),
		Token:     uuid.NewString(),
		Role:      model.RoleOwner,
		Status:    model.UserStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(owner).Error; err != nil {
		return false, fmt.Errorf("创建 owner 账户失败: %w", err)
	}
	return true, nil
}
