package service

import (
	"context"
	"encoding/json"
	"time"

	"reseller-panel/internal/model"

	"gorm.io/gorm"
)

// AuditService 管理操作日志与登录日志
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db, now: time.Now}
}

func (s *AuditService) LogOperation(ctx context.Context, userID uint, action string, target string, targetID string, details interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	log := &model.OperationLog{
		UserID:    userID,
		Action:    action,
		Target:    target,
		TargetID:  targetID,
		Details:   string(detailsJSON),
		CreatedAt: s.now(),
	}

	return s.db.WithContext(ctx).Create(log).Error
}

func (s *AuditService) LogLogin(ctx context.Context, userID uint, ip, userAgent, status string) error {
	return s.db.WithContext(ctx).Create(&model.LoginLog{
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		Status:    status,
		CreatedAt: s.now(),
	}).Error
}

// 获取操作日志列表，userID 为 0 时不过滤
func (s *AuditService) GetOperationLogs(ctx context.Context, userID uint, page, pageSize int) ([]model.OperationLog, int64, error) {
	var logs []model.OperationLog
	var total int64

	db := s.db.WithContext(ctx).Model(&model.OperationLog{})
	if userID != 0 {
		db = db.Where("user_id = ?", userID)
	}

	// 获取总数
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 获取分页数据
	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

func (s *AuditService) GetLoginLogs(ctx context.Context, userID uint, page, pageSize int) ([]model.LoginLog, int64, error) {
	var logs []model.LoginLog
	var total int64

	db := s.db.WithContext(ctx).Model(&model.LoginLog{})
	if userID != 0 {
		db = db.Where("user_id = ?", userID)
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

func (s *AuditService) GetActivationLogs(ctx context.Context, key string, limit int) ([]model.ActivationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []model.ActivationLog
	db := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if key != "" {
		db = db.Where("key = ?", key)
	}
	err := db.Find(&logs).Error
	return logs, err
}
