package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"situation-room/internal/domain"
	"situation-room/internal/repository"
)

// GormReportRepository 是 ReportRepository 接口的 GORM 实现
type GormReportRepository struct {
	db *gorm.DB
}

func NewGormReportRepository(db *gorm.DB) *GormReportRepository {
	if db == nil {
		panic("database connection cannot be nil for GormReportRepository")
	}
	return &GormReportRepository{db: db}
}

// Get 按房间码读取报告
func (r *GormReportRepository) Get(ctx context.Context, roomCode string) (*domain.StoredReport, error) {
	var report domain.StoredReport
	err := r.db.WithContext(ctx).Where("room_code = ?", roomCode).First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrReportNotFound
		}
		return nil, fmt.Errorf("gorm: get report for room '%s': %w", roomCode, err)
	}
	return &report, nil
}

// Put 依赖 room_code 唯一索引实现写一次
func (r *GormReportRepository) Put(ctx context.Context, report *domain.StoredReport) error {
	if err := r.db.WithContext(ctx).Create(report).Error; err != nil {
		if isDuplicateKeyError(err) {
			return repository.ErrReportExists
		}
		return fmt.Errorf("gorm: put report for room '%s': %w", report.RoomCode, err)
	}
	return nil
}
