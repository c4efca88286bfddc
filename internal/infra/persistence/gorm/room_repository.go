package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"situation-room/internal/domain"
	"situation-room/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByCode 实现根据房间码查找房间
func (r *GormRoomRepository) FindByCode(ctx context.Context, code string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by code '%s': %w", code, err)
	}
	return &room, nil
}

// Create 插入新房间，主键冲突映射为 ErrDuplicateEntry
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	room.Version = 0
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		if isDuplicateKeyError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create room (code: %s): %w", room.Code, err)
	}
	return nil
}

// CompareAndSwap 用 version 做条件更新，RowsAffected 为 0 说明版本已被推进或房间不存在
func (r *GormRoomRepository) CompareAndSwap(ctx context.Context, room *domain.Room, expectedVersion uint) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&domain.Room{}).
		Where("code = ? AND version = ?", room.Code, expectedVersion).
		Updates(map[string]interface{}{
			"status":              room.Status,
			"members":             room.Members,
			"submissions":         room.Submissions,
			"cancel_votes":        room.CancelVotes,
			"analyzing":           room.Analyzing,
			"analysis_attempts":   room.AnalysisAttempts,
			"analysis_failures":   room.AnalysisFailures,
			"last_analysis_error": room.LastAnalysisError,
			"analysis_started_at": room.AnalysisStartedAt,
			"completed_at":        room.CompletedAt,
			"version":             expectedVersion + 1,
			"updated_at":          now,
		})
	if result.Error != nil {
		return fmt.Errorf("gorm: compare-and-swap room (code: %s, version: %d): %w", room.Code, expectedVersion, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrVersionConflict
	}
	room.Version = expectedVersion + 1
	room.UpdatedAt = now
	return nil
}

// FindByMember 成员列表以 JSON 文本存储，这里按带引号的用户 ID 做子串匹配
func (r *GormRoomRepository) FindByMember(ctx context.Context, userID string, limit int) ([]domain.Room, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(`"`+userID+`"`) + "%"
	var rooms []domain.Room
	err := r.db.WithContext(ctx).
		Where(`members LIKE ? ESCAPE '!'`, pattern).
		Order("created_at DESC").
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find rooms by member '%s': %w", userID, err)
	}
	// LIKE 只是粗筛，转义字符等边界情况再精确过滤一遍
	out := rooms[:0]
	for _, room := range rooms {
		if room.IsMember(userID) {
			out = append(out, room)
		}
	}
	return out, nil
}

// FindStalledAnalyses 查找卡在分析中的房间
func (r *GormRoomRepository) FindStalledAnalyses(ctx context.Context, startedBefore time.Time, limit int) ([]domain.Room, error) {
	if limit <= 0 {
		limit = 100
	}
	var rooms []domain.Room
	err := r.db.WithContext(ctx).
		Where("analyzing = ? AND status = ? AND analysis_started_at < ?", true, domain.RoomStatusInProgress, startedBefore).
		Order("analysis_started_at ASC").
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find stalled analyses: %w", err)
	}
	return rooms, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
