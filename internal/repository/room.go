package repository

import (
	"context"
	"time"

	"situation-room/internal/domain"
)

// RoomRepository 定义了房间数据的存储和检索操作，是房间状态的唯一可信来源。
type RoomRepository interface {
	// FindByCode 根据房间码查找房间。
	// 如果房间不存在，返回 ErrRoomNotFound。
	FindByCode(ctx context.Context, code string) (*domain.Room, error)

	// Create 插入新房间。房间码是主键，插入本身就是原子的"检查并占用"：
	// 房间码已存在时返回 ErrDuplicateEntry。
	Create(ctx context.Context, room *domain.Room) error

	// CompareAndSwap 仅当存储中的版本号等于 expectedVersion 时写入 room 的全部可变字段，
	// 成功后 room.Version 变为 expectedVersion+1。版本不匹配时返回 ErrVersionConflict。
	CompareAndSwap(ctx context.Context, room *domain.Room, expectedVersion uint) error

	// FindByMember 查询 userID 参与过的房间，按创建时间倒序。
	FindByMember(ctx context.Context, userID string, limit int) ([]domain.Room, error)

	// FindStalledAnalyses 查询分析已在进行中、但开始时间早于 startedBefore 的房间。
	FindStalledAnalyses(ctx context.Context, startedBefore time.Time, limit int) ([]domain.Room, error)
}
