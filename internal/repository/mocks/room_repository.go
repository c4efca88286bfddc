// Package mocks 提供基于 testify/mock 的仓库接口模拟实现，供服务层单元测试使用。
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"situation-room/internal/domain"
)

// RoomRepository 是 repository.RoomRepository 的 Mock
type RoomRepository struct {
	mock.Mock
}

func (m *RoomRepository) FindByCode(ctx context.Context, code string) (*domain.Room, error) {
	args := m.Called(ctx, code)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}

func (m *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *RoomRepository) CompareAndSwap(ctx context.Context, room *domain.Room, expectedVersion uint) error {
	args := m.Called(ctx, room, expectedVersion)
	return args.Error(0)
}

func (m *RoomRepository) FindByMember(ctx context.Context, userID string, limit int) ([]domain.Room, error) {
	args := m.Called(ctx, userID, limit)
	rooms, _ := args.Get(0).([]domain.Room)
	return rooms, args.Error(1)
}

func (m *RoomRepository) FindStalledAnalyses(ctx context.Context, startedBefore time.Time, limit int) ([]domain.Room, error) {
	args := m.Called(ctx, startedBefore, limit)
	rooms, _ := args.Get(0).([]domain.Room)
	return rooms, args.Error(1)
}

// RoomLocker 是 repository.RoomLocker 的 Mock
type RoomLocker struct {
	mock.Mock
}

func (m *RoomLocker) Lock(ctx context.Context, roomCode string) (func(), error) {
	args := m.Called(ctx, roomCode)
	unlock, _ := args.Get(0).(func())
	return unlock, args.Error(1)
}
