package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"situation-room/internal/domain"
	"situation-room/internal/repository"
)

const maxCASAttempts = 5

// roomMutator 把"加锁 -> 读取 -> 校验 -> CAS 写入"封装成一个步骤，所有房间写操作都经过这里。
type roomMutator struct {
	rooms  repository.RoomRepository
	locker repository.RoomLocker
}

// mutate 在房间锁内执行 fn。fn 返回 errNoChange 表示无需写入；返回其他错误则放弃写入并原样返回。
// 锁租约过期导致的版本冲突会重新读取后重试 fn。
func (m *roomMutator) mutate(ctx context.Context, code string, fn func(room *domain.Room) error) (*domain.Room, error) {
	unlock, err := m.locker.Lock(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("lock room %s: %w", code, err)
	}
	defer unlock()

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		room, err := m.rooms.FindByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		expected := room.Version
		if err := fn(room); err != nil {
			if errors.Is(err, errNoChange) {
				return room, nil
			}
			return nil, err
		}
		err = m.rooms.CompareAndSwap(ctx, room, expected)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"room_code": code,
			"version":   expected,
			"attempt":   attempt,
		}).Warn("Room version conflict under lock, retrying")
		time.Sleep(time.Duration(attempt) * 5 * time.Millisecond)
	}
	return nil, fmt.Errorf("room %s: %w", code, repository.ErrVersionConflict)
}

var errNoChange = errors.New("no change")
