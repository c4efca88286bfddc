package repository

import (
	"context"

	"situation-room/internal/domain"
)

// RoomLocker 提供以房间码为粒度的互斥区。不同房间之间互不阻塞。
type RoomLocker interface {
	// Lock 阻塞直到获得房间锁或 ctx 结束。返回的 unlock 必须且只能调用一次。
	Lock(ctx context.Context, roomCode string) (unlock func(), err error)
}

// EventPublisher 发布房间事件。发布失败不影响业务结果，调用方只记录日志。
type EventPublisher interface {
	PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error
}
