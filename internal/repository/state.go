package repository

import (
	"context"
	"time"
)

// RateLimiter 固定窗口计数限流，通常由 Redis 实现。
type RateLimiter interface {
	// CheckRateLimit 递增 key 的计数并判断是否超限。
	// 返回 true 如果超限，false 如果未超限。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// EventSubscriber 订阅某个房间的事件流。
type EventSubscriber interface {
	// SubscribeRoomEvents 返回序列化后的事件通道和取消函数。
	// 取消函数调用后通道会被关闭。
	SubscribeRoomEvents(ctx context.Context, roomCode string) (<-chan []byte, func(), error)
}
