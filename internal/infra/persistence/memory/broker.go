package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"situation-room/internal/domain"
)

// Broker 是进程内的房间事件总线，单机部署时代替 Redis Pub/Sub。
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan []byte
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan []byte)}
}

func (b *Broker) PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("memory: failed to marshal room event %s: %w", event.Type, err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[event.RoomCode] {
		select {
		case ch <- payload:
		default:
			logrus.WithField("room_code", event.RoomCode).Warn("Room event subscriber is slow, dropping event")
		}
	}
	return nil
}

func (b *Broker) SubscribeRoomEvents(ctx context.Context, roomCode string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[roomCode] == nil {
		b.subs[roomCode] = make(map[int]chan []byte)
	}
	b.subs[roomCode][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[roomCode], id)
			if len(b.subs[roomCode]) == 0 {
				delete(b.subs, roomCode)
			}
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// RateLimiter 是固定窗口限流的内存实现
type RateLimiter struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

type windowCounter struct {
	count    int
	expireAt time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{counters: make(map[string]*windowCounter)}
}

func (l *RateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[key]
	if !ok || now.After(c.expireAt) {
		c = &windowCounter{expireAt: now.Add(window)}
		l.counters[key] = c
	}
	c.count++
	// 顺手清理过期的计数器
	if len(l.counters) > 4096 {
		for k, v := range l.counters {
			if now.After(v.expireAt) {
				delete(l.counters, k)
			}
		}
	}
	return c.count > limit, nil
}
