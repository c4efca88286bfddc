package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"situation-room/internal/domain"
	"situation-room/internal/repository"
)

const (
	// 房间锁的租约时长，持有者崩溃后锁最多保留这么久
	defaultLockTTL = 10 * time.Second
	// 抢锁失败后的重试间隔
	lockRetryInterval = 15 * time.Millisecond
)

// 只有持有相同令牌的客户端才能释放锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStateRepository 汇总了所有基于 Redis 的共享状态：报告缓存、房间锁、事件发布订阅和限流计数。
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
	lockTTL   time.Duration
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "sr:" // 默认前缀 "sr:" (situation room)
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
		lockTTL:   defaultLockTTL,
	}
}

// --- Key Generation Helpers ---
func (r *RedisStateRepository) reportCacheKey(roomCode string) string {
	return fmt.Sprintf("%sroom:%s:report", r.keyPrefix, roomCode)
}

func (r *RedisStateRepository) roomLockKey(roomCode string) string {
	return fmt.Sprintf("%sroom:%s:lock", r.keyPrefix, roomCode)
}

func (r *RedisStateRepository) roomEventsChannel(roomCode string) string {
	return fmt.Sprintf("%sroom:%s:events", r.keyPrefix, roomCode)
}

func (r *RedisStateRepository) rateLimitKey(key string) string {
	return r.keyPrefix + "ratelimit:" + key
}

// --- ReportCache ---

// Get 读取缓存的报告原始 JSON
func (r *RedisStateRepository) Get(ctx context.Context, roomCode string) ([]byte, error) {
	key := r.reportCacheKey(roomCode)
	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis: failed to get report cache for room %s from %s: %w", roomCode, key, err)
	}
	return payload, nil
}

// Set 写入报告缓存 (ttl 为 0 表示永不过期)
func (r *RedisStateRepository) Set(ctx context.Context, roomCode string, payload []byte, ttl time.Duration) error {
	key := r.reportCacheKey(roomCode)
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set report cache for room %s on key %s: %w", roomCode, key, err)
	}
	return nil
}

// --- RoomLocker ---

// Lock 用 SET NX PX 抢占房间锁，失败则轮询直到 ctx 结束。
func (r *RedisStateRepository) Lock(ctx context.Context, roomCode string) (func(), error) {
	key := r.roomLockKey(roomCode)
	token := uuid.NewString()
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, repository.ErrLockTimeout
			}
			return nil, fmt.Errorf("redis: failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, repository.ErrLockTimeout
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 释放锁不跟随调用方的 ctx，避免请求取消后锁残留到 TTL 过期
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				logrus.WithFields(logrus.Fields{
					"room_code": roomCode,
					"lock_key":  key,
				}).WithError(err).Warn("Redis unlock failed, lock will expire by TTL")
			}
		})
	}, nil
}

// --- EventPublisher / EventSubscriber ---

// PublishRoomEvent 将房间事件发布到房间频道。
func (r *RedisStateRepository) PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	channel := r.roomEventsChannel(event.RoomCode)
	payloadBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal room event %s: %w", event.Type, err)
	}
	if err := r.client.Publish(ctx, channel, payloadBytes).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel":      channel,
			"payload_size": len(payloadBytes),
			"event_type":   event.Type,
			"room_code":    event.RoomCode,
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish event to channel %s: %w", channel, err)
	}
	return nil
}

// SubscribeRoomEvents 订阅房间频道，返回的通道在取消后关闭。
func (r *RedisStateRepository) SubscribeRoomEvents(ctx context.Context, roomCode string) (<-chan []byte, func(), error) {
	channel := r.roomEventsChannel(roomCode)
	pubsub := r.client.Subscribe(ctx, channel)
	// 等待订阅确认，确保返回后发布的事件不会丢
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("redis: failed to subscribe channel %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					logrus.WithField("channel", channel).Warn("Room event subscriber is slow, dropping event")
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}

// --- RateLimiter ---

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
// 窗口从第一次请求开始计时，窗口内的后续请求不会延长它。
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := r.rateLimitKey(key)
	// 使用 Pipeline 减少网络往返
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	ttlCmd := pipe.PTTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", fullKey, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", fullKey, err)
	}
	// 新窗口或者过期时间丢失时补上 TTL
	if ttl, _ := ttlCmd.Result(); count == 1 || ttl < 0 {
		if err := r.client.PExpire(ctx, fullKey, window).Err(); err != nil {
			return false, fmt.Errorf("redis: failed to set rate limit window on key %s: %w", fullKey, err)
		}
	}
	return count > int64(limit), nil
}
