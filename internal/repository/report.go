package repository

import (
	"context"
	"time"

	"situation-room/internal/domain"
)

// ReportRepository 持久化已完成的报告。报告一旦写入永不修改、永不删除。
type ReportRepository interface {
	// Get 返回房间的报告，不存在时返回 ErrReportNotFound。
	Get(ctx context.Context, roomCode string) (*domain.StoredReport, error)

	// Put 写入报告，写一次语义：已存在时返回 ErrReportExists 且不覆盖。
	Put(ctx context.Context, report *domain.StoredReport) error
}

// ReportCache 是报告原始 JSON 的读缓存。报告不可变，所以缓存不需要失效逻辑。
type ReportCache interface {
	// Get 缓存未命中时返回 ErrCacheMiss。
	Get(ctx context.Context, roomCode string) ([]byte, error)

	// Set ttl 为 0 表示不过期。
	Set(ctx context.Context, roomCode string, payload []byte, ttl time.Duration) error
}
