package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示尝试插入的数据违反了唯一约束
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrVersionConflict 表示 CompareAndSwap 时存储中的版本已被其他写入推进
	ErrVersionConflict = errors.New("repository: version conflict")
	// ErrCacheMiss 表示缓存中没有该键
	ErrCacheMiss = errors.New("repository: cache miss")
	// ErrLockTimeout 表示在 ctx 结束前没能拿到房间锁
	ErrLockTimeout = errors.New("repository: lock acquisition timed out")
)

// 特定资源的错误
var (
	ErrRoomNotFound   = ErrNotFound
	ErrReportNotFound = ErrNotFound
	ErrReportExists   = ErrDuplicateEntry
)
