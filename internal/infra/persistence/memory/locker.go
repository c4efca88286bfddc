package memory

import (
	"context"
	"sync"

	"situation-room/internal/repository"
)

// KeyedLocker 是 RoomLocker 的进程内实现：每个房间码一个容量为 1 的信号量，
// 引用计数归零时回收，房间数量多也不会无限增长。
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

func (l *KeyedLocker) Lock(ctx context.Context, roomCode string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[roomCode]
	if !ok {
		kl = &keyedLock{sem: make(chan struct{}, 1)}
		l.locks[roomCode] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(roomCode, kl)
		return nil, repository.ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(roomCode, kl)
		})
	}, nil
}

func (l *KeyedLocker) release(roomCode string, kl *keyedLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, roomCode)
	}
	l.mu.Unlock()
}

// size 仅供测试检查回收情况
func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
