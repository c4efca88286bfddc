// Package memory 提供进程内的存储实现，用于单机部署和测试。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"situation-room/internal/domain"
	"situation-room/internal/repository"
)

// RoomStore 是 RoomRepository 的内存实现。读写都做深拷贝，调用方拿到的对象和存储互不影响。
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*domain.Room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*domain.Room)}
}

func (s *RoomStore) FindByCode(ctx context.Context, code string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (s *RoomStore) Create(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[room.Code]; exists {
		return repository.ErrDuplicateEntry
	}
	now := time.Now()
	room.Version = 0
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	s.rooms[room.Code] = room.Clone()
	return nil
}

func (s *RoomStore) CompareAndSwap(ctx context.Context, room *domain.Room, expectedVersion uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rooms[room.Code]
	if !ok || current.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	next := room.Clone()
	next.Version = expectedVersion + 1
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now()
	s.rooms[room.Code] = next
	room.Version = next.Version
	room.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *RoomStore) FindByMember(ctx context.Context, userID string, limit int) ([]domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	out := make([]domain.Room, 0)
	for _, room := range s.rooms {
		if room.IsMember(userID) {
			out = append(out, *room.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RoomStore) FindStalledAnalyses(ctx context.Context, startedBefore time.Time, limit int) ([]domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	out := make([]domain.Room, 0)
	for _, room := range s.rooms {
		if room.Analyzing && room.Status == domain.RoomStatusInProgress &&
			room.AnalysisStartedAt != nil && room.AnalysisStartedAt.Before(startedBefore) {
			out = append(out, *room.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].AnalysisStartedAt.Before(*out[j].AnalysisStartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReportStore 是 ReportRepository 的内存实现
type ReportStore struct {
	mu      sync.RWMutex
	nextID  uint
	reports map[string]domain.StoredReport
}

func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[string]domain.StoredReport)}
}

func (s *ReportStore) Get(ctx context.Context, roomCode string) (*domain.StoredReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[roomCode]
	if !ok {
		return nil, repository.ErrReportNotFound
	}
	return &report, nil
}

func (s *ReportStore) Put(ctx context.Context, report *domain.StoredReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[report.RoomCode]; exists {
		return repository.ErrReportExists
	}
	s.nextID++
	report.ID = s.nextID
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	s.reports[report.RoomCode] = *report
	return nil
}
