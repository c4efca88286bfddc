package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"situation-room/internal/domain"
)

// ReportRepository 是 repository.ReportRepository 的 Mock
type ReportRepository struct {
	mock.Mock
}

func (m *ReportRepository) Get(ctx context.Context, roomCode string) (*domain.StoredReport, error) {
	args := m.Called(ctx, roomCode)
	report, _ := args.Get(0).(*domain.StoredReport)
	return report, args.Error(1)
}

func (m *ReportRepository) Put(ctx context.Context, report *domain.StoredReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

// ReportCache 是 repository.ReportCache 的 Mock
type ReportCache struct {
	mock.Mock
}

func (m *ReportCache) Get(ctx context.Context, roomCode string) ([]byte, error) {
	args := m.Called(ctx, roomCode)
	payload, _ := args.Get(0).([]byte)
	return payload, args.Error(1)
}

func (m *ReportCache) Set(ctx context.Context, roomCode string, payload []byte, ttl time.Duration) error {
	args := m.Called(ctx, roomCode, payload, ttl)
	return args.Error(0)
}
