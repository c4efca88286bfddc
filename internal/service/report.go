package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"situation-room/internal/analysis"
	"situation-room/internal/domain"
	"situation-room/internal/repository"
)

// ReportGenerator 由 CompatibilityEngine 实现
type ReportGenerator interface {
	Generate(ctx context.Context, room *domain.Room) (*domain.Report, error)
}

// ReportConfig 控制整轮分析的超时、失败上限和卡滞判定
type ReportConfig struct {
	AnalysisTimeout time.Duration
	MaxFailures     int
	StallAfter      time.Duration
	CacheTTL        time.Duration
	SweepBatch      int
}

func (c ReportConfig) withDefaults() ReportConfig {
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 2 * time.Minute
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.StallAfter <= 0 {
		c.StallAfter = 10 * time.Minute
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 100
	}
	return c
}

// ReportService 负责执行分析、提交报告以及读取报告。
type ReportService struct {
	rooms      repository.RoomRepository
	mutator    *roomMutator
	reports    repository.ReportRepository
	cache      repository.ReportCache
	generator  ReportGenerator
	dispatcher Dispatcher
	publisher  repository.EventPublisher
	cfg        ReportConfig
}

func NewReportService(
	rooms repository.RoomRepository,
	locker repository.RoomLocker,
	reports repository.ReportRepository,
	cache repository.ReportCache,
	generator ReportGenerator,
	dispatcher Dispatcher,
	publisher repository.EventPublisher,
	cfg ReportConfig,
) *ReportService {
	if rooms == nil || locker == nil || reports == nil {
		panic("RoomRepository, RoomLocker and ReportRepository cannot be nil for ReportService")
	}
	if generator == nil {
		panic("ReportGenerator cannot be nil for ReportService")
	}
	return &ReportService{
		rooms:      rooms,
		mutator:    &roomMutator{rooms: rooms, locker: locker},
		reports:    reports,
		cache:      cache,
		generator:  generator,
		dispatcher: dispatcher,
		publisher:  publisher,
		cfg:        cfg.withDefaults(),
	}
}

// RunAnalysis 执行房间的第 attempt 轮分析。过期的轮次、已完成或已放弃的房间直接跳过并返回 nil。
// 分析失败时记录失败次数并返回错误，由任务队列决定是否重试。
func (s *ReportService) RunAnalysis(ctx context.Context, code string, attempt int) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "attempt": attempt, "operation": "RunAnalysis"})

	room, err := s.rooms.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Warn("Room vanished before analysis, skipping")
			return nil
		}
		return err
	}
	if skip, reason := s.shouldSkip(room, attempt); skip {
		logCtx.WithField("reason", reason).Info("Skipping analysis")
		return nil
	}

	payload, degraded, err := s.loadOrGenerate(ctx, logCtx, room, attempt)
	if err != nil {
		return err
	}

	// 报告先落库再把房间标记为完成，看到 COMPLETED 就一定能读到报告
	completed, err := s.mutator.mutate(ctx, code, func(room *domain.Room) error {
		if room.Status == domain.RoomStatusCompleted {
			return errNoChange
		}
		if room.Status != domain.RoomStatusInProgress {
			return ErrInvalidState
		}
		now := time.Now().UTC()
		room.Status = domain.RoomStatusCompleted
		room.Analyzing = false
		room.CompletedAt = &now
		room.LastAnalysisError = ""
		return nil
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to mark room completed")
		return err
	}

	s.fillCache(ctx, code, payload)
	logCtx.WithField("degraded", degraded).Info("Report committed, room completed")
	publishEvent(ctx, s.publisher, domain.EventReportReady, completed, "")
	return nil
}

// loadOrGenerate 返回本房间要提交的报告字节。上一轮已写入报告但没来得及标记完成时，
// 直接复用已存的报告，不再调用分析能力。
func (s *ReportService) loadOrGenerate(ctx context.Context, logCtx *logrus.Entry, room *domain.Room, attempt int) ([]byte, bool, error) {
	code := room.Code
	existing, err := s.reports.Get(ctx, code)
	if err == nil {
		logCtx.Info("Report already stored, completing room without re-analysis")
		return []byte(existing.Payload), existing.Degraded, nil
	}
	if !errors.Is(err, repository.ErrReportNotFound) {
		logCtx.WithError(err).Error("Failed to check stored report")
		return nil, false, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.AnalysisTimeout)
	report, genErr := s.generator.Generate(genCtx, room)
	cancel()
	if genErr != nil {
		logCtx.WithError(genErr).Error("Analysis failed")
		s.recordFailure(ctx, code, attempt, genErr)
		return nil, false, genErr
	}

	payload, err := json.Marshal(report)
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal report")
		return nil, false, err
	}
	stored := &domain.StoredReport{RoomCode: code, Payload: string(payload), Degraded: report.Degraded}
	if err := s.reports.Put(ctx, stored); err != nil {
		if !errors.Is(err, repository.ErrReportExists) {
			logCtx.WithError(err).Error("Failed to store report")
			s.recordFailure(ctx, code, attempt, err)
			return nil, false, err
		}
		// 并发的另一轮已经写入了报告，以已有报告为准
		existing, getErr := s.reports.Get(ctx, code)
		if getErr != nil {
			return nil, false, getErr
		}
		logCtx.Info("Report already stored by a concurrent run")
		return []byte(existing.Payload), existing.Degraded, nil
	}
	return payload, report.Degraded, nil
}

func (s *ReportService) shouldSkip(room *domain.Room, attempt int) (bool, string) {
	switch {
	case room.Status == domain.RoomStatusCompleted:
		return true, "already completed"
	case room.Status != domain.RoomStatusInProgress:
		return true, "room not in progress"
	case !room.Analyzing:
		return true, "analysis not in flight"
	case attempt != room.AnalysisAttempts:
		return true, "stale attempt"
	case room.AnalysisFailures >= s.cfg.MaxFailures:
		return true, "failure limit reached"
	}
	return false, ""
}

func (s *ReportService) recordFailure(ctx context.Context, code string, attempt int, cause error) {
	_, err := s.mutator.mutate(context.WithoutCancel(ctx), code, func(room *domain.Room) error {
		if !room.Analyzing || room.AnalysisAttempts != attempt {
			return errNoChange
		}
		room.AnalysisFailures++
		room.LastAnalysisError = analysis.Truncate(cause.Error(), 500)
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_code": code, "attempt": attempt}).WithError(err).Error("Failed to record analysis failure")
	}
}

func (s *ReportService) fillCache(ctx context.Context, code string, payload []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, code, payload, s.cfg.CacheTTL); err != nil {
		logrus.WithField("room_code", code).WithError(err).Warn("Failed to fill report cache")
	}
}

// GetReport 返回报告的原始 JSON。同一房间的多次读取返回完全相同的字节。
func (s *ReportService) GetReport(ctx context.Context, code string) ([]byte, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidInput
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "operation": "GetReport"})

	if s.cache != nil {
		payload, err := s.cache.Get(ctx, code)
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, repository.ErrCacheMiss) {
			logCtx.WithError(err).Warn("Report cache read failed, falling back to store")
		}
	}

	room, err := s.rooms.FindByCode(ctx, code)
	if err != nil {
		mapped := mapRepoError(err)
		if mapped == ErrInternalServer {
			logCtx.WithError(err).Error("Failed to load room")
		}
		return nil, mapped
	}
	switch room.Status {
	case domain.RoomStatusCompleted:
	case domain.RoomStatusCancelled:
		return nil, ErrInvalidState
	default:
		if room.Analyzing && room.AnalysisFailures >= s.cfg.MaxFailures {
			return nil, ErrAnalysisFailed
		}
		return nil, ErrNotReady
	}

	stored, err := s.reports.Get(ctx, code)
	if err != nil {
		// 房间已完成但报告缺失，违反了写入顺序，属于严重错误
		logCtx.WithError(err).Error("Report missing for completed room")
		return nil, ErrInternalServer
	}
	payload := []byte(stored.Payload)
	s.fillCache(ctx, code, payload)
	return payload, nil
}

// SweepStalled 重新派发卡在分析中超过 StallAfter 的房间，返回派发的数量。
// 失败次数已达上限的房间不再派发。
func (s *ReportService) SweepStalled(ctx context.Context) (int, error) {
	if s.dispatcher == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.cfg.StallAfter)
	rooms, err := s.rooms.FindStalledAnalyses(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for i := range rooms {
		code := rooms[i].Code
		if rooms[i].AnalysisFailures >= s.cfg.MaxFailures {
			continue
		}
		logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "operation": "SweepStalled"})

		room, err := s.mutator.mutate(ctx, code, func(room *domain.Room) error {
			if !room.Analyzing || room.Status != domain.RoomStatusInProgress ||
				room.AnalysisStartedAt == nil || !room.AnalysisStartedAt.Before(cutoff) ||
				room.AnalysisFailures >= s.cfg.MaxFailures {
				return errSkipRoom
			}
			now := time.Now().UTC()
			room.AnalysisAttempts++
			room.AnalysisStartedAt = &now
			return nil
		})
		if err != nil {
			if !errors.Is(err, errSkipRoom) {
				logCtx.WithError(err).Warn("Failed to re-arm stalled analysis")
			}
			continue
		}
		if err := s.dispatcher.DispatchAnalysis(ctx, code, room.AnalysisAttempts); err != nil {
			logCtx.WithError(err).Error("Failed to re-dispatch stalled analysis")
			continue
		}
		logCtx.WithField("attempt", room.AnalysisAttempts).Info("Stalled analysis re-dispatched")
		dispatched++
	}
	return dispatched, nil
}

var errSkipRoom = errors.New("skip room")
