package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"situation-room/internal/service"
	"situation-room/internal/tasks"
)

// Sweeper 由 ReportService 实现
type Sweeper interface {
	SweepStalled(ctx context.Context) (int, error)
}

// ReportTaskHandler 处理报告生成任务
type ReportTaskHandler struct {
	runner service.AnalysisRunner
}

// NewReportTaskHandler 创建 Handler 实例
func NewReportTaskHandler(runner service.AnalysisRunner) *ReportTaskHandler {
	return &ReportTaskHandler{runner: runner}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *ReportTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	payload, err := tasks.ParseReportGeneratePayload(t.Payload())
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"room_code": payload.RoomCode, "attempt": payload.Attempt})
	logCtx.Info("Processing report generation task...")

	if err := h.runner.RunAnalysis(ctx, payload.RoomCode, payload.Attempt); err != nil {
		logCtx.WithError(err).Warn("Report generation failed, asynq will retry")
		return fmt.Errorf("generate report for room %s: %w", payload.RoomCode, err)
	}
	logCtx.Info("Report generation task processed successfully")
	return nil
}

// SweepTaskHandler 处理周期性的卡滞扫描任务
type SweepTaskHandler struct {
	sweeper Sweeper
}

func NewSweepTaskHandler(sweeper Sweeper) *SweepTaskHandler {
	return &SweepTaskHandler{sweeper: sweeper}
}

func (h *SweepTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)
	n, err := h.sweeper.SweepStalled(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Stalled analysis sweep failed")
		return err
	}
	if n > 0 {
		logCtx.WithField("dispatched", n).Info("Stalled analyses re-dispatched")
	} else {
		logCtx.Debug("No stalled analyses found")
	}
	return nil
}

// taskLogger 从任务和 ctx 中提取公共日志字段。手动构造的任务没有 ResultWriter。
func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
}
