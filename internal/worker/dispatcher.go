package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"situation-room/internal/tasks"
)

// Enqueuer 是 *asynq.Client 的子集，便于测试替换
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqDispatcher 把分析任务投递到 asynq 队列，由 worker 执行并负责失败重试
type AsynqDispatcher struct {
	client Enqueuer
}

func NewAsynqDispatcher(client Enqueuer) *AsynqDispatcher {
	if client == nil {
		panic("asynq client cannot be nil for AsynqDispatcher")
	}
	return &AsynqDispatcher{client: client}
}

func (d *AsynqDispatcher) DispatchAnalysis(ctx context.Context, roomCode string, attempt int) error {
	task, err := tasks.NewReportGenerateTask(roomCode, attempt)
	if err != nil {
		return fmt.Errorf("build report task: %w", err)
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		// 同一轮次已经入队，视为成功
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			logrus.WithFields(logrus.Fields{"room_code": roomCode, "attempt": attempt}).Info("Report task already enqueued")
			return nil
		}
		return fmt.Errorf("enqueue report task: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"room_code": roomCode,
		"attempt":   attempt,
		"task_id":   info.ID,
		"queue":     info.Queue,
	}).Info("Report task enqueued")
	return nil
}
