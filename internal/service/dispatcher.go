package service

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Dispatcher 把一次分析任务交给后台执行。attempt 是房间的分析轮次，用于任务去重和丢弃过期任务。
type Dispatcher interface {
	DispatchAnalysis(ctx context.Context, roomCode string, attempt int) error
}

// AnalysisRunner 执行一次分析，由 ReportService 实现。
type AnalysisRunner interface {
	RunAnalysis(ctx context.Context, roomCode string, attempt int) error
}

// InlineDispatcher 在本进程的 goroutine 中直接执行分析，不经过任务队列。
// 失败不重试，由周期性的卡滞扫描重新派发。
type InlineDispatcher struct {
	mu     sync.RWMutex
	runner AnalysisRunner
	wg     sync.WaitGroup
}

func NewInlineDispatcher() *InlineDispatcher {
	return &InlineDispatcher{}
}

// SetRunner 在 ReportService 构造完成后注入，打破两者之间的构造顺序依赖
func (d *InlineDispatcher) SetRunner(runner AnalysisRunner) {
	d.mu.Lock()
	d.runner = runner
	d.mu.Unlock()
}

func (d *InlineDispatcher) DispatchAnalysis(ctx context.Context, roomCode string, attempt int) error {
	d.mu.RLock()
	runner := d.runner
	d.mu.RUnlock()
	if runner == nil {
		return ErrInternalServer
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// 分析不能跟随触发它的 HTTP 请求一起被取消
		runCtx := context.WithoutCancel(ctx)
		if err := runner.RunAnalysis(runCtx, roomCode, attempt); err != nil {
			logrus.WithFields(logrus.Fields{
				"room_code": roomCode,
				"attempt":   attempt,
			}).WithError(err).Warn("Inline analysis failed, waiting for stall sweep")
		}
	}()
	return nil
}

// Wait 等待所有已派发的分析结束，用于优雅关闭和测试。
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
