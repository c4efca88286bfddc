package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"situation-room/internal/tasks"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunAnalysis(ctx context.Context, roomCode string, attempt int) error {
	args := m.Called(ctx, roomCode, attempt)
	return args.Error(0)
}

type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) SweepStalled(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func TestReportTaskHandler_RunsAnalysis(t *testing.T) {
	runner := new(mockRunner)
	handler := NewReportTaskHandler(runner)
	task, err := tasks.NewReportGenerateTask("ABC234", 2)
	require.NoError(t, err)

	runner.On("RunAnalysis", mock.Anything, "ABC234", 2).Return(nil).Once()

	assert.NoError(t, handler.ProcessTask(context.Background(), task))
	runner.AssertExpectations(t)
}

func TestReportTaskHandler_FailureIsRetried(t *testing.T) {
	runner := new(mockRunner)
	handler := NewReportTaskHandler(runner)
	task, err := tasks.NewReportGenerateTask("ABC234", 1)
	require.NoError(t, err)

	boom := errors.New("all analysis calls failed")
	runner.On("RunAnalysis", mock.Anything, "ABC234", 1).Return(boom).Once()

	err = handler.ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestReportTaskHandler_BadPayloadSkipsRetry(t *testing.T) {
	runner := new(mockRunner)
	handler := NewReportTaskHandler(runner)

	for _, payload := range []string{"not json", `{"roomCode":"","attempt":1}`, `{"roomCode":"ABC234","attempt":0}`} {
		err := handler.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeReportGenerate, []byte(payload)))
		assert.ErrorIs(t, err, asynq.SkipRetry, payload)
	}
	runner.AssertNotCalled(t, "RunAnalysis", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepTaskHandler(t *testing.T) {
	sweeper := new(mockSweeper)
	handler := NewSweepTaskHandler(sweeper)

	sweeper.On("SweepStalled", mock.Anything).Return(2, nil).Once()
	assert.NoError(t, handler.ProcessTask(context.Background(), tasks.NewAnalysisSweepTask()))

	sweeper.On("SweepStalled", mock.Anything).Return(0, errors.New("db down")).Once()
	assert.Error(t, handler.ProcessTask(context.Background(), tasks.NewAnalysisSweepTask()))
	sweeper.AssertExpectations(t)
}

func TestAsynqDispatcher_Enqueue(t *testing.T) {
	client := new(mockEnqueuer)
	d := NewAsynqDispatcher(client)
	ctx := context.Background()

	client.On("EnqueueContext", ctx, mock.MatchedBy(func(task *asynq.Task) bool {
		p, err := tasks.ParseReportGeneratePayload(task.Payload())
		return err == nil && task.Type() == tasks.TypeReportGenerate && p.RoomCode == "ABC234" && p.Attempt == 3
	})).Return(&asynq.TaskInfo{ID: tasks.ReportTaskID("ABC234", 3), Queue: "critical"}, nil).Once()

	assert.NoError(t, d.DispatchAnalysis(ctx, "ABC234", 3))
	client.AssertExpectations(t)
}

func TestAsynqDispatcher_DuplicateIsSuccess(t *testing.T) {
	client := new(mockEnqueuer)
	d := NewAsynqDispatcher(client)
	ctx := context.Background()

	client.On("EnqueueContext", ctx, mock.Anything).Return(nil, asynq.ErrTaskIDConflict).Once()
	assert.NoError(t, d.DispatchAnalysis(ctx, "ABC234", 1))

	client.On("EnqueueContext", ctx, mock.Anything).Return(nil, errors.New("redis: connection refused")).Once()
	assert.Error(t, d.DispatchAnalysis(ctx, "ABC234", 1))
}
