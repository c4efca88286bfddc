package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"situation-room/internal/domain"
	"situation-room/internal/infra/persistence/memory"
	"situation-room/internal/service"
)

func TestReportService_AliceBobScenario(t *testing.T) {
	f := newFixture(t, service.ReportConfig{})
	ctx := context.Background()

	room, err := f.roomSvc.CreateRoom(ctx, "alice", 4, "")
	require.NoError(t, err)
	joined, err := f.roomSvc.JoinRoom(ctx, room.Code, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusInProgress, joined.Status)

	_, err = f.reportSvc.GetReport(ctx, room.Code)
	assert.ErrorIs(t, err, service.ErrNotReady)

	require.NoError(t, f.gate.Submit(ctx, room.Code, "alice", "我会按规则处理，公平最重要", true))
	require.NoError(t, f.gate.Submit(ctx, room.Code, "bob", "我会考虑公平，也会照顾他的情绪", false))
	f.dispatcher.Wait()

	first, err := f.reportSvc.GetReport(ctx, room.Code)
	require.NoError(t, err)

	var report domain.Report
	require.NoError(t, json.Unmarshal(first, &report))
	assert.Equal(t, room.Code, report.RoomCode)
	require.Len(t, report.Personal, 2)
	assert.Equal(t, "alice", report.Personal[0].UserID)
	assert.Equal(t, "bob", report.Personal[1].UserID)
	require.Len(t, report.Pairs, 1)
	assert.Equal(t, "alice", report.Pairs[0].UserA)
	assert.Equal(t, "bob", report.Pairs[0].UserB)
	assert.Equal(t, 60, report.Pairs[0].Score, "共同关键词只有'公平'")
	assert.False(t, report.Degraded)
	require.Len(t, report.PublicSubmissions, 1)
	assert.Equal(t, "alice", report.PublicSubmissions[0].UserID)

	assert.Equal(t, domain.RoomStatusCompleted, f.room(t, room.Code).Status)

	second, err := f.reportSvc.GetReport(ctx, room.Code)
	require.NoError(t, err)
	assert.Equal(t, first, second, "重复读取必须字节一致")

	// 换一个空缓存，从存储读取的结果同样一致
	cold := service.NewReportService(f.rooms, memory.NewKeyedLocker(), f.reports, memory.NewReportCache(),
		f.generator, f.dispatcher, nil, service.ReportConfig{})
	third, err := cold.GetReport(ctx, room.Code)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestReportService_GetReportErrors(t *testing.T) {
	f := newFixture(t, service.ReportConfig{})
	ctx := context.Background()

	_, err := f.reportSvc.GetReport(ctx, "NOPE22")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)

	_, err = f.reportSvc.GetReport(ctx, " ")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	code := f.newRoomWith(t, 4, "alice", "bob")
	_, err = f.roomSvc.CancelRoom(ctx, code, "alice")
	require.NoError(t, err)
	_, err = f.reportSvc.GetReport(ctx, code)
	assert.ErrorIs(t, err, service.ErrInvalidState, "已解散的房间不会有报告")
}

func TestReportService_FailureKeepsRoomInFlight(t *testing.T) {
	f := newFixture(t, service.ReportConfig{MaxFailures: 2})
	f.analyzer.failing.Store(true)
	ctx := context.Background()
	code := f.newRoomWith(t, 2, "alice", "bob")

	require.NoError(t, f.gate.Submit(ctx, code, "alice", "a", false))
	require.NoError(t, f.gate.Submit(ctx, code, "bob", "b", false))
	f.dispatcher.Wait()

	room := f.room(t, code)
	assert.Equal(t, domain.RoomStatusInProgress, room.Status)
	assert.True(t, room.Analyzing)
	assert.Equal(t, 1, room.AnalysisFailures)
	assert.Contains(t, room.LastAnalysisError, service.ErrAllCallsFailed.Error())

	_, err := f.reportSvc.GetReport(ctx, code)
	assert.ErrorIs(t, err, service.ErrNotReady)

	_, err = f.reports.Get(ctx, code)
	assert.Error(t, err, "失败的分析不能留下报告")

	// 第二次失败达到上限
	err = f.reportSvc.RunAnalysis(ctx, code, room.AnalysisAttempts)
	assert.ErrorIs(t, err, service.ErrAllCallsFailed)
	_, err = f.reportSvc.GetReport(ctx, code)
	assert.ErrorIs(t, err, service.ErrAnalysisFailed)

	// 达到上限后不再执行
	calls := f.generator.calls.Load()
	require.NoError(t, f.reportSvc.RunAnalysis(ctx, code, room.AnalysisAttempts))
	assert.Equal(t, calls, f.generator.calls.Load())
}

func TestReportService_StaleAttemptIsSkipped(t *testing.T) {
	f := newFixture(t, service.ReportConfig{})
	f.generator.gate = make(chan struct{})
	ctx := context.Background()
	code := f.newRoomWith(t, 2, "alice", "bob")

	require.NoError(t, f.gate.Submit(ctx, code, "alice", "a", false))
	require.NoError(t, f.gate.Submit(ctx, code, "bob", "b", false))

	// 旧轮次和未来轮次都不会执行
	require.NoError(t, f.reportSvc.RunAnalysis(ctx, code, 0))
	require.NoError(t, f.reportSvc.RunAnalysis(ctx, code, 7))

	close(f.generator.gate)
	f.dispatcher.Wait()
	assert.Equal(t, int64(1), f.generator.calls.Load())

	// 已完成的房间重复执行是空操作
	require.NoError(t, f.reportSvc.RunAnalysis(ctx, code, 1))
	assert.Equal(t, int64(1), f.generator.calls.Load())
}

func TestReportService_SweepRedispatchesStalled(t *testing.T) {
	f := newFixture(t, service.ReportConfig{MaxFailures: 3, StallAfter: time.Millisecond})
	f.analyzer.failing.Store(true)
	ctx := context.Background()
	code := f.newRoomWith(t, 2, "alice", "bob")

	require.NoError(t, f.gate.Submit(ctx, code, "alice", "我重视规则", false))
	require.NoError(t, f.gate.Submit(ctx, code, "bob", "我也重视规则", false))
	f.dispatcher.Wait()
	require.Equal(t, 1, f.room(t, code).AnalysisFailures)

	// 模型恢复后，扫描会开启新一轮
	f.analyzer.failing.Store(false)
	time.Sleep(5 * time.Millisecond)
	n, err := f.reportSvc.SweepStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.dispatcher.Wait()

	room := f.room(t, code)
	assert.Equal(t, domain.RoomStatusCompleted, room.Status)
	assert.Equal(t, 2, room.AnalysisAttempts)

	payload, err := f.reportSvc.GetReport(ctx, code)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"roomCode":"`+code+`"`)

	n, err = f.reportSvc.SweepStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "已完成的房间不会再被扫描")
}

func TestReportService_SweepSkipsExhaustedRooms(t *testing.T) {
	f := newFixture(t, service.ReportConfig{MaxFailures: 1, StallAfter: time.Millisecond})
	f.analyzer.failing.Store(true)
	ctx := context.Background()
	code := f.newRoomWith(t, 2, "alice", "bob")

	require.NoError(t, f.gate.Submit(ctx, code, "alice", "a", false))
	require.NoError(t, f.gate.Submit(ctx, code, "bob", "b", false))
	f.dispatcher.Wait()

	time.Sleep(5 * time.Millisecond)
	n, err := f.reportSvc.SweepStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.room(t, code).AnalysisAttempts)
}

func TestReportService_RetryReusesStoredReport(t *testing.T) {
	f := newFixture(t, service.ReportConfig{})
	ctx := context.Background()
	code := f.newRoomWith(t, 2, "alice", "bob")

	// 上一轮报告已落库，但房间还没来得及标记完成
	room := f.room(t, code)
	started := time.Now().UTC().Add(-time.Minute)
	room.Submissions = append(room.Submissions,
		domain.Submission{UserID: "alice", Content: "a", SubmittedAt: started},
		domain.Submission{UserID: "bob", Content: "b", SubmittedAt: started},
	)
	room.Analyzing = true
	room.AnalysisAttempts = 1
	room.AnalysisStartedAt = &started
	require.NoError(t, f.rooms.CompareAndSwap(ctx, room, room.Version))

	stored := `{"roomCode":"` + code + `","personal":[],"pairs":[],"degraded":true}`
	require.NoError(t, f.reports.Put(ctx, &domain.StoredReport{RoomCode: code, Payload: stored, Degraded: true}))

	require.NoError(t, f.reportSvc.RunAnalysis(ctx, code, 1))
	assert.Zero(t, f.generator.calls.Load(), "已有报告时不再重新分析")

	after := f.room(t, code)
	assert.Equal(t, domain.RoomStatusCompleted, after.Status)
	assert.False(t, after.Analyzing)

	payload, err := f.reportSvc.GetReport(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, stored, string(payload))
	assert.Contains(t, f.publisher.types(), domain.EventReportReady)
}
