package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"situation-room/internal/domain"
	"situation-room/internal/service"
)

func TestSubmissionGate_LengthBoundaryCountsRunes(t *testing.T) {
	f := newFixture(t, service.ReportConfig{})
	f.generator.gate = make(chan struct{})
	defer close(f.generator.gate)
	ctx := context.Background()
	code := f.newRoomWith(t, 3, "alice", "bob", "carol")

	// 1000 个"你"是 3000 字节，但只有 1000 个码点
	exact := strings.Repeat("你", domain.MaxNarrativeRunes)
	require.NoError(t, f.gate.Submit(ctx, code, "alice", exact, false))

	tooLong := strings.Repeat("你", domain.MaxNarrativeRunes+1)
	err := f.gate.Submit(ctx, code, "bob", tooLong, false)
	assert.ErrorIs(t, err, service.ErrTooLong)
	assert.False(t, f.room(t, code).HasSubmitted("bob"), "超长提交不应写入")
}

func TestSubmissionGate_ValidationOrder(t *testing.T) {
	f := newFixture(t, service.ReportConfig{})
	ctx := context.Background()
	waiting := f.newRoomWith(t, 4, "alice")
	active := f.newRoomWith(t, 4, "alice", "bob", "carol")

	for _, tc := range []struct {
		name    string
		code    string
		user    string
		content string
		want    error
	}{
		{"empty content", active, "alice", "   ", service.ErrInvalidInput},
		{"too long beats missing room", "NOPE22", "alice", strings.Repeat("a", 1001), service.ErrTooLong},
		{"missing room", "NOPE22", "alice", "hi", service.ErrRoomNotFound},
		{"non member", active, "mallory", "hi", service.ErrNotAMember},
		{"waiting room", waiting, "alice", "hi", service.ErrInvalidState},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := f.gate.Submit(ctx, tc.code, tc.user, tc.content, false)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	require.NoError(t, f.gate.Submit(ctx, active, "alice", "第一次", false))
	err := f.gate.Submit(ctx, active, "alice", "第二次", false)
	assert.ErrorIs(t, err, service.ErrAlreadySubmitted)

	room := f.room(t, active)
	s, ok := room.SubmissionOf("alice")
	require.True(t, ok)
	assert.Equal(t, "第一次", s.Content, "提交不可修改")
	assert.False(t, room.Analyzing)
}

func TestSubmissionGate_ConcurrentSubmitsTriggerExactlyOnce(t *testing.T) {
	f := newFixture(t, service.ReportConfig{})
	ctx := context.Background()

	members := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8"}
	code := f.newRoomWith(t, 8, members[0], members[1:]...)

	var wg sync.WaitGroup
	errs := make(chan error, len(members))
	for _, m := range members {
		wg.Add(1)
		go func(m string) {
			defer wg.Done()
			errs <- f.gate.Submit(ctx, code, m, fmt.Sprintf("%s 认为应该先讲规则，再讲情绪", m), false)
		}(m)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err, "每个成员的提交都应恰好成功一次")
	}

	f.dispatcher.Wait()

	assert.Equal(t, int64(1), f.generator.calls.Load(), "整轮分析只能执行一次")
	assert.Equal(t, int64(len(members)), f.analyzer.sketches.Load())
	assert.Equal(t, int64(len(members)*(len(members)-1)/2), f.analyzer.pairs.Load())

	room := f.room(t, code)
	assert.Equal(t, domain.RoomStatusCompleted, room.Status)
	assert.Equal(t, 1, room.AnalysisAttempts)
	assert.False(t, room.Analyzing)

	types := f.publisher.types()
	started := 0
	for _, ty := range types {
		if ty == domain.EventAnalysisStarted {
			started++
		}
	}
	assert.Equal(t, 1, started)
	assert.Contains(t, types, domain.EventReportReady)
}

func TestSubmissionGate_SubmitAfterCompletion(t *testing.T) {
	f := newFixture(t, service.ReportConfig{})
	ctx := context.Background()
	code := f.newRoomWith(t, 2, "alice", "bob")

	require.NoError(t, f.gate.Submit(ctx, code, "alice", "a", false))
	require.NoError(t, f.gate.Submit(ctx, code, "bob", "b", false))
	f.dispatcher.Wait()

	err := f.gate.Submit(ctx, code, "alice", "again", false)
	assert.ErrorIs(t, err, service.ErrInvalidState)
}

func TestSubmissionGate_RejectedWhileAnalysisInFlight(t *testing.T) {
	f := newFixture(t, service.ReportConfig{})
	f.generator.gate = make(chan struct{})
	ctx := context.Background()
	code := f.newRoomWith(t, 2, "alice", "bob")

	require.NoError(t, f.gate.Submit(ctx, code, "alice", "我会先了解情况", false))
	require.NoError(t, f.gate.Submit(ctx, code, "bob", "我会直接指出问题", false))
	require.True(t, f.room(t, code).Analyzing)

	// 分析被 gate 卡住时，任何提交都被拒绝且不会再次触发分析
	err := f.gate.Submit(ctx, code, "bob", "改主意了", false)
	assert.ErrorIs(t, err, service.ErrInvalidState)
	err = f.gate.Submit(ctx, code, "alice", "再补充一句", true)
	assert.ErrorIs(t, err, service.ErrInvalidState)

	close(f.generator.gate)
	f.dispatcher.Wait()

	assert.Equal(t, int64(1), f.generator.calls.Load())
	room := f.room(t, code)
	assert.Equal(t, domain.RoomStatusCompleted, room.Status)
	assert.Equal(t, 1, room.AnalysisAttempts)
	s, ok := room.SubmissionOf("bob")
	require.True(t, ok)
	assert.Equal(t, "我会直接指出问题", s.Content)
}
