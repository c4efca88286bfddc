package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"situation-room/internal/analysis"
	"situation-room/internal/domain"
	"situation-room/internal/infra/persistence/memory"
	"situation-room/internal/service"
)

var errModelDown = errors.New("model unavailable")

// switchAnalyzer 在启发式分析器外面加了调用计数和可切换的故障注入
type switchAnalyzer struct {
	inner    *analysis.Heuristic
	failing  atomic.Bool
	sketches atomic.Int64
	pairs    atomic.Int64
}

func newSwitchAnalyzer() *switchAnalyzer {
	return &switchAnalyzer{inner: analysis.NewHeuristic()}
}

func (a *switchAnalyzer) Sketch(ctx context.Context, in analysis.SketchInput) (string, error) {
	a.sketches.Add(1)
	if a.failing.Load() {
		return "", errModelDown
	}
	return a.inner.Sketch(ctx, in)
}

func (a *switchAnalyzer) Pair(ctx context.Context, in analysis.PairInput) (analysis.PairResult, error) {
	a.pairs.Add(1)
	if a.failing.Load() {
		return analysis.PairResult{}, errModelDown
	}
	return a.inner.Pair(ctx, in)
}

// countingGenerator 统计整轮分析被执行的次数
type countingGenerator struct {
	inner service.ReportGenerator
	calls atomic.Int64
	// gate 非空时 Generate 会阻塞到 gate 关闭，用来制造并发窗口
	gate chan struct{}
}

func (g *countingGenerator) Generate(ctx context.Context, room *domain.Room) (*domain.Report, error) {
	g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	return g.inner.Generate(ctx, room)
}

// recordingPublisher 记录发布过的事件类型
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.RoomEvent
}

func (p *recordingPublisher) PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	rooms      *memory.RoomStore
	reports    *memory.ReportStore
	cache      *memory.ReportCache
	analyzer   *switchAnalyzer
	generator  *countingGenerator
	dispatcher *service.InlineDispatcher
	publisher  *recordingPublisher
	roomSvc    *service.RoomService
	gate       *service.SubmissionGate
	reportSvc  *service.ReportService
}

func newFixture(t *testing.T, cfg service.ReportConfig) *fixture {
	t.Helper()
	f := &fixture{
		rooms:      memory.NewRoomStore(),
		reports:    memory.NewReportStore(),
		cache:      memory.NewReportCache(),
		analyzer:   newSwitchAnalyzer(),
		dispatcher: service.NewInlineDispatcher(),
		publisher:  &recordingPublisher{},
	}
	locker := memory.NewKeyedLocker()
	engine := service.NewCompatibilityEngine(f.analyzer, service.EngineConfig{
		Concurrency: 4,
		CallTimeout: time.Second,
		CallRetries: 0,
		BaseBackoff: time.Millisecond,
	})
	f.generator = &countingGenerator{inner: engine}
	f.roomSvc = service.NewRoomService(f.rooms, locker, service.NewCodeGenerator(), f.publisher)
	f.gate = service.NewSubmissionGate(f.rooms, locker, f.dispatcher, f.publisher)
	f.reportSvc = service.NewReportService(f.rooms, locker, f.reports, f.cache, f.generator, f.dispatcher, f.publisher, cfg)
	f.dispatcher.SetRunner(f.reportSvc)
	t.Cleanup(f.dispatcher.Wait)
	return f
}

// newRoomWith 创建房间并让 others 依次加入
func (f *fixture) newRoomWith(t *testing.T, maxMembers int, owner string, others ...string) string {
	t.Helper()
	ctx := context.Background()
	room, err := f.roomSvc.CreateRoom(ctx, owner, maxMembers, "你发现同事在报销单上多报了一笔小额费用。")
	require.NoError(t, err)
	for _, u := range others {
		_, err := f.roomSvc.JoinRoom(ctx, room.Code, u)
		require.NoError(t, err)
	}
	return room.Code
}

func (f *fixture) room(t *testing.T, code string) *domain.Room {
	t.Helper()
	room, err := f.rooms.FindByCode(context.Background(), code)
	require.NoError(t, err)
	return room
}
