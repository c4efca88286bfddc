package service_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"situation-room/internal/analysis"
	"situation-room/internal/domain"
	"situation-room/internal/service"
)

// scriptedAnalyzer 由测试决定每次调用的返回
type scriptedAnalyzer struct {
	sketch    func(in analysis.SketchInput) (string, error)
	pair      func(in analysis.PairInput) (analysis.PairResult, error)
	inFlight  atomic.Int64
	maxFlight atomic.Int64
}

func (a *scriptedAnalyzer) track() func() {
	n := a.inFlight.Add(1)
	for {
		cur := a.maxFlight.Load()
		if n <= cur || a.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return func() { a.inFlight.Add(-1) }
}

func (a *scriptedAnalyzer) Sketch(ctx context.Context, in analysis.SketchInput) (string, error) {
	defer a.track()()
	if a.sketch == nil {
		return "画像:" + in.Narrative, nil
	}
	return a.sketch(in)
}

func (a *scriptedAnalyzer) Pair(ctx context.Context, in analysis.PairInput) (analysis.PairResult, error) {
	defer a.track()()
	if a.pair == nil {
		return analysis.PairResult{Score: 70, Reason: in.NarrativeA + "+" + in.NarrativeB}, nil
	}
	return a.pair(in)
}

// genai 的依赖在 init 时启动了 opencensus 的后台 worker
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func submittedRoom(members ...string) *domain.Room {
	room := &domain.Room{Code: "ABC234", Status: domain.RoomStatusInProgress, Members: members, MaxMembers: 8}
	for _, m := range members {
		room.Submissions = append(room.Submissions, domain.Submission{UserID: m, Content: m + "-叙事", IsPublic: m == "carol"})
	}
	return room
}

func engineConfig() service.EngineConfig {
	return service.EngineConfig{Concurrency: 3, CallTimeout: time.Second, CallRetries: 1, BaseBackoff: time.Millisecond}
}

func TestCompatibilityEngine_DeterministicOrder(t *testing.T) {
	defer verifyNoLeaks(t)
	analyzer := &scriptedAnalyzer{}
	engine := service.NewCompatibilityEngine(analyzer, engineConfig())

	// 加入顺序和字典序不同
	report, err := engine.Generate(context.Background(), submittedRoom("dave", "bob", "carol", "alice"))
	require.NoError(t, err)

	require.Len(t, report.Personal, 4)
	for i, want := range []string{"alice", "bob", "carol", "dave"} {
		assert.Equal(t, want, report.Personal[i].UserID)
		assert.Equal(t, "画像:"+want+"-叙事", report.Personal[i].Sketch, "画像只能来自本人的叙事")
	}

	require.Len(t, report.Pairs, 6, "4 人应有 C(4,2)=6 对")
	wantPairs := [][2]string{{"alice", "bob"}, {"alice", "carol"}, {"alice", "dave"}, {"bob", "carol"}, {"bob", "dave"}, {"carol", "dave"}}
	for i, p := range report.Pairs {
		assert.Equal(t, wantPairs[i][0], p.UserA)
		assert.Equal(t, wantPairs[i][1], p.UserB)
		assert.Less(t, p.UserA, p.UserB)
		assert.Equal(t, p.UserA+"-叙事+"+p.UserB+"-叙事", p.Reason, "配对只能使用这两人的叙事")
	}

	require.Len(t, report.PublicSubmissions, 1)
	assert.Equal(t, "carol", report.PublicSubmissions[0].UserID)
	assert.False(t, report.Degraded)
	assert.LessOrEqual(t, analyzer.maxFlight.Load(), int64(3), "并发不能超过上限")
}

func TestCompatibilityEngine_PartialFailureIsDegraded(t *testing.T) {
	defer verifyNoLeaks(t)
	var bobCalls atomic.Int64
	analyzer := &scriptedAnalyzer{
		sketch: func(in analysis.SketchInput) (string, error) {
			if strings.HasPrefix(in.Narrative, "bob") {
				bobCalls.Add(1)
				return "", errors.New("upstream 500")
			}
			return "稳重", nil
		},
	}
	engine := service.NewCompatibilityEngine(analyzer, engineConfig())

	report, err := engine.Generate(context.Background(), submittedRoom("alice", "bob"))
	require.NoError(t, err)

	assert.True(t, report.Degraded)
	assert.False(t, report.Personal[0].Degraded)
	assert.True(t, report.Personal[1].Degraded)
	assert.Equal(t, analysis.HeuristicSketch("bob-叙事"), report.Personal[1].Sketch, "失败条目用启发式结果占位")
	assert.Equal(t, int64(2), bobCalls.Load(), "失败的调用应重试一次")
	assert.False(t, report.Pairs[0].Degraded)
}

func TestCompatibilityEngine_AllCallsFail(t *testing.T) {
	defer verifyNoLeaks(t)
	fail := errors.New("quota exceeded")
	analyzer := &scriptedAnalyzer{
		sketch: func(analysis.SketchInput) (string, error) { return "", fail },
		pair:   func(analysis.PairInput) (analysis.PairResult, error) { return analysis.PairResult{}, fail },
	}
	engine := service.NewCompatibilityEngine(analyzer, engineConfig())

	report, err := engine.Generate(context.Background(), submittedRoom("alice", "bob", "carol"))
	assert.Nil(t, report)
	assert.ErrorIs(t, err, service.ErrAllCallsFailed)
}

func TestCompatibilityEngine_SanitizesModelOutput(t *testing.T) {
	defer verifyNoLeaks(t)
	scores := map[string]int{"alice-叙事": 150, "bob-叙事": -20}
	analyzer := &scriptedAnalyzer{
		sketch: func(in analysis.SketchInput) (string, error) {
			return "  " + strings.Repeat("长", analysis.MaxSketchRunes+50) + "  ", nil
		},
		pair: func(in analysis.PairInput) (analysis.PairResult, error) {
			return analysis.PairResult{Score: scores[in.NarrativeA], Reason: "  理由  "}, nil
		},
	}
	engine := service.NewCompatibilityEngine(analyzer, engineConfig())

	report, err := engine.Generate(context.Background(), submittedRoom("alice", "bob", "carol"))
	require.NoError(t, err)

	for _, p := range report.Personal {
		assert.Equal(t, analysis.MaxSketchRunes, len([]rune(p.Sketch)))
	}
	for _, p := range report.Pairs {
		assert.GreaterOrEqual(t, p.Score, domain.MinScore)
		assert.LessOrEqual(t, p.Score, domain.MaxScore)
		assert.Equal(t, "理由", p.Reason)
	}
	assert.Equal(t, 100, report.Pairs[0].Score)
	assert.Equal(t, 0, report.Pairs[2].Score)
}

func TestCompatibilityEngine_EmptyOutputCountsAsFailure(t *testing.T) {
	defer verifyNoLeaks(t)
	analyzer := &scriptedAnalyzer{
		pair: func(analysis.PairInput) (analysis.PairResult, error) {
			return analysis.PairResult{Score: 90, Reason: "   "}, nil
		},
	}
	engine := service.NewCompatibilityEngine(analyzer, engineConfig())

	report, err := engine.Generate(context.Background(), submittedRoom("alice", "bob"))
	require.NoError(t, err)
	assert.True(t, report.Pairs[0].Degraded)
	assert.Equal(t, analysis.HeuristicPair("alice-叙事", "bob-叙事"), analysis.PairResult{Score: report.Pairs[0].Score, Reason: report.Pairs[0].Reason})
}

func TestCompatibilityEngine_DeadlineExceeded(t *testing.T) {
	defer verifyNoLeaks(t)
	analyzer := &scriptedAnalyzer{
		sketch: func(analysis.SketchInput) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "慢", nil
		},
	}
	engine := service.NewCompatibilityEngine(analyzer, engineConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := engine.Generate(ctx, submittedRoom("alice", "bob"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompatibilityEngine_RequiresAllSubmissions(t *testing.T) {
	engine := service.NewCompatibilityEngine(&scriptedAnalyzer{}, engineConfig())
	room := submittedRoom("alice", "bob")
	room.Members = append(room.Members, "carol")

	_, err := engine.Generate(context.Background(), room)
	assert.Error(t, err)
}
