package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"situation-room/internal/analysis"
	"situation-room/internal/domain"
)

// ErrAllCallsFailed 表示本轮分析没有任何一次模型调用成功，整份报告不可用
var ErrAllCallsFailed = errors.New("all analysis calls failed")

// EngineConfig 控制分析调用的并发、超时与重试
type EngineConfig struct {
	Concurrency int
	CallTimeout time.Duration
	CallRetries int
	BaseBackoff time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.CallRetries < 0 {
		c.CallRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	return c
}

// CompatibilityEngine 对每个成员生成画像、对每一对成员生成契合度，并组装成报告。
// 单个调用失败不会让整份报告失败，而是用启发式结果占位并标记 degraded。
type CompatibilityEngine struct {
	analyzer analysis.Analyzer
	cfg      EngineConfig
}

func NewCompatibilityEngine(analyzer analysis.Analyzer, cfg EngineConfig) *CompatibilityEngine {
	if analyzer == nil {
		panic("Analyzer cannot be nil for CompatibilityEngine")
	}
	return &CompatibilityEngine{
		analyzer: analyzer,
		cfg:      cfg.withDefaults(),
	}
}

// Generate 为房间生成报告。成员按 ID 升序，配对按 (i<j) 的字典序排列，输出顺序与调用完成顺序无关。
func (e *CompatibilityEngine) Generate(ctx context.Context, room *domain.Room) (*domain.Report, error) {
	members := room.SortedMembers()
	n := len(members)
	if n < domain.MinMembers {
		return nil, fmt.Errorf("room %s has %d members, need at least %d", room.Code, n, domain.MinMembers)
	}
	narratives := make(map[string]string, n)
	for _, m := range members {
		s, ok := room.SubmissionOf(m)
		if !ok {
			return nil, fmt.Errorf("room %s: member %s has not submitted", room.Code, m)
		}
		narratives[m] = s.Content
	}

	logCtx := logrus.WithFields(logrus.Fields{"room_code": room.Code, "members": n, "operation": "Generate"})
	personal := make([]domain.PersonalSketch, n)
	pairs := make([]domain.PairCompatibility, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, domain.PairCompatibility{UserA: members[i], UserB: members[j]})
		}
	}

	var failures atomic.Int64
	total := int64(n + len(pairs))

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)

	for i, uid := range members {
		g.Go(func() error {
			in := analysis.SketchInput{Scenario: room.Scenario, Narrative: narratives[uid]}
			var sketch string
			err := e.callWithRetry(ctx, func(callCtx context.Context) error {
				s, err := e.analyzer.Sketch(callCtx, in)
				if err != nil {
					return err
				}
				s = analysis.Truncate(s, analysis.MaxSketchRunes)
				if s == "" {
					return analysis.ErrEmptyOutput
				}
				sketch = s
				return nil
			})
			item := domain.PersonalSketch{UserID: uid, Sketch: sketch}
			if err != nil {
				failures.Add(1)
				logCtx.WithField("user_id", uid).WithError(err).Warn("Sketch call failed, using placeholder")
				item.Sketch = analysis.HeuristicSketch(in.Narrative)
				item.Degraded = true
			}
			personal[i] = item
			return nil
		})
	}

	for k := range pairs {
		g.Go(func() error {
			p := &pairs[k]
			in := analysis.PairInput{
				Scenario:   room.Scenario,
				NarrativeA: narratives[p.UserA],
				NarrativeB: narratives[p.UserB],
			}
			var result analysis.PairResult
			err := e.callWithRetry(ctx, func(callCtx context.Context) error {
				r, err := e.analyzer.Pair(callCtx, in)
				if err != nil {
					return err
				}
				r.Reason = analysis.Truncate(r.Reason, analysis.MaxReasonRunes)
				if r.Reason == "" {
					return analysis.ErrEmptyOutput
				}
				r.Score = analysis.ClampScore(r.Score)
				result = r
				return nil
			})
			if err != nil {
				failures.Add(1)
				logCtx.WithFields(logrus.Fields{"user_a": p.UserA, "user_b": p.UserB}).WithError(err).Warn("Pair call failed, using placeholder")
				result = analysis.HeuristicPair(in.NarrativeA, in.NarrativeB)
				p.Degraded = true
			}
			p.Score = result.Score
			p.Reason = result.Reason
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis deadline exceeded: %w", err)
	}
	failed := failures.Load()
	if failed == total {
		return nil, ErrAllCallsFailed
	}

	publicSubs := make([]domain.PublicSubmission, 0)
	for _, uid := range members {
		if s, _ := room.SubmissionOf(uid); s.IsPublic {
			publicSubs = append(publicSubs, domain.PublicSubmission{UserID: uid, Content: s.Content})
		}
	}

	if failed > 0 {
		logCtx.WithFields(logrus.Fields{"failed": failed, "total": total}).Warn("Report generated with degraded items")
	}
	return &domain.Report{
		RoomCode:          room.Code,
		Personal:          personal,
		Pairs:             pairs,
		PublicSubmissions: publicSubs,
		Degraded:          failed > 0,
		GeneratedAt:       time.Now().UTC(),
	}, nil
}

// callWithRetry 每次调用单独限时，失败后按指数退避重试
func (e *CompatibilityEngine) callWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.CallRetries; attempt++ {
		if attempt > 0 {
			wait := e.cfg.BaseBackoff << (attempt - 1)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		lastErr = fn(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
