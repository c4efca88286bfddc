// Package analysis 封装叙事分析能力。具体的模型提供方可替换，调用方只依赖 Analyzer 接口。
package analysis

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	// MaxSketchRunes 和 MaxReasonRunes 限制模型输出写进报告的长度
	MaxSketchRunes = 500
	MaxReasonRunes = 500
)

// ErrEmptyOutput 表示模型返回了空的画像或理由，按失败处理
var ErrEmptyOutput = errors.New("analysis: empty model output")

// SketchInput 只包含单个成员自己的叙事
type SketchInput struct {
	Scenario  string
	Narrative string
}

// PairInput 只包含这一对成员的两份叙事
type PairInput struct {
	Scenario   string
	NarrativeA string
	NarrativeB string
}

type PairResult struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// Analyzer 是不透明的分析能力。实现必须是并发安全的。
type Analyzer interface {
	Sketch(ctx context.Context, in SketchInput) (string, error)
	Pair(ctx context.Context, in PairInput) (PairResult, error)
}

// ClampScore 把分数限制在 [0,100]
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Truncate 按码点截断并去掉首尾空白
func Truncate(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxRunes]))
}
