package analysis

import (
	"context"
	"strings"
)

// 关键词池，顺序决定理由里关键词的排列顺序
var keywordPool = []string{"责任", "公平", "效率", "情绪", "长期", "短期", "规则", "风险", "群体", "个人"}

type trait struct {
	label string
	cues  []string
}

var traits = []trait{
	{label: "自律", cues: []string{"计划", "规则", "责任"}},
	{label: "看重公平", cues: []string{"公平", "平衡", "公正"}},
	{label: "富有理解", cues: []string{"共情", "理解", "感受"}},
}

// Heuristic 是不依赖外部服务的关键词分析器。离线部署时直接使用，
// 模型调用失败时也用它给降级条目生成占位内容。输出完全由输入决定。
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

func (h *Heuristic) Sketch(ctx context.Context, in SketchInput) (string, error) {
	return HeuristicSketch(in.Narrative), nil
}

func (h *Heuristic) Pair(ctx context.Context, in PairInput) (PairResult, error) {
	return HeuristicPair(in.NarrativeA, in.NarrativeB), nil
}

// HeuristicSketch 根据叙事中出现的特征词拼出画像
func HeuristicSketch(narrative string) string {
	lower := strings.ToLower(narrative)
	var labels []string
	for _, t := range traits {
		for _, cue := range t.cues {
			if strings.Contains(lower, cue) {
				labels = append(labels, t.label)
				break
			}
		}
	}
	if len(labels) == 0 {
		labels = append(labels, "务实")
	}
	return "一个" + strings.Join(labels, "、") + "的人"
}

// HeuristicPair 分数 = 50 + 10 * 共同关键词数，限制在 [0,100]
func HeuristicPair(a, b string) PairResult {
	common := commonKeywords(a, b)
	score := ClampScore(50 + 10*len(common))
	reason := "你们的叙事关注点不同，但互补可能带来新的视角。"
	if len(common) > 0 {
		reason = "你们都关注了" + strings.Join(common, "、") + "，在价值取向上更一致。"
	}
	return PairResult{Score: score, Reason: reason}
}

func commonKeywords(a, b string) []string {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	var out []string
	for _, k := range keywordPool {
		if strings.Contains(la, k) && strings.Contains(lb, k) {
			out = append(out, k)
		}
	}
	return out
}
