package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

const sketchInstructions = `你是一名性格分析师。用户会给出一个情景以及某个人在该情景下会如何行动的叙述。
只根据这一份叙述，用一到三句中文描述这个人的性格画像。不要编造叙述中没有的信息。
以 JSON 返回：{"sketch": "..."}`

const pairInstructions = `你是一名关系分析师。用户会给出一个情景以及两个人各自在该情景下会如何行动的叙述。
只根据这两份叙述，评估两人的契合度：score 为 0 到 100 的整数，reason 用一到三句中文说明理由。
以 JSON 返回：{"score": 0, "reason": "..."}`

func buildSketchInput(in SketchInput) string {
	var b strings.Builder
	writeScenario(&b, in.Scenario)
	fmt.Fprintf(&b, "叙述：\n%s\n", in.Narrative)
	return b.String()
}

func buildPairInput(in PairInput) string {
	var b strings.Builder
	writeScenario(&b, in.Scenario)
	fmt.Fprintf(&b, "叙述 A：\n%s\n\n叙述 B：\n%s\n", in.NarrativeA, in.NarrativeB)
	return b.String()
}

func writeScenario(b *strings.Builder, scenario string) {
	scenario = strings.TrimSpace(scenario)
	if scenario == "" {
		scenario = "（未提供情景描述）"
	}
	fmt.Fprintf(b, "情景：\n%s\n\n", scenario)
}

// sketchResponse 和 pairResponse 是模型结构化输出的形状
type sketchResponse struct {
	Sketch string `json:"sketch" jsonschema:"required"`
}

// Score 用 json.Number 接收，Gemini 的 JSON 模式没有 schema 约束，可能返回 87.5 或 "90"
type pairResponse struct {
	Score  json.Number `json:"score" jsonschema:"required"`
	Reason string      `json:"reason" jsonschema:"required"`
}

// JSONSchemaExtend 让严格模式仍然要求模型输出整数分数
func (pairResponse) JSONSchemaExtend(schema *jsonschema.Schema) {
	if score, ok := schema.Properties.Get("score"); ok {
		score.Type = "integer"
	}
}

func (r sketchResponse) validate() (string, error) {
	s := Truncate(r.Sketch, MaxSketchRunes)
	if s == "" {
		return "", ErrEmptyOutput
	}
	return s, nil
}

func (r pairResponse) validate() (PairResult, error) {
	reason := Truncate(r.Reason, MaxReasonRunes)
	if reason == "" {
		return PairResult{}, ErrEmptyOutput
	}
	score, err := parseScore(r.Score)
	if err != nil {
		return PairResult{}, err
	}
	return PairResult{Score: score, Reason: reason}, nil
}

// parseScore 四舍五入后限制在 [0,100]
func parseScore(n json.Number) (int, error) {
	raw := strings.TrimSpace(string(n))
	if raw == "" {
		return 0, fmt.Errorf("analysis: missing score")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) {
		return 0, fmt.Errorf("analysis: invalid score %q", raw)
	}
	return ClampScore(int(math.Round(math.Max(-1, math.Min(101, f))))), nil
}
