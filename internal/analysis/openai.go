package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const defaultOpenAIModel = "gpt-4o-mini"

var (
	sketchSchema = generateSchema[sketchResponse]()
	pairSchema   = generateSchema[pairResponse]()
)

// OpenAIAnalyzer 通过 Responses API 的严格 JSON Schema 输出调用模型。
// 每次调用只发一个请求，重试和超时由调用方控制。
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnalyzer extraOpts 主要用于测试时替换 BaseURL
func NewOpenAIAnalyzer(apiKey, model string, extraOpts ...option.RequestOption) (*OpenAIAnalyzer, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, extraOpts...)
	client := openai.NewClient(opts...)
	return &OpenAIAnalyzer{client: &client, model: model}, nil
}

func (a *OpenAIAnalyzer) Sketch(ctx context.Context, in SketchInput) (string, error) {
	var out sketchResponse
	if err := a.call(ctx, sketchInstructions, buildSketchInput(in), "PersonalSketch", sketchSchema, 600, &out); err != nil {
		return "", err
	}
	return out.validate()
}

func (a *OpenAIAnalyzer) Pair(ctx context.Context, in PairInput) (PairResult, error) {
	var out pairResponse
	if err := a.call(ctx, pairInstructions, buildPairInput(in), "PairCompatibility", pairSchema, 600, &out); err != nil {
		return PairResult{}, err
	}
	return out.validate()
}

func (a *OpenAIAnalyzer) call(ctx context.Context, instructions, input, schemaName string, schema map[string]interface{}, maxOut int64, v any) error {
	params := responses.ResponseNewParams{
		Model:           a.model,
		MaxOutputTokens: openai.Int(maxOut),
		Instructions:    openai.String(instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(input, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   schemaName,
					Schema: schema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		},
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai: %s request failed: %w", schemaName, err)
	}
	if err := decodeModelJSON(resp.OutputText(), v); err != nil {
		return fmt.Errorf("openai: decode %s: %w", schemaName, err)
	}
	return nil
}
