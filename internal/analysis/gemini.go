package analysis

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiAnalyzer 通过 Gemini API 的 JSON 输出模式调用模型
type GeminiAnalyzer struct {
	client *genai.Client
	model  string
}

func NewGeminiAnalyzer(ctx context.Context, apiKey, model string) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiAnalyzer{client: client, model: model}, nil
}

func (a *GeminiAnalyzer) Sketch(ctx context.Context, in SketchInput) (string, error) {
	var out sketchResponse
	if err := a.call(ctx, sketchInstructions, buildSketchInput(in), &out); err != nil {
		return "", err
	}
	return out.validate()
}

func (a *GeminiAnalyzer) Pair(ctx context.Context, in PairInput) (PairResult, error) {
	var out pairResponse
	if err := a.call(ctx, pairInstructions, buildPairInput(in), &out); err != nil {
		return PairResult{}, err
	}
	return out.validate()
}

func (a *GeminiAnalyzer) call(ctx context.Context, instructions, input string, v any) error {
	contents := []*genai.Content{
		genai.NewContentFromText(input, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instructions, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.4),
		MaxOutputTokens:   600,
	}
	result, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return fmt.Errorf("GenAI generate failed: %w", err)
	}
	if err := decodeModelJSON(result.Text(), v); err != nil {
		return fmt.Errorf("GenAI decode failed: %w", err)
	}
	return nil
}
