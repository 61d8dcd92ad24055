package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"hwtutor/internal/domain"
)

const analysisPrompt = "Analyze this homework problem. Provide a clear explanation for a student, " +
	"break it down into key points, and suggest a specific visual prompt (for an image generator) " +
	"and a video prompt (for a video generator) that would help illustrate the core concept. Return as JSON."

var errEmptyAnalysis = errors.New("model returned no analysis")

func analysisSchema() *genai.Schema {
	str := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"subject":      str(),
			"topic":        str(),
			"explanation":  str(),
			"keyPoints":    {Type: genai.TypeArray, Items: str()},
			"visualPrompt": str(),
			"videoPrompt":  str(),
		},
		Required: []string{"subject", "topic", "explanation", "keyPoints", "visualPrompt", "videoPrompt"},
	}
}

// Analyze implements ports.HomeworkAnalyzer.
func (p *Provider) Analyze(ctx context.Context, image []byte, mimeType string) (domain.HomeworkAnalysis, error) {
	client, err := p.client(ctx)
	if err != nil {
		return domain.HomeworkAnalysis{}, err
	}
	if mimeType == "" {
		mimeType = "image/png"
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(analysisPrompt),
		}, genai.RoleUser),
	}
	resp, err := client.Models.GenerateContent(ctx, p.cfg.AnalysisModel, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   analysisSchema(),
	})
	if err != nil {
		return domain.HomeworkAnalysis{}, classify("analyze homework", err)
	}

	p.cfg.Logger.Debug("analysis response received", "model", p.cfg.AnalysisModel)
	return parseAnalysis(resp.Text())
}

func parseAnalysis(text string) (domain.HomeworkAnalysis, error) {
	text = strings.TrimSpace(text)
	// Some models wrap JSON in a fenced block even in JSON mode.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.HomeworkAnalysis{}, errEmptyAnalysis
	}

	var analysis domain.HomeworkAnalysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil {
		return domain.HomeworkAnalysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	return analysis, nil
}
