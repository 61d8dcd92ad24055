package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"hwtutor/internal/domain"
)

var errNoImage = errors.New("model returned no image")

func illustrationPrompt(prompt string) string {
	return fmt.Sprintf("Educational illustration for a student: %s. Clean, helpful, labeled diagram style.", prompt)
}

// GenerateIllustration implements ports.IllustrationGenerator.
func (p *Provider) GenerateIllustration(ctx context.Context, prompt string) (domain.Illustration, error) {
	client, err := p.client(ctx)
	if err != nil {
		return domain.Illustration{}, err
	}

	resp, err := client.Models.GenerateContent(ctx, p.cfg.ImageModel, genai.Text(illustrationPrompt(prompt)), &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{AspectRatio: "1:1"},
	})
	if err != nil {
		return domain.Illustration{}, classify("generate illustration", err)
	}
	return firstImage(resp)
}

func firstImage(resp *genai.GenerateContentResponse) (domain.Illustration, error) {
	if resp == nil {
		return domain.Illustration{}, errNoImage
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return domain.Illustration{MIMEType: mime, Data: part.InlineData.Data}, nil
		}
	}
	return domain.Illustration{}, errNoImage
}
