package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"hwtutor/internal/domain"
)

var errNoVideo = errors.New("video generation returned no video")

func videoPrompt(prompt string) string {
	return fmt.Sprintf("Educational short explainer video for students: %s. Clear, smooth animation, informative.", prompt)
}

// GenerateVideo implements ports.VideoGenerator. It polls the long-running
// operation until it finishes and downloads the clip.
func (p *Provider) GenerateVideo(ctx context.Context, prompt string) (domain.Video, error) {
	client, err := p.client(ctx)
	if err != nil {
		return domain.Video{}, err
	}

	op, err := client.Models.GenerateVideos(ctx, p.cfg.VideoModel, videoPrompt(prompt), nil, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		Resolution:     "720p",
		AspectRatio:    "16:9",
	})
	if err != nil {
		return domain.Video{}, classify("start video generation", err)
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for !op.Done {
		select {
		case <-ctx.Done():
			return domain.Video{}, ctx.Err()
		case <-ticker.C:
		}
		op, err = client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return domain.Video{}, classify("poll video generation", err)
		}
		p.cfg.Logger.Debug("video generation polled", "operation", op.Name, "done", op.Done)
	}

	generated, err := generatedVideo(op)
	if err != nil {
		return domain.Video{}, err
	}

	data := generated.Video.VideoBytes
	if len(data) == 0 {
		data, err = client.Files.Download(ctx, genai.NewDownloadURIFromGeneratedVideo(generated), nil)
		if err != nil {
			return domain.Video{}, classify("download video", err)
		}
	}

	mime := generated.Video.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	return domain.Video{URI: generated.Video.URI, MIMEType: mime, Data: data}, nil
}

func generatedVideo(op *genai.GenerateVideosOperation) (*genai.GeneratedVideo, error) {
	if op == nil {
		return nil, errNoVideo
	}
	if len(op.Error) > 0 {
		msg := fmt.Sprint(op.Error["message"])
		if domain.IsCredentialFailure(msg) {
			return nil, fmt.Errorf("%w: %s", domain.ErrCredentialInvalid, msg)
		}
		return nil, fmt.Errorf("video generation failed: %s", msg)
	}
	if op.Response == nil {
		return nil, errNoVideo
	}
	for _, v := range op.Response.GeneratedVideos {
		if v != nil && v.Video != nil && (v.Video.URI != "" || len(v.Video.VideoBytes) > 0) {
			return v, nil
		}
	}
	return nil, errNoVideo
}
