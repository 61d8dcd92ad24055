package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

var (
	ErrEmptyImage  = errors.New("homework image is empty")
	ErrEmptyPrompt = errors.New("generation prompt is empty")
)

// GenerationService runs the request/response calls that surround a
// tutoring session: explaining the homework photo and illustrating it.
type GenerationService struct {
	analyzer    ports.HomeworkAnalyzer
	illustrator ports.IllustrationGenerator
	video       ports.VideoGenerator
	gate        ports.CredentialGate
	logger      *slog.Logger
}

func NewGenerationService(
	analyzer ports.HomeworkAnalyzer,
	illustrator ports.IllustrationGenerator,
	video ports.VideoGenerator,
	gate ports.CredentialGate,
	logger *slog.Logger,
) *GenerationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationService{
		analyzer:    analyzer,
		illustrator: illustrator,
		video:       video,
		gate:        gate,
		logger:      logger,
	}
}

// Analyze explains a photographed homework problem.
func (s *GenerationService) Analyze(ctx context.Context, image []byte, mimeType string) (domain.HomeworkAnalysis, error) {
	if len(image) == 0 {
		return domain.HomeworkAnalysis{}, ErrEmptyImage
	}
	if err := s.ensureCredential(ctx); err != nil {
		return domain.HomeworkAnalysis{}, err
	}

	analysis, err := s.analyzer.Analyze(ctx, image, mimeType)
	if err != nil {
		s.logger.Error("homework analysis failed", "error", err)
		return domain.HomeworkAnalysis{}, fmt.Errorf("analyze homework: %w", err)
	}
	s.logger.Info("homework analysed", "subject", analysis.Subject, "topic", analysis.Topic)
	return analysis, nil
}

// GenerateIllustration renders the analysis' visual prompt.
func (s *GenerationService) GenerateIllustration(ctx context.Context, prompt string) (domain.Illustration, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.Illustration{}, ErrEmptyPrompt
	}
	if err := s.ensureCredential(ctx); err != nil {
		return domain.Illustration{}, err
	}

	img, err := s.illustrator.GenerateIllustration(ctx, prompt)
	if err != nil {
		s.logger.Error("illustration failed", "error", err)
		return domain.Illustration{}, fmt.Errorf("generate illustration: %w", err)
	}
	return img, nil
}

// GenerateVideo renders the analysis' video prompt. Video models need a
// billing-enabled key, so a rejected key reopens the selector before the
// error is returned.
func (s *GenerationService) GenerateVideo(ctx context.Context, prompt string) (domain.Video, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.Video{}, ErrEmptyPrompt
	}
	if err := s.ensureCredential(ctx); err != nil {
		return domain.Video{}, err
	}

	video, err := s.video.GenerateVideo(ctx, prompt)
	if err == nil {
		return video, nil
	}

	s.logger.Error("video generation failed", "error", err)
	if s.gate != nil && (errors.Is(err, domain.ErrCredentialInvalid) || domain.IsCredentialFailure(err.Error())) {
		if promptErr := s.gate.OpenCredentialSelector(ctx); promptErr != nil {
			s.logger.Warn("credential selection failed", "error", promptErr)
		}
	}
	return domain.Video{}, fmt.Errorf("generate video: %w", err)
}

func (s *GenerationService) ensureCredential(ctx context.Context) error {
	if s.gate == nil || s.gate.HasSelectedCredential(ctx) {
		return nil
	}
	if err := s.gate.OpenCredentialSelector(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCredentialInvalid, err)
	}
	if !s.gate.HasSelectedCredential(ctx) {
		return fmt.Errorf("%w: no credential selected", domain.ErrCredentialInvalid)
	}
	return nil
}
