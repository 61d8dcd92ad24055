package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"hwtutor/internal/audio"
	"hwtutor/internal/config"
	"hwtutor/internal/credential"
	"hwtutor/internal/domain"
	"hwtutor/internal/metrics"
	"hwtutor/internal/ports"
	"hwtutor/internal/providers/gemini"
	"hwtutor/internal/providers/geminilive"
	"hwtutor/internal/rules"
	"hwtutor/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Logger     *slog.Logger
	Gate       *credential.Gate
	Metrics    *metrics.Recorder
	Generation *usecase.GenerationService

	deps      usecase.Dependencies
	sessionFn func(domain.HomeworkAnalysis) usecase.Config
}

// NewTutorSession returns a fresh, idle session primed with the homework
// analysis as tutoring context.
func (s Services) NewTutorSession(analysis domain.HomeworkAnalysis) *usecase.SessionController {
	return usecase.NewSessionController(s.deps, s.sessionFn(analysis))
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, clipboard ports.Clipboard, selector credential.Selector) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	logger := NewLogger(cfg.Log, os.Stderr)

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	capture, err := newCapture(cfg.Audio)
	if err != nil {
		return Services{}, err
	}

	gate := credential.NewGate(cfg.Gemini.APIKey, selector)
	recorder := metrics.NewRecorder("hwtutor")

	live := geminilive.NewProvider(geminilive.Config{
		APIBaseURL: cfg.Gemini.APIBaseURL,
		Logger:     logger,
	}, gate)
	generators := gemini.NewProvider(gemini.Config{
		APIBaseURL:    generationBaseURL(cfg.Gemini.APIBaseURL),
		AnalysisModel: cfg.Gemini.AnalysisModel,
		ImageModel:    cfg.Gemini.ImageModel,
		VideoModel:    cfg.Gemini.VideoModel,
		PollInterval:  cfg.Gemini.PollInterval,
		Logger:        logger,
	}, gate)

	deps := usecase.Dependencies{
		Capture:   capture,
		Playback:  audio.NewOtoPlayback(cfg.Audio.PlaybackBuffer),
		Provider:  live,
		Gate:      gate,
		Rules:     rulesEngine,
		Clipboard: clipboard,
		Events:    eventSink,
		Metrics:   recorder,
		Logger:    logger,
	}

	sessionFn := func(analysis domain.HomeworkAnalysis) usecase.Config {
		return usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:  domain.CaptureSampleRate,
				Channels:    domain.CaptureChannels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Playback: ports.PlaybackConfig{
				SampleRate: domain.PlaybackSampleRate,
				Channels:   domain.PlaybackChannels,
			},
			Live: ports.LiveConfig{
				Model:               cfg.Gemini.LiveModel,
				ResponseModality:    "AUDIO",
				VoiceName:           cfg.Gemini.Voice,
				SystemInstruction:   usecase.TutorInstruction(analysis),
				InputTranscription:  true,
				OutputTranscription: true,
				InputSampleRate:     domain.CaptureSampleRate,
			},
			BlockSize: cfg.Audio.BlockSize,
		}
	}

	logger.Info("runtime ready",
		"audio_backend", cfg.Audio.Backend,
		"live_model", cfg.Gemini.LiveModel,
		"rules_file", cfg.Rules.Path,
		"credential_present", gate.APIKey() != "",
	)

	return Services{
		Config:     cfg,
		Logger:     logger,
		Gate:       gate,
		Metrics:    recorder,
		Generation: usecase.NewGenerationService(generators, generators, generators, gate, logger),
		deps:       deps,
		sessionFn:  sessionFn,
	}, nil
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// generationBaseURL gives the genai client a slash-terminated base, or an
// empty one so the SDK uses its default endpoint.
func generationBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return base + "/"
}

func newCapture(cfg config.AudioConfig) (ports.AudioCapture, error) {
	switch cfg.Backend {
	case config.BackendFFMPEG, "":
		return audio.NewFFMPEGCapture(cfg.RecorderCommand), nil
	case config.BackendMalgo:
		return audio.NewMalgoCapture(), nil
	case config.BackendPortAudio:
		return audio.NewPortAudioCapture(cfg.BlockSize), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
}
