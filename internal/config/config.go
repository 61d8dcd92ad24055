package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the tutor.
type Config struct {
	Gemini  GeminiConfig  `yaml:"gemini"`
	Audio   AudioConfig   `yaml:"audio"`
	Rules   RulesConfig   `yaml:"rules"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type GeminiConfig struct {
	APIKey        string        `yaml:"api_key"`
	APIBaseURL    string        `yaml:"api_base_url"`
	LiveModel     string        `yaml:"live_model"`
	Voice         string        `yaml:"voice"`
	AnalysisModel string        `yaml:"analysis_model"`
	ImageModel    string        `yaml:"image_model"`
	VideoModel    string        `yaml:"video_model"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type AudioConfig struct {
	Backend         string        `yaml:"backend"`
	RecorderCommand string        `yaml:"recorder_command"`
	InputFormat     string        `yaml:"input_format"`
	InputDevice     string        `yaml:"input_device"`
	BlockSize       int           `yaml:"block_size"`
	PlaybackBuffer  time.Duration `yaml:"playback_buffer"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iteration_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

const (
	BackendFFMPEG    = "ffmpeg"
	BackendMalgo     = "malgo"
	BackendPortAudio = "portaudio"
)

var ErrUnknownBackend = errors.New("unknown audio backend")

// Load resolves configuration from defaults, an optional YAML file named by
// HWTUTOR_CONFIG, a .env file and the environment, later layers winning.
func Load() (Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := defaults(home)
	if path := strings.TrimSpace(os.Getenv("HWTUTOR_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	switch cfg.Audio.Backend {
	case BackendFFMPEG, BackendMalgo, BackendPortAudio:
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Audio.Backend)
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Audio.BlockSize < 256 {
		cfg.Audio.BlockSize = 4096
	}
	if cfg.Audio.PlaybackBuffer <= 0 {
		cfg.Audio.PlaybackBuffer = 100 * time.Millisecond
	}
	if cfg.Gemini.PollInterval <= 0 {
		cfg.Gemini.PollInterval = 5 * time.Second
	}

	return cfg, nil
}

func defaults(home string) Config {
	return Config{
		Gemini: GeminiConfig{
			APIBaseURL:    "https://generativelanguage.googleapis.com",
			LiveModel:     "gemini-2.5-flash-native-audio-preview-12-2025",
			Voice:         "Zephyr",
			AnalysisModel: "gemini-3-pro-preview",
			ImageModel:    "gemini-2.5-flash-image",
			VideoModel:    "veo-3.1-fast-generate-preview",
			PollInterval:  5 * time.Second,
		},
		Audio: AudioConfig{
			Backend:         BackendFFMPEG,
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			BlockSize:       4096,
			PlaybackBuffer:  100 * time.Millisecond,
		},
		Rules: RulesConfig{
			Path:           filepath.Join(home, ".config", "hwtutor", "substitutions.rules"),
			IterationLimit: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	g := &cfg.Gemini
	g.APIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY"), g.APIKey)
	g.APIBaseURL = envOrDefault("HWTUTOR_GEMINI_API_BASE", g.APIBaseURL)
	g.LiveModel = envOrDefault("HWTUTOR_LIVE_MODEL", g.LiveModel)
	g.Voice = envOrDefault("HWTUTOR_VOICE", g.Voice)
	g.AnalysisModel = envOrDefault("HWTUTOR_ANALYSIS_MODEL", g.AnalysisModel)
	g.ImageModel = envOrDefault("HWTUTOR_IMAGE_MODEL", g.ImageModel)
	g.VideoModel = envOrDefault("HWTUTOR_VIDEO_MODEL", g.VideoModel)
	g.PollInterval = envOrDefaultMillis("HWTUTOR_VIDEO_POLL_MS", g.PollInterval)

	a := &cfg.Audio
	a.Backend = strings.ToLower(envOrDefault("HWTUTOR_AUDIO_BACKEND", a.Backend))
	a.RecorderCommand = envOrDefault("HWTUTOR_FFMPEG_COMMAND", a.RecorderCommand)
	a.InputFormat = envOrDefault("HWTUTOR_AUDIO_INPUT_FORMAT", a.InputFormat)
	a.InputDevice = firstNonEmpty(os.Getenv("HWTUTOR_AUDIO_INPUT_DEVICE"), os.Getenv("PULSE_SOURCE"), a.InputDevice)
	a.BlockSize = envOrDefaultInt("HWTUTOR_CAPTURE_BLOCK_SIZE", a.BlockSize)
	a.PlaybackBuffer = envOrDefaultMillis("HWTUTOR_PLAYBACK_BUFFER_MS", a.PlaybackBuffer)

	cfg.Rules.Path = envOrDefault("HWTUTOR_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.IterationLimit = envOrDefaultInt("HWTUTOR_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)

	cfg.Log.Level = strings.ToLower(envOrDefault("HWTUTOR_LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(envOrDefault("HWTUTOR_LOG_FORMAT", cfg.Log.Format))

	cfg.Metrics.ListenAddr = envOrDefault("HWTUTOR_METRICS_ADDR", cfg.Metrics.ListenAddr)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
