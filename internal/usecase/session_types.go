package usecase

import (
	"log/slog"
	"time"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

// Config fixes the audio formats and remote model settings of a session.
type Config struct {
	Audio     ports.AudioConfig
	Playback  ports.PlaybackConfig
	Live      ports.LiveConfig
	BlockSize int
}

// Dependencies are the collaborators a tutoring session drives. Metrics and
// Logger are optional.
type Dependencies struct {
	Capture   ports.AudioCapture
	Playback  ports.AudioPlayback
	Provider  ports.LiveProvider
	Gate      ports.CredentialGate
	Rules     ports.RulesEngine
	Clipboard ports.Clipboard
	Events    ports.EventSink
	Metrics   ports.SessionMetrics
	Logger    *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = domain.CaptureSampleRate
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = domain.CaptureChannels
	}
	if c.Playback.SampleRate <= 0 {
		c.Playback.SampleRate = domain.PlaybackSampleRate
	}
	if c.Playback.Channels <= 0 {
		c.Playback.Channels = domain.PlaybackChannels
	}
	if c.BlockSize < 256 {
		c.BlockSize = domain.CaptureBlockSize
	}
	if c.Live.ResponseModality == "" {
		c.Live.ResponseModality = "AUDIO"
	}
	if c.Live.InputSampleRate <= 0 {
		c.Live.InputSampleRate = c.Audio.SampleRate
	}
	return c
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted()                        {}
func (noopMetrics) SessionEnded(domain.SessionStateReason) {}
func (noopMetrics) FrameSent()                             {}
func (noopMetrics) FrameDropped()                          {}
func (noopMetrics) ChunkScheduled(time.Duration)           {}
func (noopMetrics) ChunkDropped(string)                    {}
func (noopMetrics) Interrupted()                           {}
func (noopMetrics) CredentialPrompted()                    {}

type noopEvents struct{}

func (noopEvents) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (noopEvents) TranscriptAppended(domain.TranscriptLine)                           {}
func (noopEvents) SessionError(domain.ErrorCode, string)                              {}
