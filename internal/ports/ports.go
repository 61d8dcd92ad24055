package ports

import (
	"context"
	"time"

	"hwtutor/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is an acquired microphone. Start begins delivery of samples;
// ReadSamples blocks until dst is full or the session ends. Stop is
// idempotent and unblocks a pending read.
type AudioSession interface {
	Start() error
	ReadSamples(dst []float32) (int, error)
	Stop() error
}

// AudioCapture acquires microphone sessions.
type AudioCapture interface {
	Open(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// PlaybackConfig describes the speaker output format.
type PlaybackConfig struct {
	SampleRate int
	Channels   int
}

// Voice is one scheduled buffer on an output device.
type Voice interface {
	Stop() error
}

// AudioOutput is an open speaker timeline. onEnded is called once when a
// voice finishes naturally, never from inside Schedule or Voice.Stop.
type AudioOutput interface {
	CurrentTime() time.Duration
	Schedule(buf *domain.PlayableBuffer, at time.Duration, onEnded func()) (Voice, error)
	Close() error
}

// AudioPlayback opens speaker outputs.
type AudioPlayback interface {
	Open(ctx context.Context, cfg PlaybackConfig) (AudioOutput, error)
}

// LiveConfig describes the live session requested from the remote model.
type LiveConfig struct {
	Model               string
	ResponseModality    string
	VoiceName           string
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool
	InputSampleRate     int
}

// LiveChannel is an open duplex session with the remote model.
type LiveChannel interface {
	// Send enqueues a frame without blocking and reports whether it was accepted.
	Send(frame domain.AudioFrame) bool
	Events() <-chan domain.ChannelEvent
	Close() error
}

// LiveProvider opens live channels.
type LiveProvider interface {
	Open(ctx context.Context, cfg LiveConfig) (LiveChannel, error)
}

// CredentialGate checks for and prompts for the API credential.
type CredentialGate interface {
	HasSelectedCredential(ctx context.Context) bool
	OpenCredentialSelector(ctx context.Context) error
}

// CredentialSource returns the credential currently selected.
type CredentialSource interface {
	APIKey() string
}

// RulesEngine transforms transcript text using deterministic rules.
type RulesEngine interface {
	Apply(speaker domain.Speaker, text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TranscriptAppended(line domain.TranscriptLine)
	SessionError(code domain.ErrorCode, detail string)
}

// SessionMetrics records session counters.
type SessionMetrics interface {
	SessionStarted()
	SessionEnded(reason domain.SessionStateReason)
	FrameSent()
	FrameDropped()
	ChunkScheduled(d time.Duration)
	ChunkDropped(reason string)
	Interrupted()
	CredentialPrompted()
}

// HomeworkAnalyzer explains a photographed homework problem.
type HomeworkAnalyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (domain.HomeworkAnalysis, error)
}

// IllustrationGenerator renders an explanatory image.
type IllustrationGenerator interface {
	GenerateIllustration(ctx context.Context, prompt string) (domain.Illustration, error)
}

// VideoGenerator renders a short explainer video.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, prompt string) (domain.Video, error)
}
