package domain

import (
	"strconv"
	"time"
)

// Fixed audio formats of the live session.
const (
	CaptureSampleRate  = 16000
	CaptureChannels    = 1
	CaptureBlockSize   = 4096
	PlaybackSampleRate = 24000
	PlaybackChannels   = 1
)

// SessionState models the tutoring session lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateActive     SessionState = "active"
	SessionStateClosed     SessionState = "closed"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady              SessionStateReason = "ready"
	SessionReasonConnecting         SessionStateReason = "connecting"
	SessionReasonConnected          SessionStateReason = "connected"
	SessionReasonStopped            SessionStateReason = "stopped"
	SessionReasonRemoteClosed       SessionStateReason = "remote_closed"
	SessionReasonCredentialRequired SessionStateReason = "credential_required"
	SessionReasonCredentialRejected SessionStateReason = "credential_rejected"
	SessionReasonPermissionDenied   SessionStateReason = "permission_denied"
	SessionReasonPlaybackFailed     SessionStateReason = "playback_failed"
	SessionReasonConnectFailed      SessionStateReason = "connect_failed"
	SessionReasonChannelFailed      SessionStateReason = "channel_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup      ErrorCode = "startup"
	ErrorCodeCredential   ErrorCode = "credential"
	ErrorCodePermission   ErrorCode = "permission"
	ErrorCodeConnect      ErrorCode = "connect"
	ErrorCodeChannel      ErrorCode = "channel"
	ErrorCodeAudioCapture ErrorCode = "audio_capture"
	ErrorCodeDecode       ErrorCode = "decode"
	ErrorCodePlayback     ErrorCode = "playback"
	ErrorCodeRules        ErrorCode = "rules"
	ErrorCodeClipboard    ErrorCode = "clipboard"
	ErrorCodeAnalysis     ErrorCode = "analysis"
	ErrorCodeGeneration   ErrorCode = "generation"
)

// Speaker identifies who produced a transcript fragment.
type Speaker string

const (
	SpeakerAI   Speaker = "ai"
	SpeakerUser Speaker = "user"
)

// Label is the prefix shown in front of a transcript line.
func (s Speaker) Label() string {
	if s == SpeakerUser {
		return "You"
	}
	return "AI"
}

// AudioFrame is one encoded block of microphone audio, little-endian int16 PCM.
type AudioFrame struct {
	Data       []byte
	SampleRate int
	Samples    int
}

// MIMEType names the wire format of the frame payload.
func (f AudioFrame) MIMEType() string {
	rate := f.SampleRate
	if rate <= 0 {
		rate = CaptureSampleRate
	}
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ServerEventKind enumerates remote events delivered by the session channel.
type ServerEventKind string

const (
	ServerEventTranscript   ServerEventKind = "transcript"
	ServerEventAudio        ServerEventKind = "audio"
	ServerEventInterrupted  ServerEventKind = "interrupted"
	ServerEventTurnComplete ServerEventKind = "turn_complete"
	ServerEventError        ServerEventKind = "error"
	ServerEventClosed       ServerEventKind = "closed"
)

// ServerEvent is one remote event. Only the fields of its kind are set.
type ServerEvent struct {
	Kind       ServerEventKind
	Speaker    Speaker
	Text       string
	Audio      []byte
	SampleRate int
	Message    string
}

// ChannelEventKind names the handler category a channel arrival belongs to.
type ChannelEventKind string

const (
	ChannelEventOpen    ChannelEventKind = "open"
	ChannelEventMessage ChannelEventKind = "message"
	ChannelEventError   ChannelEventKind = "error"
	ChannelEventClose   ChannelEventKind = "close"
)

// ChannelEvent is a single arrival on the session channel.
type ChannelEvent struct {
	Kind   ChannelEventKind
	Events []ServerEvent
	Err    error
}

// PlayableBuffer is decoded audio, one float32 slice per channel.
type PlayableBuffer struct {
	SampleRate int
	Channels   int
	Data       [][]float32
}

// Frames returns the per-channel sample count.
func (b *PlayableBuffer) Frames() int {
	if b == nil || len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration is the playback length of the buffer.
func (b *PlayableBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// TranscriptLine is one labelled line of the conversation.
type TranscriptLine struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

func (l TranscriptLine) String() string {
	return l.Speaker.Label() + ": " + l.Text
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	SessionID string       `json:"sessionId,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// HomeworkAnalysis is the structured explanation of a homework photo.
type HomeworkAnalysis struct {
	Subject      string   `json:"subject"`
	Topic        string   `json:"topic"`
	Explanation  string   `json:"explanation"`
	KeyPoints    []string `json:"keyPoints"`
	VisualPrompt string   `json:"visualPrompt"`
	VideoPrompt  string   `json:"videoPrompt"`
}

// Illustration is a generated image.
type Illustration struct {
	MIMEType string
	Data     []byte
}

// Video is a generated explainer clip.
type Video struct {
	URI      string
	MIMEType string
	Data     []byte
}
