package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"hwtutor/internal/domain"
	"hwtutor/internal/pcm"
	"hwtutor/internal/ports"
)

var (
	ErrSessionStarted   = errors.New("session already started")
	ErrSessionCancelled = errors.New("session closed while starting")
)

// SessionController drives one live tutoring session from connect to close.
// A controller is single-use; create a new one for every session.
type SessionController struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger

	id         string
	transcript *transcript
	exporter   transcriptExporter

	mu                 sync.Mutex
	state              domain.SessionState
	reason             domain.SessionStateReason
	ctx                context.Context
	cancel             context.CancelFunc
	mic                ports.AudioSession
	output             ports.AudioOutput
	scheduler          *PlaybackScheduler
	channel            ports.LiveChannel
	capture            *captureHandle
	loopDone           chan struct{}
	credentialPrompted bool

	prompts sync.WaitGroup
}

func NewSessionController(deps Dependencies, cfg Config) *SessionController {
	if deps.Events == nil {
		deps.Events = noopEvents{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	id := uuid.NewString()
	return &SessionController{
		deps:       deps,
		cfg:        cfg.withDefaults(),
		logger:     deps.Logger.With("session_id", id),
		id:         id,
		transcript: newTranscript(),
		exporter:   newTranscriptExporter(deps.Clipboard, deps.Events),
		state:      domain.SessionStateIdle,
		reason:     domain.SessionReasonReady,
	}
}

// Start connects the session. It returns once the channel is open for
// setup; the transition to Active happens when the remote side confirms.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.SessionStateIdle {
		c.mu.Unlock()
		return ErrSessionStarted
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	c.ctx = sessionCtx
	c.cancel = cancel
	c.state = domain.SessionStateConnecting
	c.reason = domain.SessionReasonConnecting
	c.mu.Unlock()

	c.deps.Events.SessionStateChanged(domain.SessionStateConnecting, domain.SessionReasonConnecting)
	c.deps.Metrics.SessionStarted()
	c.logger.Info("session connecting", "model", c.cfg.Live.Model)

	if err := c.ensureCredential(sessionCtx); err != nil {
		return c.fail(domain.ErrorCodeCredential, domain.SessionReasonCredentialRequired, err)
	}

	mic, err := c.deps.Capture.Open(sessionCtx, c.cfg.Audio)
	if err != nil {
		if !errors.Is(err, domain.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
		}
		return c.fail(domain.ErrorCodePermission, domain.SessionReasonPermissionDenied, err)
	}
	if !c.attach(func() { c.mic = mic }) {
		_ = mic.Stop()
		return ErrSessionCancelled
	}

	output, err := c.deps.Playback.Open(sessionCtx, c.cfg.Playback)
	if err != nil {
		return c.fail(domain.ErrorCodePlayback, domain.SessionReasonPlaybackFailed, fmt.Errorf("%w: %v", domain.ErrPlayback, err))
	}
	if !c.attach(func() {
		c.output = output
		c.scheduler = NewPlaybackScheduler(output)
	}) {
		_ = output.Close()
		return ErrSessionCancelled
	}

	channel, err := c.openChannel(sessionCtx)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialInvalid) {
			return c.fail(domain.ErrorCodeCredential, domain.SessionReasonCredentialRejected, err)
		}
		return c.fail(domain.ErrorCodeConnect, domain.SessionReasonConnectFailed, err)
	}
	loopDone := make(chan struct{})
	if !c.attach(func() {
		c.channel = channel
		c.loopDone = loopDone
	}) {
		_ = channel.Close()
		return ErrSessionCancelled
	}

	go c.run(channel, loopDone)
	return nil
}

func (c *SessionController) ensureCredential(ctx context.Context) error {
	if c.deps.Gate == nil || c.deps.Gate.HasSelectedCredential(ctx) {
		return nil
	}
	c.deps.Metrics.CredentialPrompted()
	if err := c.deps.Gate.OpenCredentialSelector(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCredentialInvalid, err)
	}
	if !c.deps.Gate.HasSelectedCredential(ctx) {
		return fmt.Errorf("%w: no credential selected", domain.ErrCredentialInvalid)
	}
	return nil
}

// openChannel dials the provider. A rejected credential reopens the
// selector once; the session still fails and the user starts again.
func (c *SessionController) openChannel(ctx context.Context) (ports.LiveChannel, error) {
	channel, err := c.deps.Provider.Open(ctx, c.cfg.Live)
	if err == nil {
		return channel, nil
	}
	if errors.Is(err, domain.ErrCredentialInvalid) {
		c.promptCredential(ctx)
	}
	return nil, err
}

func (c *SessionController) promptCredential(ctx context.Context) {
	c.mu.Lock()
	c.credentialPrompted = true
	c.mu.Unlock()

	if c.deps.Gate == nil {
		return
	}
	c.deps.Metrics.CredentialPrompted()
	if err := c.deps.Gate.OpenCredentialSelector(ctx); err != nil {
		c.logger.Warn("credential selection failed", "error", err)
	}
}

// promptCredentialAsync marks the prompt before returning and runs the
// selector off the event loop so audio and transcripts keep flowing.
func (c *SessionController) promptCredentialAsync(ctx context.Context) {
	c.mu.Lock()
	c.credentialPrompted = true
	c.mu.Unlock()

	c.prompts.Add(1)
	go func() {
		defer c.prompts.Done()
		c.promptCredential(ctx)
	}()
}

// attach stores an acquired resource unless the session was closed while it
// was being acquired.
func (c *SessionController) attach(store func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.SessionStateClosed {
		return false
	}
	store()
	return true
}

func (c *SessionController) fail(code domain.ErrorCode, reason domain.SessionStateReason, err error) error {
	if c.currentState() == domain.SessionStateClosed {
		return ErrSessionCancelled
	}
	c.logger.Error("session start failed", "reason", reason, "error", err)
	c.deps.Events.SessionError(code, err.Error())
	c.shutdown(reason)
	return err
}

func (c *SessionController) run(channel ports.LiveChannel, done chan struct{}) {
	defer close(done)

	for event := range channel.Events() {
		switch event.Kind {
		case domain.ChannelEventOpen:
			c.handleOpen(channel)
		case domain.ChannelEventMessage:
			for _, ev := range event.Events {
				c.handleServerEvent(ev)
			}
		case domain.ChannelEventError:
			c.handleChannelError(event.Err)
		case domain.ChannelEventClose:
			c.shutdown(domain.SessionReasonRemoteClosed)
		}
	}
	c.shutdown(domain.SessionReasonRemoteClosed)
}

func (c *SessionController) handleOpen(channel ports.LiveChannel) {
	c.mu.Lock()
	if c.state != domain.SessionStateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = domain.SessionStateActive
	c.reason = domain.SessionReasonConnected
	// The mic now belongs to this handler until the capture handle is
	// attached; shutdown must not stop it while it may still be started.
	mic := c.mic
	c.mic = nil
	c.mu.Unlock()

	c.logger.Info("session active")
	c.deps.Events.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonConnected)

	if c.currentState() != domain.SessionStateActive {
		_ = mic.Stop()
		return
	}
	capture, err := startCapture(mic, channel, captureConfig{
		blockSize:  c.cfg.BlockSize,
		sampleRate: c.cfg.Audio.SampleRate,
	}, c.deps.Metrics, c.logger)
	if err != nil {
		_ = mic.Stop()
		c.logger.Error("microphone start failed", "error", err)
		c.deps.Events.SessionError(domain.ErrorCodeAudioCapture, err.Error())
		return
	}
	if !c.attach(func() { c.capture = capture }) {
		_ = capture.Stop()
	}
}

func (c *SessionController) handleServerEvent(ev domain.ServerEvent) {
	if c.currentState() != domain.SessionStateActive {
		return
	}

	switch ev.Kind {
	case domain.ServerEventTranscript:
		c.appendTranscript(ev.Speaker, ev.Text)
	case domain.ServerEventAudio:
		c.playAudio(ev)
	case domain.ServerEventInterrupted:
		c.logger.Debug("playback interrupted")
		c.scheduler.Interrupt()
		c.deps.Metrics.Interrupted()
	case domain.ServerEventTurnComplete:
		c.logger.Debug("turn complete")
	}
}

func (c *SessionController) appendTranscript(speaker domain.Speaker, text string) {
	if c.deps.Rules != nil {
		normalized, err := c.deps.Rules.Apply(speaker, text)
		if err != nil {
			c.logger.Warn("transcript rules failed", "error", err)
			c.deps.Events.SessionError(domain.ErrorCodeRules, "transcript rules failed, showing raw text")
		} else {
			text = normalized
		}
	}
	if line, ok := c.transcript.Append(speaker, text); ok {
		c.deps.Events.TranscriptAppended(line)
	}
}

func (c *SessionController) playAudio(ev domain.ServerEvent) {
	if ev.Message != "" {
		c.logger.Warn("dropping audio chunk", "error", ev.Message)
		c.deps.Metrics.ChunkDropped("decode")
		return
	}

	rate := ev.SampleRate
	if rate <= 0 {
		rate = c.cfg.Playback.SampleRate
	}
	buf, err := pcm.DecodeAudioBuffer(ev.Audio, rate, c.cfg.Playback.Channels)
	if err != nil {
		c.logger.Warn("dropping audio chunk", "bytes", len(ev.Audio), "error", err)
		c.deps.Metrics.ChunkDropped("decode")
		return
	}

	start, err := c.scheduler.Enqueue(buf)
	switch {
	case err == nil:
		c.logger.Debug("audio chunk scheduled", "start", start, "duration", buf.Duration())
		c.deps.Metrics.ChunkScheduled(buf.Duration())
	case errors.Is(err, ErrSchedulerClosed):
		c.deps.Metrics.ChunkDropped("closed")
	default:
		c.logger.Warn("audio playback failed", "error", err)
		c.deps.Metrics.ChunkDropped("playback")
		c.deps.Events.SessionError(domain.ErrorCodePlayback, err.Error())
	}
}

func (c *SessionController) handleChannelError(err error) {
	if err == nil {
		return
	}

	c.mu.Lock()
	state := c.state
	prompted := c.credentialPrompted
	ctx := c.ctx
	c.mu.Unlock()
	if state == domain.SessionStateClosed {
		return
	}

	if prompted {
		c.logger.Error("channel failed after credential prompt", "error", err)
		c.deps.Events.SessionError(domain.ErrorCodeChannel, err.Error())
		c.shutdown(domain.SessionReasonChannelFailed)
		return
	}

	if errors.Is(err, domain.ErrCredentialInvalid) || domain.IsCredentialFailure(err.Error()) {
		c.logger.Warn("credential rejected by remote", "error", err)
		c.deps.Events.SessionError(domain.ErrorCodeCredential, err.Error())
		c.promptCredentialAsync(ctx)
		return
	}

	c.logger.Warn("channel error", "error", err)
	c.deps.Events.SessionError(domain.ErrorCodeChannel, err.Error())
}

// shutdown moves the session to Closed and releases everything it holds.
// It reports false when there was nothing to shut down.
func (c *SessionController) shutdown(reason domain.SessionStateReason) bool {
	c.mu.Lock()
	if c.state == domain.SessionStateIdle || c.state == domain.SessionStateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = domain.SessionStateClosed
	c.reason = reason
	cancel := c.cancel
	capture := c.capture
	scheduler := c.scheduler
	output := c.output
	mic := c.mic
	channel := c.channel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if capture != nil {
		if err := capture.Stop(); err != nil {
			c.logger.Debug("microphone stop", "error", err)
		}
	}
	if scheduler != nil {
		scheduler.Close()
	}
	if output != nil {
		if err := output.Close(); err != nil {
			c.logger.Debug("output close", "error", err)
		}
	}
	if mic != nil {
		if err := mic.Stop(); err != nil {
			c.logger.Debug("microphone release", "error", err)
		}
	}
	if channel != nil {
		if err := channel.Close(); err != nil {
			c.logger.Debug("channel close", "error", err)
		}
	}

	c.logger.Info("session closed", "reason", reason)
	c.deps.Events.SessionStateChanged(domain.SessionStateClosed, reason)
	c.deps.Metrics.SessionEnded(reason)
	return true
}

// Close ends the session. It is safe to call in any state and more than
// once; closing an idle controller does nothing.
func (c *SessionController) Close() error {
	c.shutdown(domain.SessionReasonStopped)

	c.mu.Lock()
	done := c.loopDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	c.prompts.Wait()
	return nil
}

// Status returns the current session status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Status{
		State:     c.state,
		Active:    c.state == domain.SessionStateConnecting || c.state == domain.SessionStateActive,
		SessionID: c.id,
		Message:   string(c.reason),
	}
}

// SessionID identifies the session in logs and events.
func (c *SessionController) SessionID() string {
	return c.id
}

func (c *SessionController) Transcript() []domain.TranscriptLine {
	return c.transcript.Lines()
}

func (c *SessionController) TranscriptText() string {
	return c.transcript.Text()
}

// ExportTranscript copies the normalised transcript to the clipboard.
func (c *SessionController) ExportTranscript(ctx context.Context) (string, error) {
	return c.exporter.Export(ctx, c.transcript)
}

func (c *SessionController) currentState() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
