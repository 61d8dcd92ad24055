package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeCapture struct {
	mu    sync.Mutex
	mic   *fakeMic
	err   error
	calls int
}

func (f *fakeCapture) Open(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.mic, nil
}

// fakeMic hands out queued blocks once started and blocks otherwise.
type fakeMic struct {
	blocks chan []float32
	stop   chan struct{}

	mu             sync.Mutex
	started        bool
	startAfterStop bool
	stopCalls      int
	startErr       error
	stopClosed     bool
}

func newFakeMic() *fakeMic {
	return &fakeMic{blocks: make(chan []float32, 16), stop: make(chan struct{})}
}

func (f *fakeMic) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCalls > 0 {
		f.startAfterStop = true
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeMic) ReadSamples(dst []float32) (int, error) {
	select {
	case block := <-f.blocks:
		return copy(dst, block), nil
	case <-f.stop:
		return 0, io.EOF
	}
}

func (f *fakeMic) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if !f.stopClosed {
		close(f.stop)
		f.stopClosed = true
	}
	return nil
}

func (f *fakeMic) stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls > 0
}

type fakePlayback struct {
	output *fakeOutput
	err    error
}

func (f *fakePlayback) Open(_ context.Context, _ ports.PlaybackConfig) (ports.AudioOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

type scheduledVoice struct {
	at       time.Duration
	duration time.Duration
	onEnded  func()
	stopped  bool
}

type fakeOutput struct {
	mu          sync.Mutex
	now         time.Duration
	voices      []*scheduledVoice
	scheduleErr error
	closeCalls  int
}

func (f *fakeOutput) setNow(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = d
}

func (f *fakeOutput) CurrentTime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeOutput) Schedule(buf *domain.PlayableBuffer, at time.Duration, onEnded func()) (ports.Voice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	v := &scheduledVoice{at: at, duration: buf.Duration(), onEnded: onEnded}
	f.voices = append(f.voices, v)
	return &fakeVoice{output: f, voice: v}, nil
}

func (f *fakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeOutput) snapshot() []scheduledVoice {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scheduledVoice, len(f.voices))
	for i, v := range f.voices {
		out[i] = *v
	}
	return out
}

func (f *fakeOutput) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls > 0
}

// finish ends voice i naturally, as the device would.
func (f *fakeOutput) finish(i int) {
	f.mu.Lock()
	v := f.voices[i]
	f.mu.Unlock()
	v.onEnded()
}

type fakeVoice struct {
	output *fakeOutput
	voice  *scheduledVoice
}

func (v *fakeVoice) Stop() error {
	v.output.mu.Lock()
	defer v.output.mu.Unlock()
	v.voice.stopped = true
	return nil
}

type fakeProvider struct {
	mu      sync.Mutex
	channel *fakeChannel
	err     error
	calls   int
	cfgs    []ports.LiveConfig
	entered chan struct{}
	release chan struct{}
}

func (f *fakeProvider) Open(_ context.Context, cfg ports.LiveConfig) (ports.LiveChannel, error) {
	f.mu.Lock()
	f.calls++
	f.cfgs = append(f.cfgs, cfg)
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if release != nil {
		<-release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.channel, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeChannel struct {
	events chan domain.ChannelEvent

	mu           sync.Mutex
	opened       bool
	sent         []domain.AudioFrame
	sentEarly    int
	closeCalls   int
	eventsClosed bool
	rejectFrames bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan domain.ChannelEvent, 16)}
}

func (f *fakeChannel) Send(frame domain.AudioFrame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectFrames {
		return false
	}
	if !f.opened {
		f.sentEarly++
	}
	f.sent = append(f.sent, frame)
	return true
}

func (f *fakeChannel) Events() <-chan domain.ChannelEvent { return f.events }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.eventsClosed {
		close(f.events)
		f.eventsClosed = true
	}
	return nil
}

func (f *fakeChannel) open() {
	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
	f.events <- domain.ChannelEvent{Kind: domain.ChannelEventOpen}
}

func (f *fakeChannel) message(events ...domain.ServerEvent) {
	f.events <- domain.ChannelEvent{Kind: domain.ChannelEventMessage, Events: events}
}

func (f *fakeChannel) fail(err error) {
	f.events <- domain.ChannelEvent{Kind: domain.ChannelEventError, Err: err}
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChannel) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeGate struct {
	mu          sync.Mutex
	has         bool
	grant       bool
	selectErr   error
	selectCalls int
	// hold, when set, keeps the selector open until it is closed or the
	// context ends.
	hold chan struct{}
}

func (f *fakeGate) HasSelectedCredential(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.has
}

func (f *fakeGate) OpenCredentialSelector(ctx context.Context) error {
	f.mu.Lock()
	f.selectCalls++
	hold := f.hold
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectErr != nil {
		return f.selectErr
	}
	if f.grant {
		f.has = true
	}
	return nil
}

func (f *fakeGate) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectCalls
}

// shoutRules upper-cases the AI side of the conversation.
type shoutRules struct {
	err error
}

func (r shoutRules) Apply(speaker domain.Speaker, text string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if speaker == domain.SpeakerAI {
		return strings.ToUpper(text), nil
	}
	return text, nil
}

type fakeClipboard struct {
	mu       sync.Mutex
	lastText string
	err      error
}

func (f *fakeClipboard) SetText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastText = text
	return f.err
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu     sync.Mutex
	states []stateEvent
	lines  []domain.TranscriptLine
	errors []errEvent
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptAppended(line domain.TranscriptLine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) lineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lines)
}

func (f *fakeEventSink) hasError(code domain.ErrorCode) bool {
	for _, e := range f.snapshotErrors() {
		if e.code == code {
			return true
		}
	}
	return false
}

// holdActiveSink blocks the Active state notification until release is
// closed, keeping the event loop inside its open handler.
type holdActiveSink struct {
	*fakeEventSink
	entered chan struct{}
	release chan struct{}
}

func (s *holdActiveSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.fakeEventSink.SessionStateChanged(state, reason)
	if state == domain.SessionStateActive {
		close(s.entered)
		<-s.release
	}
}

type fakeMetrics struct {
	mu         sync.Mutex
	started    int
	ended      []domain.SessionStateReason
	sent       int
	dropped    int
	scheduled  int
	chunkDrops map[string]int
	interrupts int
	prompts    int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{chunkDrops: make(map[string]int)}
}

func (m *fakeMetrics) SessionStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *fakeMetrics) SessionEnded(reason domain.SessionStateReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, reason)
}

func (m *fakeMetrics) FrameSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
}

func (m *fakeMetrics) FrameDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func (m *fakeMetrics) ChunkScheduled(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled++
}

func (m *fakeMetrics) ChunkDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkDrops[reason]++
}

func (m *fakeMetrics) Interrupted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupts++
}

func (m *fakeMetrics) CredentialPrompted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts++
}

func (m *fakeMetrics) dropsFor(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunkDrops[reason]
}

func (m *fakeMetrics) counts() (sent, dropped, scheduled int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent, m.dropped, m.scheduled
}

var errBoom = errors.New("boom")
