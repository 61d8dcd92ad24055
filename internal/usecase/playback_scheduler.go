package usecase

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

// ErrSchedulerClosed rejects buffers that arrive after the session ended.
var ErrSchedulerClosed = errors.New("playback scheduler closed")

// PlaybackScheduler lays decoded chunks end to end on the output timeline
// and tracks every voice still playing so a barge-in can silence them.
type PlaybackScheduler struct {
	output ports.AudioOutput

	mu        sync.Mutex
	nextStart time.Duration
	active    map[uint64]ports.Voice
	nextID    uint64
	closed    bool
}

func NewPlaybackScheduler(output ports.AudioOutput) *PlaybackScheduler {
	return &PlaybackScheduler{output: output, active: make(map[uint64]ports.Voice)}
}

// Enqueue schedules buf at max(clock, device time) and advances the clock by
// its duration. The voice removes itself from the active set when it ends.
func (s *PlaybackScheduler) Enqueue(buf *domain.PlayableBuffer) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSchedulerClosed
	}

	start := s.nextStart
	if now := s.output.CurrentTime(); now > start {
		start = now
	}

	id := s.nextID
	s.nextID++
	voice, err := s.output.Schedule(buf, start, func() { s.release(id) })
	if err != nil {
		if errors.Is(err, domain.ErrPlayback) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", domain.ErrPlayback, err)
	}

	s.active[id] = voice
	s.nextStart = start + buf.Duration()
	return start, nil
}

// Interrupt stops every active voice, clears the set and rewinds the clock.
func (s *PlaybackScheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// Close flushes playback and rejects later buffers.
func (s *PlaybackScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
	s.closed = true
}

// Pending reports the number of voices scheduled or playing.
func (s *PlaybackScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// ScheduledUntil is the playback clock: where the next chunk would start
// if the device were idle.
func (s *PlaybackScheduler) ScheduledUntil() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

func (s *PlaybackScheduler) flushLocked() {
	for id, voice := range s.active {
		// A voice that already finished is not an error.
		_ = voice.Stop()
		delete(s.active, id)
	}
	s.nextStart = 0
}

func (s *PlaybackScheduler) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}
