package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

// PortAudioCapture captures the default input device with a blocking
// PortAudio stream.
type PortAudioCapture struct {
	framesPerBuffer int
}

func NewPortAudioCapture(framesPerBuffer int) *PortAudioCapture {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	return &PortAudioCapture{framesPerBuffer: framesPerBuffer}
}

func (c *PortAudioCapture) Open(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", domain.ErrPermissionDenied, err)
	}

	block := make([]float32, c.framesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), c.framesPerBuffer, block)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open input stream: %v", domain.ErrPermissionDenied, err)
	}

	return &portAudioSession{stream: stream, block: block}, nil
}

type portAudioSession struct {
	stream *portaudio.Stream

	// readMu serialises stream reads with Stop so the stream is never closed
	// under an in-flight Read.
	readMu  sync.Mutex
	block   []float32
	pending []float32
	closed  atomic.Bool

	stopOnce sync.Once
	stopErr  error
}

func (s *portAudioSession) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	return nil
}

func (s *portAudioSession) ReadSamples(dst []float32) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	filled := 0
	for filled < len(dst) {
		if s.closed.Load() {
			return filled, io.EOF
		}
		if len(s.pending) == 0 {
			if err := s.stream.Read(); err != nil {
				return filled, fmt.Errorf("read input stream: %w", err)
			}
			s.pending = s.block
		}
		n := copy(dst[filled:], s.pending)
		s.pending = s.pending[n:]
		filled += n
	}
	return filled, nil
}

func (s *portAudioSession) Stop() error {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		s.readMu.Lock()
		defer s.readMu.Unlock()

		_ = s.stream.Stop()
		s.stopErr = s.stream.Close()
		if err := portaudio.Terminate(); err != nil && s.stopErr == nil {
			s.stopErr = err
		}
	})
	return s.stopErr
}
