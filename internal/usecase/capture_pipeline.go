package usecase

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"hwtutor/internal/domain"
	"hwtutor/internal/pcm"
	"hwtutor/internal/ports"
)

// frameSink accepts outbound frames without blocking.
type frameSink interface {
	Send(frame domain.AudioFrame) bool
}

type captureConfig struct {
	blockSize  int
	sampleRate int
}

// captureHandle owns the goroutine that reads fixed-size blocks from the
// microphone and forwards each encoded block to the sink.
type captureHandle struct {
	audio   ports.AudioSession
	sink    frameSink
	cfg     captureConfig
	metrics ports.SessionMetrics
	logger  *slog.Logger

	sendMu  sync.Mutex
	stopped bool

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

func startCapture(
	audio ports.AudioSession,
	sink frameSink,
	cfg captureConfig,
	metrics ports.SessionMetrics,
	logger *slog.Logger,
) (*captureHandle, error) {
	if cfg.blockSize <= 0 {
		cfg.blockSize = domain.CaptureBlockSize
	}
	if cfg.sampleRate <= 0 {
		cfg.sampleRate = domain.CaptureSampleRate
	}

	if err := audio.Start(); err != nil {
		return nil, fmt.Errorf("start microphone: %w", err)
	}

	h := &captureHandle{
		audio:   audio,
		sink:    sink,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go h.run()
	return h, nil
}

func (h *captureHandle) run() {
	defer close(h.done)

	block := make([]float32, h.cfg.blockSize)
	for {
		n, err := h.audio.ReadSamples(block)
		// Partial blocks only happen at end of stream and are not sent.
		if n == len(block) {
			h.forward(pcm.EncodeFrame(block, h.cfg.sampleRate))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !h.isStopped() {
				h.logger.Warn("microphone read failed", "error", err)
			}
			return
		}
	}
}

func (h *captureHandle) forward(frame domain.AudioFrame) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if h.stopped {
		return
	}
	if h.sink.Send(frame) {
		h.metrics.FrameSent()
		return
	}
	h.metrics.FrameDropped()
}

func (h *captureHandle) isStopped() bool {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	return h.stopped
}

// Stop releases the microphone and waits for the reader. No frame is
// forwarded once Stop returns.
func (h *captureHandle) Stop() error {
	h.stopOnce.Do(func() {
		h.sendMu.Lock()
		h.stopped = true
		h.sendMu.Unlock()

		h.stopErr = h.audio.Stop()
		<-h.done
	})
	return h.stopErr
}
