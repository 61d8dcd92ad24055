package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

// MalgoCapture captures the default input device through miniaudio.
type MalgoCapture struct{}

func NewMalgoCapture() *MalgoCapture {
	return &MalgoCapture{}
}

// Open initialises a capture device. Failing to initialise is reported as a
// denied microphone.
func (c *MalgoCapture) Open(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %v", domain.ErrPermissionDenied, err)
	}

	// One second of backlog before the oldest samples are dropped.
	queue := newSampleQueue(cfg.SampleRate * cfg.Channels)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			queue.pushFloat32LE(input)
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: init capture device: %v", domain.ErrPermissionDenied, err)
	}

	return &malgoSession{ctx: mctx, device: device, queue: queue}, nil
}

type malgoSession struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	queue  *sampleQueue

	stopOnce sync.Once
	stopErr  error
}

func (s *malgoSession) Start() error {
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("start capture device: %w", err)
	}
	return nil
}

func (s *malgoSession) ReadSamples(dst []float32) (int, error) {
	return s.queue.read(dst)
}

func (s *malgoSession) Stop() error {
	s.stopOnce.Do(func() {
		s.queue.close()
		if s.device.IsStarted() {
			s.stopErr = s.device.Stop()
		}
		s.device.Uninit()
		if err := s.ctx.Uninit(); err != nil && s.stopErr == nil {
			s.stopErr = err
		}
		s.ctx.Free()
	})
	return s.stopErr
}
