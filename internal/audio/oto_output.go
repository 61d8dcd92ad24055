package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

// OtoPlayback plays mixer timelines through the default output device. oto
// allows a single context per process, so every output shares it and the
// first Open fixes the sample rate.
type OtoPlayback struct {
	bufferSize time.Duration

	device sharedDevice[*oto.Context]
	rate   int
}

func NewOtoPlayback(bufferSize time.Duration) *OtoPlayback {
	if bufferSize <= 0 {
		bufferSize = 100 * time.Millisecond
	}
	return &OtoPlayback{bufferSize: bufferSize}
}

func (p *OtoPlayback) Open(ctx context.Context, cfg ports.PlaybackConfig) (ports.AudioOutput, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = domain.PlaybackSampleRate
	}

	otoCtx, err := p.device.get(ctx, func() (*oto.Context, <-chan struct{}, error) {
		otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: 1,
			Format:       oto.FormatFloat32LE,
			BufferSize:   p.bufferSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: init output device: %v", domain.ErrPlayback, err)
		}
		p.rate = cfg.SampleRate
		return otoCtx, ready, nil
	})
	if err != nil {
		return nil, err
	}
	if p.rate != cfg.SampleRate {
		return nil, fmt.Errorf("%w: output already running at %d Hz", domain.ErrPlayback, p.rate)
	}

	mixer := NewMixer(cfg.SampleRate)
	player := otoCtx.NewPlayer(mixer)
	player.Play()
	return &otoOutput{Mixer: mixer, player: player}, nil
}

type otoOutput struct {
	*Mixer
	player *oto.Player

	closeOnce sync.Once
	closeErr  error
}

func (o *otoOutput) Close() error {
	o.closeOnce.Do(func() {
		_ = o.Mixer.Close()
		o.player.Pause()
		o.closeErr = o.player.Close()
	})
	return o.closeErr
}
