package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

// Mixer renders scheduled voices onto a frame-accurate mono timeline. It is
// an io.Reader of little-endian float32 samples; the timeline only advances
// as the device pulls audio, so CurrentTime is the device clock.
type Mixer struct {
	sampleRate int

	mu       sync.Mutex
	rendered int64
	voices   map[*mixerVoice]struct{}
	closed   bool
}

func NewMixer(sampleRate int) *Mixer {
	if sampleRate <= 0 {
		sampleRate = domain.PlaybackSampleRate
	}
	return &Mixer{sampleRate: sampleRate, voices: make(map[*mixerVoice]struct{})}
}

type mixerVoice struct {
	mixer   *Mixer
	start   int64
	samples []float32
	onEnded func()
}

func (v *mixerVoice) end() int64 {
	return v.start + int64(len(v.samples))
}

// Stop removes the voice from the timeline. It never fires onEnded and is a
// no-op for a voice that already finished.
func (v *mixerVoice) Stop() error {
	v.mixer.mu.Lock()
	delete(v.mixer.voices, v)
	v.mixer.mu.Unlock()
	return nil
}

// CurrentTime is the duration of audio handed to the device so far.
func (m *Mixer) CurrentTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.framesToDuration(m.rendered)
}

// Schedule places buf on the timeline at the given offset. Multi-channel
// buffers are downmixed to mono.
func (m *Mixer) Schedule(buf *domain.PlayableBuffer, at time.Duration, onEnded func()) (ports.Voice, error) {
	if buf == nil || buf.Frames() == 0 {
		return nil, fmt.Errorf("%w: empty buffer", domain.ErrPlayback)
	}
	if buf.SampleRate != m.sampleRate {
		return nil, fmt.Errorf("%w: buffer rate %d does not match output rate %d", domain.ErrPlayback, buf.SampleRate, m.sampleRate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%w: output closed", domain.ErrPlayback)
	}

	start := m.durationToFrames(at)
	if start < m.rendered {
		start = m.rendered
	}
	voice := &mixerVoice{mixer: m, start: start, samples: downmix(buf), onEnded: onEnded}
	m.voices[voice] = struct{}{}
	return voice, nil
}

// Read renders the next len(p)/4 frames. Voices that finish inside the
// rendered window have their onEnded callbacks run after the lock is dropped.
func (m *Mixer) Read(p []byte) (int, error) {
	frames := len(p) / 4
	if frames == 0 {
		return 0, nil
	}

	m.mu.Lock()
	from := m.rendered
	to := from + int64(frames)
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], 0)
	}

	var ended []func()
	for voice := range m.voices {
		lo := max(voice.start, from)
		hi := min(voice.end(), to)
		for f := lo; f < hi; f++ {
			off := (f - from) * 4
			mixed := math.Float32frombits(binary.LittleEndian.Uint32(p[off:])) + voice.samples[f-voice.start]
			binary.LittleEndian.PutUint32(p[off:], math.Float32bits(clampUnit(mixed)))
		}
		if voice.end() <= to {
			delete(m.voices, voice)
			if voice.onEnded != nil {
				ended = append(ended, voice.onEnded)
			}
		}
	}
	m.rendered = to
	m.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
	return frames * 4, nil
}

// Pending reports how many voices are still on the timeline.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Close drops every voice without firing callbacks and rejects new ones.
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.voices = make(map[*mixerVoice]struct{})
	return nil
}

func (m *Mixer) framesToDuration(frames int64) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(m.sampleRate)
}

func (m *Mixer) durationToFrames(d time.Duration) int64 {
	return int64(math.Round(d.Seconds() * float64(m.sampleRate)))
}

func downmix(buf *domain.PlayableBuffer) []float32 {
	if len(buf.Data) == 1 {
		out := make([]float32, len(buf.Data[0]))
		copy(out, buf.Data[0])
		return out
	}
	frames := buf.Frames()
	out := make([]float32, frames)
	for _, channel := range buf.Data {
		for i := 0; i < frames && i < len(channel); i++ {
			out[i] += channel[i]
		}
	}
	inv := 1 / float32(len(buf.Data))
	for i := range out {
		out[i] *= inv
	}
	return out
}

func clampUnit(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
