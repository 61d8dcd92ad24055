// Package pcm converts between float audio samples and little-endian
// signed 16-bit PCM, the wire format of the live session.
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"

	"hwtutor/internal/domain"
)

const scale = 32768

// Encode clamps every sample to [-1, 1] and packs it as little-endian int16.
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(sample)))
	}
	return out
}

// EncodeFrame encodes one captured block into an outbound frame.
func EncodeFrame(samples []float32, sampleRate int) domain.AudioFrame {
	return domain.AudioFrame{
		Data:       Encode(samples),
		SampleRate: sampleRate,
		Samples:    len(samples),
	}
}

// DecodeToInt16 unpacks little-endian int16 samples without rescaling.
// A trailing odd byte is ignored.
func DecodeToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// DecodeAudioBuffer interprets data as interleaved int16 PCM and returns one
// float32 slice per channel.
func DecodeAudioBuffer(data []byte, sampleRate int, channels int) (*domain.PlayableBuffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channel count %d", domain.ErrDecode, channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", domain.ErrDecode, sampleRate)
	}
	frameBytes := 2 * channels
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", domain.ErrDecode, len(data), frameBytes)
	}

	frames := len(data) / frameBytes
	buf := &domain.PlayableBuffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Data:       make([][]float32, channels),
	}
	for ch := range buf.Data {
		buf.Data[ch] = make([]float32, frames)
	}

	samples := DecodeToInt16(data)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			buf.Data[ch][i] = float32(samples[i*channels+ch]) / scale
		}
	}
	return buf, nil
}

func quantize(sample float32) int16 {
	v := float64(sample)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	scaled := math.Round(v * scale)
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}
