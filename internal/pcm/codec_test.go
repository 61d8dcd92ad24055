package pcm

import (
	"errors"
	"math"
	"testing"

	"hwtutor/internal/domain"
)

func TestEncodeDecodeRoundTripWithinQuantizationStep(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 0, 2001)
	for i := -1000; i <= 1000; i++ {
		samples = append(samples, float32(i)/1000)
	}
	samples = append(samples, 0.123456, -0.987654, 1e-6)

	buf, err := DecodeAudioBuffer(Encode(samples), 16000, 1)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if buf.Frames() != len(samples) {
		t.Fatalf("unexpected frame count: %d", buf.Frames())
	}

	const step = 1.0 / 32768
	for i, want := range samples {
		got := buf.Data[0][i]
		if diff := math.Abs(float64(got) - float64(want)); diff > step+1e-9 {
			t.Fatalf("sample %d: got %v want %v (diff %v)", i, got, want, diff)
		}
	}
}

func TestEncodeClampsOutOfRangeInput(t *testing.T) {
	t.Parallel()

	values := DecodeToInt16(Encode([]float32{1.5, -1.5, 2, -2, 1, -1}))
	want := []int16{32767, -32768, 32767, -32768, 32767, -32768}
	for i := range want {
		if values[i] != want[i] {
			t.Fatalf("index %d: got %d want %d", i, values[i], want[i])
		}
	}
}

func TestEncodeNaNIsSilence(t *testing.T) {
	t.Parallel()

	values := DecodeToInt16(Encode([]float32{float32(math.NaN())}))
	if values[0] != 0 {
		t.Fatalf("expected silence for NaN, got %d", values[0])
	}
}

func TestEncodeIsLittleEndian(t *testing.T) {
	t.Parallel()

	out := Encode([]float32{0.5})
	if len(out) != 2 || out[0] != 0x00 || out[1] != 0x40 {
		t.Fatalf("unexpected encoding: %x", out)
	}
}

func TestDecodeToInt16IgnoresTrailingByte(t *testing.T) {
	t.Parallel()

	values := DecodeToInt16([]byte{0x01, 0x00, 0xff, 0xff, 0x7f})
	if len(values) != 2 || values[0] != 1 || values[1] != -1 {
		t.Fatalf("unexpected values: %v", values)
	}
}

func TestDecodeAudioBufferRejectsPartialFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		length   int
		channels int
		wantErr  bool
		frames   int
	}{
		{name: "mono odd", length: 3, channels: 1, wantErr: true},
		{name: "mono even", length: 4, channels: 1, frames: 2},
		{name: "stereo partial", length: 6, channels: 2, wantErr: true},
		{name: "stereo whole", length: 8, channels: 2, frames: 2},
		{name: "empty", length: 0, channels: 1, frames: 0},
		{name: "zero channels", length: 4, channels: 0, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			buf, err := DecodeAudioBuffer(make([]byte, tc.length), 24000, tc.channels)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrDecode) {
					t.Fatalf("expected ErrDecode, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if buf.Frames() != tc.frames || buf.Channels != tc.channels || len(buf.Data) != tc.channels {
				t.Fatalf("unexpected buffer: frames=%d channels=%d", buf.Frames(), buf.Channels)
			}
		})
	}
}

func TestDecodeAudioBufferDeinterleaves(t *testing.T) {
	t.Parallel()

	data := Encode([]float32{0.5, -0.5, 0.25, -0.25})
	buf, err := DecodeAudioBuffer(data, 24000, 2)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if buf.Data[0][0] != 0.5 || buf.Data[1][0] != -0.5 || buf.Data[0][1] != 0.25 || buf.Data[1][1] != -0.25 {
		t.Fatalf("unexpected channel data: %v", buf.Data)
	}
}

func TestEncodeFrame(t *testing.T) {
	t.Parallel()

	frame := EncodeFrame(make([]float32, 4096), 16000)
	if frame.Samples != 4096 || len(frame.Data) != 8192 || frame.SampleRate != 16000 {
		t.Fatalf("unexpected frame: samples=%d bytes=%d rate=%d", frame.Samples, len(frame.Data), frame.SampleRate)
	}
}
