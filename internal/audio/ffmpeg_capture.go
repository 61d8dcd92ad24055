package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

const (
	ffmpegWarmup = 250 * time.Millisecond
	ffmpegGrace  = 1200 * time.Millisecond
	stderrTail   = 2048
)

// FFMPEGCapture reads float32 microphone samples from an ffmpeg subprocess
// recording the configured input format and device.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

// Open spawns the recorder. If it dies inside the warm-up window the device
// could not be opened, which is reported as ErrPermissionDenied.
func (c *FFMPEGCapture) Open(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	proc, err := startRecorder(c.command, ffmpegArgs(withCaptureDefaults(cfg)))
	if err != nil {
		return nil, err
	}

	select {
	case <-proc.done:
		return nil, fmt.Errorf("%w: recorder exited before capture started%s",
			domain.ErrPermissionDenied, proc.describe(proc.exitErr))
	case <-ctx.Done():
		proc.kill()
		return nil, ctx.Err()
	case <-time.After(ffmpegWarmup):
	}
	return &ffmpegSession{proc: proc}, nil
}

func ffmpegArgs(cfg ports.AudioConfig) []string {
	format := cfg.InputFormat
	if format == "" {
		format = "pulse"
	}
	device := cfg.InputDevice
	if device == "" {
		device = "default"
	}
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", format, "-i", device,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le", "-",
	}
}

// recorder owns the subprocess. exitErr is valid once done is closed.
type recorder struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *tailBuffer
	done    chan struct{}
	exitErr error
}

func startRecorder(command string, args []string) (*recorder, error) {
	// Not bound to the Open context: the process lives until Stop.
	cmd := exec.Command(command, args...)
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start recorder: %v", domain.ErrPermissionDenied, err)
	}

	r := &recorder{cmd: cmd, stdout: stdout, stderr: stderr, done: make(chan struct{})}
	go func() {
		r.exitErr = cmd.Wait()
		close(r.done)
	}()
	return r, nil
}

func (r *recorder) kill() {
	_ = r.cmd.Process.Kill()
	<-r.done
}

// terminate asks the recorder to finish, then kills it after grace.
// Exit statuses are expected when interrupting and are not errors.
func (r *recorder) terminate(grace time.Duration) error {
	_ = r.cmd.Process.Signal(os.Interrupt)
	select {
	case <-r.done:
	case <-time.After(grace):
		r.kill()
	}

	err := r.exitErr
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}
	if closeErr := r.stdout.Close(); err == nil && closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("stop recorder: %w%s", err, r.describe(nil))
	}
	return nil
}

// describe renders the exit error and stderr tail as an error suffix.
func (r *recorder) describe(err error) string {
	var b strings.Builder
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	if tail := strings.TrimSpace(r.stderr.String()); tail != "" {
		b.WriteString(": ")
		b.WriteString(tail)
	}
	return b.String()
}

type ffmpegSession struct {
	proc *recorder
	raw  []byte

	stopOnce sync.Once
	stopErr  error
}

// Start is a no-op: ffmpeg is already producing samples once Open returns.
func (s *ffmpegSession) Start() error { return nil }

// ReadSamples fills dst unless the stream ends, in which case the whole
// samples read so far are returned with io.EOF.
func (s *ffmpegSession) ReadSamples(dst []float32) (int, error) {
	want := len(dst) * 4
	if cap(s.raw) < want {
		s.raw = make([]byte, want)
	}
	n, err := io.ReadFull(s.proc.stdout, s.raw[:want])
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return decodeFloat32LE(dst, s.raw[:n-n%4]), err
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.proc.terminate(ffmpegGrace)
	})
	return s.stopErr
}

func decodeFloat32LE(dst []float32, raw []byte) int {
	n := min(len(raw)/4, len(dst))
	for i := range n {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return n
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = domain.CaptureSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = domain.CaptureChannels
	}
	return cfg
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
