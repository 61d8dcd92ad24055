package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
)

// sampleQueue hands float32 samples from a device callback to a blocking
// reader. The callback side never blocks; once maxSamples are pending the
// oldest samples are discarded.
type sampleQueue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	buf        []float32
	maxSamples int
	closed     bool
	dropped    int
}

func newSampleQueue(maxSamples int) *sampleQueue {
	q := &sampleQueue{maxSamples: maxSamples}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// pushFloat32LE appends raw little-endian float32 bytes.
func (q *sampleQueue) pushFloat32LE(raw []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for i := 0; i+4 <= len(raw); i += 4 {
		q.buf = append(q.buf, math.Float32frombits(binary.LittleEndian.Uint32(raw[i:])))
	}
	if q.maxSamples > 0 && len(q.buf) > q.maxSamples {
		excess := len(q.buf) - q.maxSamples
		q.dropped += excess
		q.buf = append(q.buf[:0], q.buf[excess:]...)
	}
	q.cond.Signal()
}

// read blocks until dst can be filled or the queue is closed.
func (q *sampleQueue) read(dst []float32) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) < len(dst) && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return 0, io.EOF
	}

	n := copy(dst, q.buf)
	q.buf = append(q.buf[:0], q.buf[n:]...)
	return n, nil
}

func (q *sampleQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.buf = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}
