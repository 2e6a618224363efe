package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// pushQueueDepth bounds how many callback buffers wait for Pull before
// new ones are dropped.
const pushQueueDepth = 64

const minPullTimeout = time.Millisecond

// pushStream turns a callback-driven backend into a Stream. The device
// callback never blocks: when the consumer falls behind, buffers are dropped
// and counted.
type pushStream struct {
	channels    int
	chunkFrames int
	timeout     time.Duration

	queue   chan []float32
	carry   []float32
	done    chan struct{}
	once    sync.Once
	stop    func() error
	dropped atomic.Int64
}

func newPushStream(channels, chunkFrames, sampleRate int) *pushStream {
	// Pull waits at most one chunk duration, so a starved device still
	// returns to the worker in time to see a disarm. Partial data stays in
	// carry across timeouts.
	timeout := max(ChunkDuration(chunkFrames, sampleRate), minPullTimeout)
	return &pushStream{
		channels:    channels,
		chunkFrames: chunkFrames,
		timeout:     timeout,
		queue:       make(chan []float32, pushQueueDepth),
		done:        make(chan struct{}),
	}
}

// push is called from the backend callback with interleaved samples it may reuse.
func (s *pushStream) push(samples []float32) {
	select {
	case <-s.done:
		return
	default:
	}

	buf := make([]float32, len(samples))
	copy(buf, samples)
	select {
	case s.queue <- buf:
	default:
		s.dropped.Add(1)
	}
}

func (s *pushStream) Pull() (Frames, error) {
	want := s.chunkFrames * s.channels
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for len(s.carry) < want {
		select {
		case buf := <-s.queue:
			s.carry = append(s.carry, buf...)
		case <-timer.C:
			return Frames{}, ErrPullTimeout
		case <-s.done:
			return Frames{}, ErrStreamClosed
		}
	}

	out := make([]float32, want)
	copy(out, s.carry)
	s.carry = append(s.carry[:0], s.carry[want:]...)
	return Frames{Samples: out, Channels: s.channels}, nil
}

// Dropped reports how many callback buffers were discarded.
func (s *pushStream) Dropped() int64 {
	return s.dropped.Load()
}

func (s *pushStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.stop != nil {
			err = s.stop()
		}
	})
	return err
}
