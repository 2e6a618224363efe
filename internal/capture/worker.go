package capture

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/petems/meeting-tray/internal/audio"
	"github.com/rs/zerolog"
)

var (
	// ErrStreamOpenFailed means the worker could not open its device and
	// contributed nothing.
	ErrStreamOpenFailed = errors.New("capture stream open failed")

	// ErrChunkPullFailed marks a single dropped chunk.
	ErrChunkPullFailed = errors.New("chunk pull failed")
)

// minPullBackoff is the first pause after repeated pull failures.
const minPullBackoff = time.Millisecond

// State is the worker lifecycle.
type State int32

const (
	StateArmed State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Opener opens capture streams; audio.Registry satisfies it.
type Opener interface {
	Open(dev audio.Device, sampleRate, chunkFrames int) (audio.Stream, error)
}

// Config is the state a worker owns for one session.
type Config struct {
	// Source labels the worker in logs, e.g. "system" or "mic".
	Source      string
	Device      audio.Device
	Opener      Opener
	Buffer      *Buffer
	Armed       *atomic.Bool
	SampleRate  int
	ChunkFrames int
	Logger      zerolog.Logger
}

// Stats summarises a worker run.
type Stats struct {
	Chunks   int
	Failures int
	OpenErr  error
}

// Worker pulls chunks from one device while armed.
type Worker struct {
	cfg   Config
	log   zerolog.Logger
	state atomic.Int32

	chunks   atomic.Int64
	failures atomic.Int64
	openErr  atomic.Pointer[error]
}

// New creates a worker in the Armed state.
func New(cfg Config) *Worker {
	w := &Worker{
		cfg: cfg,
		log: cfg.Logger.With().Str("source", cfg.Source).Str("device", cfg.Device.Name).Logger(),
	}
	w.state.Store(int32(StateArmed))
	return w
}

// Start runs the worker on its own goroutine. The returned channel is
// closed when Run returns.
func (w *Worker) Start() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run()
	}()
	return done
}

// Run captures until the armed flag is cleared. It returns an error
// wrapping ErrStreamOpenFailed when the device cannot be opened; pull
// errors are absorbed. Panics are recovered and logged.
func (w *Worker) Run() (err error) {
	defer w.state.Store(int32(StateStopped))
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("Capture loop panicked")
			err = fmt.Errorf("capture %s panicked: %v", w.cfg.Source, r)
		}
	}()

	stream, err := w.cfg.Opener.Open(w.cfg.Device, w.cfg.SampleRate, w.cfg.ChunkFrames)
	if err != nil {
		err = fmt.Errorf("%w: %s (%s): %v", ErrStreamOpenFailed, w.cfg.Source, w.cfg.Device.Name, err)
		w.openErr.Store(&err)
		w.log.Error().Err(err).Msg("Source not available")
		return err
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			w.log.Warn().Err(cerr).Msg("Failed to close capture stream")
		}
	}()

	w.state.Store(int32(StateRunning))
	w.log.Info().Int("sample_rate", w.cfg.SampleRate).Int("chunk_frames", w.cfg.ChunkFrames).Msg("Started recording")

	maxBackoff := audio.ChunkDuration(w.cfg.ChunkFrames, w.cfg.SampleRate)
	var backoff time.Duration
	for w.cfg.Armed.Load() {
		frames, err := stream.Pull()
		if err != nil {
			if errors.Is(err, audio.ErrStreamClosed) {
				w.log.Warn().Msg("Capture stream closed underneath worker")
				break
			}
			w.failures.Add(1)
			w.log.Debug().Err(fmt.Errorf("%w: %v", ErrChunkPullFailed, err)).Msg("Frame drop")
			// A timed out Pull has already waited. Other failures back off
			// when consecutive, never longer than one chunk.
			if errors.Is(err, audio.ErrPullTimeout) {
				continue
			}
			if backoff > 0 {
				time.Sleep(backoff)
			}
			backoff = min(max(2*backoff, minPullBackoff), maxBackoff)
			continue
		}
		backoff = 0

		// The stop signal may have arrived while Pull was blocked.
		if !w.cfg.Armed.Load() {
			break
		}
		if !w.cfg.Buffer.Append(audio.Mono(frames)) {
			break
		}
		w.chunks.Add(1)
	}

	w.log.Info().
		Int64("chunks", w.chunks.Load()).
		Int64("failures", w.failures.Load()).
		Msg("Stopped recording")
	return nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Source returns the worker's label.
func (w *Worker) Source() string {
	return w.cfg.Source
}

// Stats returns counters collected so far.
func (w *Worker) Stats() Stats {
	s := Stats{
		Chunks:   int(w.chunks.Load()),
		Failures: int(w.failures.Load()),
	}
	if p := w.openErr.Load(); p != nil {
		s.OpenErr = *p
	}
	return s
}
