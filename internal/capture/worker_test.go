package capture

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petems/meeting-tray/internal/audio"
	"github.com/petems/meeting-tray/internal/audio/audiotest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorker(reg *audiotest.Registry, dev audio.Device, armed *atomic.Bool) (*Worker, *Buffer) {
	buf := NewBuffer()
	w := New(Config{
		Source:      "mic",
		Device:      dev,
		Opener:      reg,
		Buffer:      buf,
		Armed:       armed,
		SampleRate:  44100,
		ChunkFrames: 4,
		Logger:      zerolog.Nop(),
	})
	return w, buf
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond)
}

func TestWorkerSurvivesChunkFailure(t *testing.T) {
	dev := audio.Device{ID: "mic", Name: "mic"}
	reg := audiotest.NewRegistry().Add(&audiotest.Script{
		Device: dev,
		Steps: []audiotest.Step{
			audiotest.Chunk(4, 0.1),
			audiotest.Fail(nil),
			audiotest.Chunk(4, 0.2),
		},
	})
	armed := new(atomic.Bool)
	armed.Store(true)

	w, buf := newWorker(reg, dev, armed)
	done := w.Start()
	waitFor(t, func() bool { return buf.Chunks() == 2 })
	armed.Store(false)
	<-done

	stats := w.Stats()
	assert.Equal(t, 2, stats.Chunks)
	assert.GreaterOrEqual(t, stats.Failures, 1)
	assert.NoError(t, stats.OpenErr)
	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, []float32{0.1, 0.1, 0.1, 0.1, 0.2, 0.2, 0.2, 0.2}, buf.Samples())
}

func TestWorkerDownmixesStereo(t *testing.T) {
	dev := audio.Device{ID: "sys", Name: "sys", Loopback: true}
	reg := audiotest.NewRegistry().Add(&audiotest.Script{
		Device: dev,
		Steps:  []audiotest.Step{audiotest.Interleaved(2, 0, 1, 1, 1)},
	})
	armed := new(atomic.Bool)
	armed.Store(true)

	w, buf := newWorker(reg, dev, armed)
	done := w.Start()
	waitFor(t, func() bool { return buf.Len() == 2 })
	armed.Store(false)
	<-done

	assert.Equal(t, []float32{0.5, 1}, buf.Samples())
}

func TestWorkerOpenFailure(t *testing.T) {
	dev := audio.Device{ID: "mic", Name: "mic"}
	reg := audiotest.NewRegistry().Add(&audiotest.Script{
		Device:  dev,
		OpenErr: errors.New("device busy"),
	})
	armed := new(atomic.Bool)
	armed.Store(true)

	w, buf := newWorker(reg, dev, armed)
	err := w.Run()
	require.ErrorIs(t, err, ErrStreamOpenFailed)
	assert.ErrorIs(t, w.Stats().OpenErr, ErrStreamOpenFailed)
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, StateStopped, w.State())
}

func TestWorkerDiscardsChunkPulledAfterDisarm(t *testing.T) {
	dev := audio.Device{ID: "mic", Name: "mic"}
	armed := new(atomic.Bool)
	armed.Store(true)

	reg := audiotest.NewRegistry().Add(&audiotest.Script{
		Device: dev,
		Steps:  []audiotest.Step{audiotest.Chunk(4, 0.5)},
		Delay:  20 * time.Millisecond,
	})
	w, buf := newWorker(reg, dev, armed)
	done := w.Start()

	// Disarm while the first Pull is still in flight.
	time.Sleep(5 * time.Millisecond)
	armed.Store(false)
	<-done

	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 1, reg.Opened("mic"))
}

func TestWorkerStopsOnSealedBuffer(t *testing.T) {
	dev := audio.Device{ID: "mic", Name: "mic"}
	reg := audiotest.NewRegistry().Add(&audiotest.Script{
		Device: dev,
		Steps:  []audiotest.Step{audiotest.Chunk(4, 0.5)},
	})
	armed := new(atomic.Bool)
	armed.Store(true)

	w, buf := newWorker(reg, dev, armed)
	buf.Seal()
	require.NoError(t, w.Run())
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 0, w.Stats().Chunks)
}

func TestWorkerStopsWhenStreamClosed(t *testing.T) {
	dev := audio.Device{ID: "mic", Name: "mic"}
	reg := audiotest.NewRegistry().Add(&audiotest.Script{
		Device: dev,
		Steps:  []audiotest.Step{audiotest.Fail(audio.ErrStreamClosed)},
	})
	armed := new(atomic.Bool)
	armed.Store(true)

	w, _ := newWorker(reg, dev, armed)
	require.NoError(t, w.Run())
	assert.True(t, armed.Load())
	assert.Equal(t, 0, w.Stats().Failures)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "armed", StateArmed.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
}

func TestWorkerBacksOffOnRepeatedFailures(t *testing.T) {
	dev := audio.Device{ID: "mic", Name: "mic"}
	steps := make([]audiotest.Step, 10000)
	for i := range steps {
		steps[i] = audiotest.Fail(nil)
	}
	reg := audiotest.NewRegistry().Add(&audiotest.Script{Device: dev, Steps: steps})
	armed := new(atomic.Bool)
	armed.Store(true)

	buf := NewBuffer()
	w := New(Config{
		Source:      "mic",
		Device:      dev,
		Opener:      reg,
		Buffer:      buf,
		Armed:       armed,
		SampleRate:  44100,
		ChunkFrames: 4410, // 100ms
		Logger:      zerolog.Nop(),
	})
	done := w.Start()
	time.Sleep(150 * time.Millisecond)
	armed.Store(false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop within one second of disarm")
	}

	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Failures, 2)
	assert.Less(t, stats.Failures, 50)
	assert.Zero(t, stats.Chunks)
	assert.Zero(t, buf.Len())
}
