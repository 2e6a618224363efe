package session

import (
	"errors"
	"testing"
	"time"

	"github.com/petems/meeting-tray/internal/audio"
	"github.com/petems/meeting-tray/internal/audio/audiotest"
	"github.com/petems/meeting-tray/internal/capture"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chunk = 1024

func chunks(n int, value float32) []audiotest.Step {
	steps := make([]audiotest.Step, n)
	for i := range steps {
		steps[i] = audiotest.Chunk(chunk, value)
	}
	return steps
}

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func meetingRegistry(sysSteps, micSteps []audiotest.Step) *audiotest.Registry {
	reg := audiotest.NewRegistry().
		Add(&audiotest.Script{Device: audio.Device{Name: "Speakers", Loopback: true}, Steps: sysSteps}).
		Add(&audiotest.Script{Device: audio.Device{Name: "Stereo Mix (Realtek Audio)"}}).
		Add(&audiotest.Script{Device: audio.Device{Name: "USB Microphone"}, Steps: micSteps})
	reg.SetDefaultPlayback(audio.Device{ID: "speakers-out", Name: "Speakers"})
	reg.SetDefaultCapture("Stereo Mix (Realtek Audio)")
	return reg
}

func newController(reg audio.Registry, opts Options) *Controller {
	if opts.ChunkFrames == 0 {
		opts.ChunkFrames = chunk
	}
	return New(reg, opts, zerolog.Nop())
}

func TestStartStopMixesBothSources(t *testing.T) {
	reg := meetingRegistry(chunks(44, 0.2), chunks(22, 0.4))
	c := newController(reg, Options{Now: fixedClock(1700000000)})

	h, err := c.Start()
	require.NoError(t, err)
	assert.Equal(t, "meeting_1700000000.wav", h.Artifact)
	assert.Equal(t, "Speakers", h.System.Name)
	assert.Equal(t, "USB Microphone", h.Mic.Name)
	assert.Equal(t, StateRecording, c.State())

	require.Eventually(t, func() bool {
		s := c.Status()
		return s.SystemSamples == 44*chunk && s.MicSamples == 22*chunk
	}, 2*time.Second, time.Millisecond)

	res, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, res.Abandoned)
	assert.NoError(t, res.SourceErrors)
	assert.Equal(t, h.Artifact, res.Artifact)
	assert.Equal(t, 44*chunk, res.SystemSamples)
	assert.Equal(t, 22*chunk, res.MicSamples)

	w := res.Waveform
	assert.Equal(t, 44100, w.SampleRate)
	require.Len(t, w.Samples, 44*chunk)
	assert.InDelta(t, 0.3, w.Samples[0], 1e-6)
	assert.InDelta(t, 0.3, w.Samples[22*chunk-1], 1e-6)
	assert.InDelta(t, 0.1, w.Samples[22*chunk], 1e-6)
	assert.InDelta(t, 0.1, w.Samples[len(w.Samples)-1], 1e-6)

	assert.Equal(t, 1, reg.Opened("Speakers"))
	assert.Equal(t, 1, reg.Opened("USB Microphone"))
	assert.Equal(t, 0, reg.Opened("Stereo Mix (Realtek Audio)"))
}

func TestStartTwiceKeepsFirstSession(t *testing.T) {
	reg := meetingRegistry(chunks(3, 0.2), chunks(2, 0.4))
	c := newController(reg, Options{Now: fixedClock(1700000000)})
	first, err := c.Start()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := c.Status()
		return s.SystemSamples == 3*chunk && s.MicSamples == 2*chunk
	}, time.Second, time.Millisecond)

	_, err = c.Start()
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Equal(t, StateRecording, c.State())

	res, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, first.Artifact, res.Artifact)
	assert.Equal(t, 3*chunk, res.SystemSamples)
	assert.Equal(t, 2*chunk, res.MicSamples)
	assert.Len(t, res.Waveform.Samples, 3*chunk)
	assert.Equal(t, 1, reg.Opened("Speakers"))
	assert.Equal(t, 1, reg.Opened("USB Microphone"))
}

func TestStopWithoutStart(t *testing.T) {
	c := newController(meetingRegistry(nil, nil), Options{})
	_, err := c.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.Equal(t, StateIdle, c.State())
}

func TestStartWithoutDevices(t *testing.T) {
	c := newController(audiotest.NewRegistry(), Options{})
	_, err := c.Start()
	assert.ErrorIs(t, err, audio.ErrDeviceNotFound)
	assert.Equal(t, StateIdle, c.State())
}

func TestBothSourcesFailToOpen(t *testing.T) {
	reg := audiotest.NewRegistry().
		Add(&audiotest.Script{Device: audio.Device{Name: "Speakers", Loopback: true}, OpenErr: errors.New("exclusive mode")}).
		Add(&audiotest.Script{Device: audio.Device{Name: "Microphone"}, OpenErr: errors.New("permission denied")})
	reg.SetDefaultCapture("Microphone")

	c := newController(reg, Options{})
	_, err := c.Start()
	require.NoError(t, err)

	res, err := c.Stop()
	assert.ErrorIs(t, err, ErrEmpty)
	require.Error(t, res.SourceErrors)
	assert.ErrorIs(t, res.SourceErrors, capture.ErrStreamOpenFailed)
	assert.Contains(t, res.SourceErrors.Error(), "exclusive mode")
	assert.Contains(t, res.SourceErrors.Error(), "permission denied")
	assert.Equal(t, StateIdle, c.State())
}

func TestOneSourceFailsStillProducesAudio(t *testing.T) {
	reg := audiotest.NewRegistry().
		Add(&audiotest.Script{Device: audio.Device{Name: "Speakers", Loopback: true}, OpenErr: errors.New("gone")}).
		Add(&audiotest.Script{Device: audio.Device{Name: "Microphone"}, Steps: chunks(3, 0.5)})
	reg.SetDefaultCapture("Microphone")

	c := newController(reg, Options{})
	_, err := c.Start()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Status().MicSamples == 3*chunk }, time.Second, time.Millisecond)

	res, err := c.Stop()
	require.NoError(t, err)
	assert.ErrorIs(t, res.SourceErrors, capture.ErrStreamOpenFailed)
	assert.Equal(t, 0, res.SystemSamples)
	require.Len(t, res.Waveform.Samples, 3*chunk)
	assert.InDelta(t, 0.5, res.Waveform.Samples[0], 1e-6)
}

func TestStopAbandonsHungWorker(t *testing.T) {
	reg := audiotest.NewRegistry().
		Add(&audiotest.Script{Device: audio.Device{Name: "Speakers", Loopback: true}, Steps: chunks(2, 0.2), Hang: true}).
		Add(&audiotest.Script{Device: audio.Device{Name: "Microphone"}, Steps: chunks(2, 0.4)})
	reg.SetDefaultCapture("Microphone")
	t.Cleanup(reg.Release)

	c := newController(reg, Options{ShutdownTimeout: 50 * time.Millisecond})
	_, err := c.Start()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s := c.Status()
		return s.SystemSamples == 2*chunk && s.MicSamples == 2*chunk
	}, time.Second, time.Millisecond)

	start := time.Now()
	res, err := c.Stop()
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, []string{SourceSystem}, res.Abandoned)
	assert.Less(t, elapsed, time.Second)
	require.Len(t, res.Waveform.Samples, 2*chunk)
	assert.InDelta(t, 0.3, res.Waveform.Samples[0], 1e-6)

	// A fresh session works while the abandoned worker is still blocked.
	_, err = c.Start()
	require.NoError(t, err)
	_, _ = c.Stop()
}

func TestArtifactNamesAreUnique(t *testing.T) {
	c := newController(meetingRegistry(chunks(1, 0.1), nil), Options{Now: fixedClock(1700000000), ArtifactPrefix: "standup"})

	h1, err := c.Start()
	require.NoError(t, err)
	_, _ = c.Stop()

	h2, err := c.Start()
	require.NoError(t, err)
	_, _ = c.Stop()

	assert.Equal(t, "standup_1700000000.wav", h1.Artifact)
	assert.Equal(t, "standup_1700000000000.wav", h2.Artifact)
}

func TestStatusWhileIdle(t *testing.T) {
	c := newController(meetingRegistry(nil, nil), Options{})
	s := c.Status()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, "idle", s.StateName)
	assert.Empty(t, s.Artifact)
	assert.Equal(t, 44100, c.SampleRate())
}
