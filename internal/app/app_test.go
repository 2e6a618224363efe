package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/petems/meeting-tray/internal/audio"
	"github.com/petems/meeting-tray/internal/audio/audiotest"
	"github.com/petems/meeting-tray/internal/config"
	"github.com/petems/meeting-tray/internal/mixer"
	"github.com/petems/meeting-tray/internal/session"
	"github.com/petems/meeting-tray/internal/sink"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations for testing
type mockRecorder struct {
	mu        sync.Mutex
	recording bool
	startErr  error
	stopErr   error
	result    session.Result
}

func (m *mockRecorder) Start() (session.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recording {
		return session.Handle{}, session.ErrAlreadyRecording
	}
	if m.startErr != nil {
		return session.Handle{}, m.startErr
	}
	m.recording = true
	return session.Handle{Artifact: m.result.Artifact}, nil
}

func (m *mockRecorder) Stop() (session.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.recording {
		return session.Result{}, session.ErrNotRecording
	}
	m.recording = false
	return m.result, m.stopErr
}

func (m *mockRecorder) Status() session.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recording {
		return session.Status{State: session.StateRecording, StateName: "recording"}
	}
	return session.Status{State: session.StateIdle, StateName: "idle"}
}

type mockStatus struct {
	mu     sync.Mutex
	events []string
}

func (m *mockStatus) add(e string) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *mockStatus) SetIdle()       { m.add("idle") }
func (m *mockStatus) SetRecording()  { m.add("recording") }
func (m *mockStatus) SetProcessing() { m.add("processing") }
func (m *mockStatus) SetError()      { m.add("error") }

func (m *mockStatus) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return ""
	}
	return m.events[len(m.events)-1]
}

type mockUploader struct {
	release chan struct{}
	err     error
	mu      sync.Mutex
	paths   []string
}

func (m *mockUploader) Upload(ctx context.Context, path string) (string, error) {
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.mu.Lock()
	m.paths = append(m.paths, path)
	m.mu.Unlock()
	return filepath.Base(path), m.err
}

type mockCopier struct {
	mu   sync.Mutex
	text string
}

func (m *mockCopier) Copy(ctx context.Context, text string) error {
	m.mu.Lock()
	m.text = text
	m.mu.Unlock()
	return nil
}

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	cfg.Mode = mode
	return cfg
}

func okResult() session.Result {
	return session.Result{
		Handle:   session.Handle{Artifact: "meeting_1.wav"},
		Waveform: mixer.Waveform{Samples: make([]float32, 22050), SampleRate: 44100},
	}
}

type fixture struct {
	app    *App
	rec    *mockRecorder
	sink   *sink.Memory
	status *mockStatus
	clip   *mockCopier
}

func newFixture(t *testing.T, mode string, up Uploader) *fixture {
	f := &fixture{
		rec:    &mockRecorder{result: okResult()},
		sink:   sink.NewMemory(),
		status: &mockStatus{},
		clip:   &mockCopier{},
	}
	f.app = New(Config{
		Recorder:      f.rec,
		Sink:          f.sink,
		Uploader:      up,
		Clipboard:     f.clip,
		Config:        testConfig(t, mode),
		Logger:        zerolog.Nop(),
		StatusUpdater: f.status,
	})
	return f
}

func TestToggleModeKeyPress(t *testing.T) {
	app := newFixture(t, config.ModeToggle, nil).app

	// Initially not recording
	if app.IsRecording() {
		t.Error("App should not be recording initially")
	}

	// First key press - should start recording
	app.OnHotkey(true)
	if !app.IsRecording() {
		t.Error("App should be recording after first key press")
	}

	// Key release - should NOT stop recording in Toggle mode
	app.OnHotkey(false)
	if !app.IsRecording() {
		t.Error("App should still be recording after key release in Toggle mode")
	}

	// Second key press - should stop recording
	app.OnHotkey(true)
	if app.IsRecording() {
		t.Error("App should have stopped recording after second key press")
	}
}

func TestPushToTalkModeKeyPress(t *testing.T) {
	app := newFixture(t, config.ModePushToTalk, nil).app

	// Key press - should start recording
	app.OnHotkey(true)
	if !app.IsRecording() {
		t.Error("App should be recording after key press")
	}

	// Key release - should stop recording in PushToTalk mode
	app.OnHotkey(false)
	if app.IsRecording() {
		t.Error("App should have stopped recording after key release")
	}
}

func TestToggleModeIgnoresKeyRelease(t *testing.T) {
	app := newFixture(t, config.ModeToggle, nil).app

	// Key release when not recording - should do nothing
	app.OnHotkey(false)
	if app.IsRecording() {
		t.Error("App should not start recording on key release")
	}

	app.OnHotkey(true)
	// Multiple key releases - should not stop recording
	app.OnHotkey(false)
	app.OnHotkey(false)
	app.OnHotkey(false)
	if !app.IsRecording() {
		t.Error("App should still be recording after multiple key releases in Toggle mode")
	}
}

func TestStopPersistsAndCopiesPath(t *testing.T) {
	f := newFixture(t, config.ModeToggle, nil)

	_, err := f.app.StartRecording()
	require.NoError(t, err)
	assert.Equal(t, "recording", f.status.last())

	saved, err := f.app.StopRecording(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "meeting_1.wav", saved.Artifact)
	assert.Equal(t, "mem://meeting_1.wav", saved.Path)
	assert.InDelta(t, 0.5, saved.Duration, 1e-9)

	_, ok := f.sink.Get("meeting_1.wav")
	assert.True(t, ok)
	assert.Equal(t, "mem://meeting_1.wav", f.clip.text)
	assert.Equal(t, "mem://meeting_1.wav", f.app.LastSaved())
	assert.Equal(t, "idle", f.status.last())
}

func TestStopPersistsWhenCallerCancelled(t *testing.T) {
	f := newFixture(t, config.ModeToggle, nil)

	_, err := f.app.StartRecording()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	saved, err := f.app.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mem://meeting_1.wav", saved.Path)
	assert.Equal(t, []string{"meeting_1.wav"}, f.sink.Names())
	assert.False(t, f.app.IsRecording())
	assert.Equal(t, "idle", f.status.last())
}

func TestStartTwiceReportsAlreadyRecording(t *testing.T) {
	f := newFixture(t, config.ModeToggle, nil)

	_, err := f.app.StartRecording()
	require.NoError(t, err)
	_, err = f.app.StartRecording()
	assert.ErrorIs(t, err, session.ErrAlreadyRecording)
	assert.Equal(t, "recording", f.status.last())
}

func TestStopWithoutStart(t *testing.T) {
	f := newFixture(t, config.ModeToggle, nil)

	_, err := f.app.StopRecording(context.Background())
	assert.ErrorIs(t, err, session.ErrNotRecording)
	assert.Empty(t, f.status.events)
}

func TestStopEmptySetsError(t *testing.T) {
	f := newFixture(t, config.ModeToggle, nil)
	f.rec.stopErr = session.ErrEmpty

	_, err := f.app.StartRecording()
	require.NoError(t, err)
	_, err = f.app.StopRecording(context.Background())
	assert.ErrorIs(t, err, session.ErrEmpty)
	assert.Equal(t, "error", f.status.last())
	assert.NotEmpty(t, f.app.Status().LastError)
	assert.Empty(t, f.sink.Names())
}

func TestStartFailureSetsError(t *testing.T) {
	f := newFixture(t, config.ModeToggle, nil)
	f.rec.startErr = audio.ErrDeviceNotFound

	_, err := f.app.StartRecording()
	assert.ErrorIs(t, err, audio.ErrDeviceNotFound)
	assert.Equal(t, "error", f.status.last())
}

func TestPersistFailure(t *testing.T) {
	f := newFixture(t, config.ModeToggle, nil)
	f.sink.Err = errors.New("disk full")

	_, err := f.app.StartRecording()
	require.NoError(t, err)
	_, err = f.app.StopRecording(context.Background())
	assert.ErrorIs(t, err, sink.ErrPersistFailed)
	assert.Equal(t, "error", f.status.last())
	assert.Empty(t, f.clip.text)
}

func TestUploadRunsInBackground(t *testing.T) {
	up := &mockUploader{release: make(chan struct{})}
	f := newFixture(t, config.ModeToggle, up)
	require.NoError(t, f.app.SetUploadEnabled(true))

	_, err := f.app.StartRecording()
	require.NoError(t, err)
	_, err = f.app.StopRecording(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "processing", f.status.last())
	assert.True(t, f.app.Status().Processing)

	close(up.release)
	require.Eventually(t, func() bool { return f.status.last() == "idle" }, time.Second, time.Millisecond)
	assert.False(t, f.app.Status().Processing)
	assert.Equal(t, []string{"mem://meeting_1.wav"}, up.paths)
}

func TestShutdownStopsAndWaitsForUploads(t *testing.T) {
	up := &mockUploader{}
	f := newFixture(t, config.ModeToggle, up)
	require.NoError(t, f.app.SetUploadEnabled(true))

	_, err := f.app.StartRecording()
	require.NoError(t, err)
	require.NoError(t, f.app.Shutdown(context.Background()))

	assert.False(t, f.app.IsRecording())
	assert.Equal(t, []string{"mem://meeting_1.wav"}, up.paths)
}

func TestShutdownTimesOutOnStuckUpload(t *testing.T) {
	up := &mockUploader{release: make(chan struct{})}
	f := newFixture(t, config.ModeToggle, up)
	require.NoError(t, f.app.SetUploadEnabled(true))

	_, err := f.app.StartRecording()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.app.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetModePersists(t *testing.T) {
	f := newFixture(t, config.ModeToggle, nil)

	require.NoError(t, f.app.SetMode(config.ModePushToTalk))
	assert.Equal(t, config.ModePushToTalk, f.app.Mode())
	assert.Error(t, f.app.SetMode("Hold"))

	loaded, err := config.LoadFrom(f.app.cfg.Path())
	require.NoError(t, err)
	assert.Equal(t, config.ModePushToTalk, loaded.Mode)
}

func TestStatusesFanOut(t *testing.T) {
	a, b := &mockStatus{}, &mockStatus{}
	s := Statuses{a, nil, b}
	s.SetRecording()
	s.SetIdle()
	assert.Equal(t, []string{"recording", "idle"}, a.events)
	assert.Equal(t, []string{"recording", "idle"}, b.events)
}

func TestWithRealController(t *testing.T) {
	reg := audiotest.NewRegistry().
		Add(&audiotest.Script{Device: audio.Device{Name: "Speakers", Loopback: true}, Steps: []audiotest.Step{audiotest.Chunk(256, 0.2)}}).
		Add(&audiotest.Script{Device: audio.Device{Name: "Microphone"}, Steps: []audiotest.Step{audiotest.Chunk(256, 0.4)}})
	reg.SetDefaultCapture("Microphone")

	ctrl := session.New(reg, session.Options{ChunkFrames: 256}, zerolog.Nop())
	mem := sink.NewMemory()
	app := New(Config{
		Recorder: ctrl,
		Devices:  reg,
		Sink:     mem,
		Config:   testConfig(t, config.ModeToggle),
		Logger:   zerolog.Nop(),
	})

	devices, err := app.ListDevices()
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	h, err := app.StartRecording()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s := app.Status()
		return s.SystemSamples == 256 && s.MicSamples == 256
	}, time.Second, time.Millisecond)

	saved, err := app.StopRecording(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.Artifact, saved.Artifact)

	w, ok := mem.Get(h.Artifact)
	require.True(t, ok)
	require.Len(t, w.Samples, 256)
	assert.InDelta(t, 0.3, w.Samples[0], 1e-6)
}

func TestUploadLast(t *testing.T) {
	up := &mockUploader{}
	f := newFixture(t, config.ModeToggle, up)

	_, err := f.app.UploadLast(context.Background())
	assert.ErrorIs(t, err, ErrNothingToUpload)

	_, err = f.app.StartRecording()
	require.NoError(t, err)
	_, err = f.app.StopRecording(context.Background())
	require.NoError(t, err)
	assert.Empty(t, up.paths, "uploads are off by default")

	key, err := f.app.UploadLast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "meeting_1.wav", key)
	assert.Equal(t, "idle", f.status.last())
}

func TestUploadLastWithoutUploader(t *testing.T) {
	f := newFixture(t, config.ModeToggle, nil)
	_, err := f.app.UploadLast(context.Background())
	assert.ErrorIs(t, err, ErrUploadNotConfigured)
}

func TestStatusMessage(t *testing.T) {
	f := newFixture(t, config.ModeToggle, nil)
	assert.Equal(t, "Ready", f.app.Status().Message)

	_, err := f.app.StartRecording()
	require.NoError(t, err)
	assert.Equal(t, "Recording in progress...", f.app.Status().Message)

	_, err = f.app.StopRecording(context.Background())
	require.NoError(t, err)
	st := f.app.Status()
	assert.Equal(t, "Recording saved", st.Message)
	assert.Equal(t, config.ModeToggle, st.Mode)
}
