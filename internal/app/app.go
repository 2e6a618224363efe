package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/meeting-tray/internal/audio"
	"github.com/petems/meeting-tray/internal/clipboard"
	"github.com/petems/meeting-tray/internal/config"
	"github.com/petems/meeting-tray/internal/session"
	"github.com/petems/meeting-tray/internal/sink"
	"github.com/rs/zerolog"
)

// persistTimeout bounds saving a stopped session. Cancelling the caller's
// context does not abort the save.
const persistTimeout = 30 * time.Second

var (
	// ErrNothingToUpload is returned by UploadLast before any recording was saved.
	ErrNothingToUpload = errors.New("no recording to upload")

	// ErrUploadNotConfigured is returned by UploadLast without an upload target.
	ErrUploadNotConfigured = errors.New("upload not configured")
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetProcessing()
	SetError()
}

// Statuses fans every update out to each non-nil updater.
type Statuses []StatusUpdater

func (s Statuses) SetIdle() {
	for _, u := range s {
		if u != nil {
			u.SetIdle()
		}
	}
}

func (s Statuses) SetRecording() {
	for _, u := range s {
		if u != nil {
			u.SetRecording()
		}
	}
}

func (s Statuses) SetProcessing() {
	for _, u := range s {
		if u != nil {
			u.SetProcessing()
		}
	}
}

func (s Statuses) SetError() {
	for _, u := range s {
		if u != nil {
			u.SetError()
		}
	}
}

// Recorder is the capture engine; *session.Controller satisfies it.
type Recorder interface {
	Start() (session.Handle, error)
	Stop() (session.Result, error)
	Status() session.Status
}

// Uploader ships a saved recording somewhere else.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// DeviceLister enumerates capture devices; audio.Registry satisfies it.
type DeviceLister interface {
	CaptureDevices(includeLoopback bool) ([]audio.Device, error)
}

type Config struct {
	Recorder      Recorder
	Devices       DeviceLister // Optional
	Sink          sink.Sink
	Uploader      Uploader         // Optional - nil disables uploads
	Clipboard     clipboard.Copier // Optional
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

// Saved describes a persisted recording.
type Saved struct {
	Artifact  string   `json:"file"`
	Path      string   `json:"path"`
	Duration  float64  `json:"duration_seconds"`
	Abandoned []string `json:"abandoned,omitempty"`
}

// Status is the app-level view served to the tray and API clients.
type Status struct {
	session.Status
	Mode       string `json:"mode"`
	Processing bool   `json:"processing"`
	LastSaved  string `json:"last_saved,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	Message    string `json:"message"`
}

type App struct {
	rec     Recorder
	devices DeviceLister
	sink    sink.Sink
	up      Uploader
	clip    clipboard.Copier
	cfg     *config.Config
	log     zerolog.Logger
	status  StatusUpdater

	// mu serializes start/stop requests from the hotkey, tray and API.
	mu sync.Mutex

	// stateMu guards cfg and the last* fields.
	stateMu   sync.Mutex
	lastSaved string
	lastErr   string

	uploads    sync.WaitGroup
	processing atomic.Int32
	bgCtx      context.Context
	bgCancel   context.CancelFunc
}

func New(cfg Config) *App {
	status := cfg.StatusUpdater
	if status == nil {
		status = Statuses(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		rec:      cfg.Recorder,
		devices:  cfg.Devices,
		sink:     cfg.Sink,
		up:       cfg.Uploader,
		clip:     cfg.Clipboard,
		cfg:      cfg.Config,
		log:      cfg.Logger,
		status:   status,
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// OnHotkey handles global hotkey press and release events.
func (a *App) OnHotkey(pressed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.Mode() {
	case config.ModePushToTalk:
		if pressed {
			_, _ = a.startLocked()
		} else {
			_, _ = a.stopLocked(context.Background())
		}
	default:
		if !pressed {
			return
		}
		if a.isRecording() {
			_, _ = a.stopLocked(context.Background())
		} else {
			_, _ = a.startLocked()
		}
	}
}

// StartRecording begins a session.
func (a *App) StartRecording() (session.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startLocked()
}

// StopRecording ends the session and persists the mix.
func (a *App) StopRecording(ctx context.Context) (Saved, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked(ctx)
}

func (a *App) startLocked() (session.Handle, error) {
	h, err := a.rec.Start()
	if errors.Is(err, session.ErrAlreadyRecording) {
		return h, err
	}
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to start recording")
		a.fail(err)
		return h, err
	}

	a.setLastError("")
	a.log.Info().Str("artifact", h.Artifact).Msg("Recording started")
	a.status.SetRecording()
	return h, nil
}

func (a *App) stopLocked(ctx context.Context) (Saved, error) {
	res, err := a.rec.Stop()
	if errors.Is(err, session.ErrNotRecording) {
		return Saved{}, err
	}

	if len(res.Abandoned) > 0 {
		a.log.Warn().Strs("sources", res.Abandoned).Msg("Some capture workers were abandoned")
	}
	if res.SourceErrors != nil {
		a.log.Warn().Err(res.SourceErrors).Msg("Recording finished with source errors")
	}
	if err != nil {
		a.log.Error().Err(err).Str("artifact", res.Artifact).Msg("Nothing was recorded")
		a.fail(err)
		return Saved{Artifact: res.Artifact}, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	path, err := a.sink.Persist(ctx, res.Waveform, res.Artifact)
	if err != nil {
		a.log.Error().Err(err).Str("artifact", res.Artifact).Msg("Failed to save recording")
		a.fail(err)
		return Saved{Artifact: res.Artifact}, err
	}

	saved := Saved{
		Artifact:  res.Artifact,
		Path:      path,
		Duration:  res.Waveform.Duration(),
		Abandoned: res.Abandoned,
	}
	a.stateMu.Lock()
	a.lastSaved = path
	a.lastErr = ""
	copyPath := a.cfg.CopyPathOnSave
	upload := a.cfg.Upload.Enabled
	a.stateMu.Unlock()

	a.log.Info().
		Str("path", path).
		Float64("seconds", saved.Duration).
		Msg("Recording saved")

	if copyPath && a.clip != nil {
		if err := a.clip.Copy(ctx, path); err != nil {
			a.log.Warn().Err(err).Msg("Failed to copy path to clipboard")
		}
	}

	switch {
	case upload && a.up != nil:
		a.status.SetProcessing()
		a.uploadInBackground(path)
	case upload:
		a.log.Warn().Msg("Upload enabled but no upload target is configured")
		a.status.SetIdle()
	default:
		a.status.SetIdle()
	}
	return saved, nil
}

func (a *App) uploadInBackground(path string) {
	a.uploads.Add(1)
	a.processing.Add(1)
	go func() {
		defer a.uploads.Done()

		key, err := a.up.Upload(a.bgCtx, path)
		a.processing.Add(-1)
		if err != nil {
			a.log.Error().Err(err).Str("path", path).Msg("Upload failed")
			a.fail(err)
			return
		}
		a.log.Info().Str("key", key).Msg("Recording uploaded")

		if a.processing.Load() == 0 && !a.isRecording() {
			a.status.SetIdle()
		}
	}()
}

func (a *App) fail(err error) {
	a.setLastError(err.Error())
	a.status.SetError()
}

func (a *App) setLastError(msg string) {
	a.stateMu.Lock()
	a.lastErr = msg
	a.stateMu.Unlock()
}

func (a *App) isRecording() bool {
	return a.rec.Status().State != session.StateIdle
}

// IsRecording reports whether a session is active.
func (a *App) IsRecording() bool {
	return a.isRecording()
}

// Status never blocks on an in-flight start or stop.
func (a *App) Status() Status {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	s := Status{
		Status:     a.rec.Status(),
		Mode:       a.cfg.Mode,
		Processing: a.processing.Load() > 0,
		LastSaved:  a.lastSaved,
		LastError:  a.lastErr,
	}
	s.Message = statusMessage(s)
	return s
}

func statusMessage(s Status) string {
	switch {
	case s.State == session.StateRecording:
		return "Recording in progress..."
	case s.State == session.StateStopping:
		return "Stopping..."
	case s.Processing:
		return "Uploading recording..."
	case s.LastError != "":
		return "Error: " + s.LastError
	case s.LastSaved != "":
		return "Recording saved"
	default:
		return "Ready"
	}
}

// UploadLast uploads the most recent recording and waits for the result.
func (a *App) UploadLast(ctx context.Context) (string, error) {
	if a.up == nil {
		return "", ErrUploadNotConfigured
	}
	path := a.LastSaved()
	if path == "" {
		return "", ErrNothingToUpload
	}

	a.processing.Add(1)
	a.status.SetProcessing()
	key, err := a.up.Upload(ctx, path)
	a.processing.Add(-1)
	if err != nil {
		a.log.Error().Err(err).Str("path", path).Msg("Upload failed")
		a.fail(err)
		return "", err
	}
	a.log.Info().Str("key", key).Msg("Recording uploaded")
	if a.processing.Load() == 0 && !a.isRecording() {
		a.status.SetIdle()
	}
	return key, nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.isRecording() {
		if _, err := a.stopLocked(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Final recording was not saved")
		}
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.uploads.Wait()
		close(done)
	}()

	defer a.bgCancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for uploads: %w", ctx.Err())
	}
}

// Tray actions

func (a *App) Mode() string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.cfg.Mode
}

func (a *App) SetMode(mode string) error {
	if mode != config.ModePushToTalk && mode != config.ModeToggle {
		return fmt.Errorf("unknown mode %q", mode)
	}
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.cfg.Mode = mode
	return a.cfg.Save()
}

func (a *App) CopyPathOnSave() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.cfg.CopyPathOnSave
}

func (a *App) SetCopyPathOnSave(on bool) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.cfg.CopyPathOnSave = on
	return a.cfg.Save()
}

func (a *App) UploadEnabled() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.cfg.Upload.Enabled
}

func (a *App) SetUploadEnabled(on bool) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.cfg.Upload.Enabled = on
	return a.cfg.Save()
}

func (a *App) RunAtLogin() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.cfg.RunAtLogin
}

func (a *App) SetRunAtLogin(on bool) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.cfg.RunAtLogin = on
	return a.cfg.Save()
}

// LastSaved returns the path of the most recent recording.
func (a *App) LastSaved() string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.lastSaved
}

func (a *App) RecordingsDir() string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.cfg.RecordingsDir()
}

func (a *App) ListDevices() ([]audio.Device, error) {
	if a.devices == nil {
		return nil, audio.ErrDeviceNotFound
	}
	return a.devices.CaptureDevices(true)
}
