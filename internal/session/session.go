// Package session owns the recording lifecycle: one system-audio worker and
// one microphone worker per session, a bounded shutdown, and the final mix.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/petems/meeting-tray/internal/audio"
	"github.com/petems/meeting-tray/internal/capture"
	"github.com/petems/meeting-tray/internal/mixer"
	"github.com/rs/zerolog"
)

// Sentinel errors for session control.
var (
	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("already recording")

	// ErrNotRecording is returned by Stop when no session is active.
	ErrNotRecording = errors.New("not recording")

	// ErrEmpty is returned by Stop when neither source captured anything.
	ErrEmpty = errors.New("no audio recorded from either source")
)

// Source labels.
const (
	SourceSystem = "system"
	SourceMic    = "mic"
)

// State is the controller lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Defaults.
const (
	DefaultSampleRate      = 44100
	DefaultChunkFrames     = 1024
	DefaultShutdownTimeout = 2 * time.Second
	DefaultArtifactPrefix  = "meeting"
)

// Options configures a Controller.
type Options struct {
	SampleRate      int
	ChunkFrames     int
	ShutdownTimeout time.Duration
	ArtifactPrefix  string
	MixMarkers      []string
	MicMarkers      []string
	// Now is used for artifact names; defaults to time.Now.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.ChunkFrames <= 0 {
		o.ChunkFrames = DefaultChunkFrames
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.ArtifactPrefix == "" {
		o.ArtifactPrefix = DefaultArtifactPrefix
	}
	if o.MixMarkers == nil {
		o.MixMarkers = audio.DefaultMixMarkers
	}
	if o.MicMarkers == nil {
		o.MicMarkers = audio.DefaultMicMarkers
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Handle identifies a started session.
type Handle struct {
	Artifact  string       `json:"artifact"`
	StartedAt time.Time    `json:"started_at"`
	System    audio.Device `json:"system"`
	Mic       audio.Device `json:"mic"`
}

// Result is the outcome of a stopped session.
type Result struct {
	Handle
	Waveform      mixer.Waveform
	SystemSamples int
	MicSamples    int
	// Abandoned lists sources whose worker missed the shutdown deadline.
	Abandoned []string
	// SourceErrors holds per-source failures that did not fail the session.
	SourceErrors error
}

// Status is a point-in-time view of the controller.
type Status struct {
	State         State     `json:"-"`
	StateName     string    `json:"state"`
	Artifact      string    `json:"artifact,omitempty"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	SystemSamples int       `json:"system_samples"`
	MicSamples    int       `json:"mic_samples"`
}

// active is the per-session state handed to the workers at spawn.
type active struct {
	handle  Handle
	armed   *atomic.Bool
	workers []*sourceRun
}

type sourceRun struct {
	worker *capture.Worker
	buffer *capture.Buffer
	done   <-chan struct{}
}

// Controller runs at most one recording session at a time.
type Controller struct {
	reg  audio.Registry
	opts Options
	log  zerolog.Logger

	state atomic.Int32

	// mu serializes Start and Stop.
	mu           sync.Mutex
	lastArtifact string

	curMu sync.RWMutex
	cur   *active
}

// New creates an idle controller.
func New(reg audio.Registry, opts Options, log zerolog.Logger) *Controller {
	opts.setDefaults()
	return &Controller{
		reg:  reg,
		opts: opts,
		log:  log,
	}
}

// Start resolves both sources and begins capturing.
func (c *Controller) Start() (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateIdle {
		return Handle{}, ErrAlreadyRecording
	}

	resolver := &audio.Resolver{
		Registry:   c.reg,
		MixMarkers: c.opts.MixMarkers,
		MicMarkers: c.opts.MicMarkers,
		Logger:     c.log,
	}
	system, sysErr := resolver.ResolveLoopback()
	mic, micErr := resolver.ResolveMicrophone()
	if sysErr != nil && micErr != nil {
		return Handle{}, fmt.Errorf("resolve devices: %w", audio.ErrDeviceNotFound)
	}

	now := c.opts.Now()
	handle := Handle{
		Artifact:  c.artifactName(now),
		StartedAt: now,
		System:    system,
		Mic:       mic,
	}

	a := &active{handle: handle, armed: new(atomic.Bool)}
	a.armed.Store(true)
	if sysErr == nil {
		a.workers = append(a.workers, c.spawn(SourceSystem, system, a.armed))
	} else {
		c.log.Warn().Err(sysErr).Msg("System audio source not available")
	}
	if micErr == nil {
		a.workers = append(a.workers, c.spawn(SourceMic, mic, a.armed))
	} else {
		c.log.Warn().Err(micErr).Msg("Microphone source not available")
	}

	c.curMu.Lock()
	c.cur = a
	c.curMu.Unlock()
	c.lastArtifact = handle.Artifact
	c.state.Store(int32(StateRecording))

	c.log.Info().
		Str("artifact", handle.Artifact).
		Str("system", system.Name).
		Str("mic", mic.Name).
		Msg("Session started")
	return handle, nil
}

func (c *Controller) spawn(source string, dev audio.Device, armed *atomic.Bool) *sourceRun {
	buf := capture.NewBuffer()
	w := capture.New(capture.Config{
		Source:      source,
		Device:      dev,
		Opener:      c.reg,
		Buffer:      buf,
		Armed:       armed,
		SampleRate:  c.opts.SampleRate,
		ChunkFrames: c.opts.ChunkFrames,
		Logger:      c.log,
	})
	return &sourceRun{worker: w, buffer: buf, done: w.Start()}
}

// Stop disarms both workers, waits for them up to the shutdown timeout and
// mixes whatever they captured.
func (c *Controller) Stop() (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateRecording {
		return Result{}, ErrNotRecording
	}
	c.state.Store(int32(StateStopping))
	defer c.state.Store(int32(StateIdle))

	c.curMu.RLock()
	a := c.cur
	c.curMu.RUnlock()
	defer func() {
		c.curMu.Lock()
		c.cur = nil
		c.curMu.Unlock()
	}()
	a.armed.Store(false)

	res := Result{Handle: a.handle}
	deadline := time.NewTimer(c.opts.ShutdownTimeout)
	defer deadline.Stop()

	var mErr *multierror.Error
	var system, mic []float32
	expired := false
	for _, run := range a.workers {
		if !expired {
			select {
			case <-run.done:
			case <-deadline.C:
				expired = true
			}
		}
		if expired {
			select {
			case <-run.done:
			default:
				res.Abandoned = append(res.Abandoned, run.worker.Source())
				c.log.Warn().Str("source", run.worker.Source()).Msg("Capture worker did not stop in time, abandoning it")
			}
		}
		run.buffer.Seal()

		stats := run.worker.Stats()
		if stats.OpenErr != nil {
			mErr = multierror.Append(mErr, stats.OpenErr)
		}

		samples := run.buffer.Samples()
		switch run.worker.Source() {
		case SourceSystem:
			system = samples
		case SourceMic:
			mic = samples
		}
	}
	res.SystemSamples = len(system)
	res.MicSamples = len(mic)
	res.SourceErrors = mErr.ErrorOrNil()

	c.log.Info().
		Str("artifact", a.handle.Artifact).
		Int("system_samples", len(system)).
		Int("mic_samples", len(mic)).
		Msg("Mixing audio")

	if len(system) == 0 && len(mic) == 0 {
		return res, ErrEmpty
	}

	res.Waveform = mixer.Waveform{
		Samples:    mixer.Mix(system, mic),
		SampleRate: c.opts.SampleRate,
	}
	return res, nil
}

// State returns the current lifecycle state without locking.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Status reports the current session, if any.
func (c *Controller) Status() Status {
	c.curMu.RLock()
	defer c.curMu.RUnlock()

	st := c.State()
	s := Status{State: st, StateName: st.String()}
	if c.cur == nil {
		return s
	}
	s.Artifact = c.cur.handle.Artifact
	s.StartedAt = c.cur.handle.StartedAt
	for _, run := range c.cur.workers {
		switch run.worker.Source() {
		case SourceSystem:
			s.SystemSamples = run.buffer.Len()
		case SourceMic:
			s.MicSamples = run.buffer.Len()
		}
	}
	return s
}

// SampleRate returns the configured capture rate.
func (c *Controller) SampleRate() int {
	return c.opts.SampleRate
}

func (c *Controller) artifactName(t time.Time) string {
	name := fmt.Sprintf("%s_%d.wav", c.opts.ArtifactPrefix, t.Unix())
	if name == c.lastArtifact {
		name = fmt.Sprintf("%s_%d.wav", c.opts.ArtifactPrefix, t.UnixMilli())
	}
	return name
}
