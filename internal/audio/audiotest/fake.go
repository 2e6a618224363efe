// Package audiotest provides a scripted in-memory audio.Registry for tests.
package audiotest

import (
	"errors"
	"sync"
	"time"

	"github.com/petems/meeting-tray/internal/audio"
)

// ErrGlitch is the default error returned by a Fail step.
var ErrGlitch = errors.New("scripted chunk failure")

// Step is one scripted Pull result.
type Step struct {
	Frames audio.Frames
	Err    error
}

// Chunk returns a step yielding a frames-long chunk of a constant mono value.
func Chunk(frames int, value float32) Step {
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = value
	}
	return Step{Frames: audio.Frames{Samples: samples, Channels: 1}}
}

// Interleaved returns a step yielding the given multi-channel samples.
func Interleaved(channels int, samples ...float32) Step {
	return Step{Frames: audio.Frames{Samples: samples, Channels: channels}}
}

// Fail returns a step whose Pull fails with err, or ErrGlitch if err is nil.
func Fail(err error) Step {
	if err == nil {
		err = ErrGlitch
	}
	return Step{Err: err}
}

// Script drives one fake device.
type Script struct {
	Device audio.Device
	Steps  []Step
	// OpenErr makes Open fail.
	OpenErr error
	// Delay is slept before every Pull, emulating chunk duration.
	Delay time.Duration
	// Hang blocks Pull forever once Steps are exhausted, instead of idling.
	Hang bool
}

// Registry is an audio.Registry backed by scripts.
type Registry struct {
	mu       sync.Mutex
	scripts  []*Script
	playback *audio.Device
	capture  string
	opened   map[string]int
	release  chan struct{}
	closed   bool
}

// NewRegistry returns an empty fake registry.
func NewRegistry() *Registry {
	return &Registry{
		opened:  make(map[string]int),
		release: make(chan struct{}),
	}
}

// Add registers a scripted device and returns the registry for chaining.
func (r *Registry) Add(s *Script) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Device.ID == "" {
		s.Device.ID = s.Device.Name
	}
	r.scripts = append(r.scripts, s)
	return r
}

// SetDefaultPlayback sets the device returned by DefaultPlayback.
func (r *Registry) SetDefaultPlayback(d audio.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playback = &d
}

// SetDefaultCapture marks the device with the given ID as default capture.
func (r *Registry) SetDefaultCapture(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture = id
}

// Opened reports how many times the device was opened.
func (r *Registry) Opened(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened[id]
}

// Release unblocks every hanging stream.
func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.release:
	default:
		close(r.release)
	}
}

func (r *Registry) Name() string {
	return "fake"
}

func (r *Registry) CaptureDevices(includeLoopback bool) ([]audio.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audio.Device
	for _, s := range r.scripts {
		if s.Device.Loopback && !includeLoopback {
			continue
		}
		d := s.Device
		d.Default = d.ID == r.capture
		out = append(out, d)
	}
	return out, nil
}

func (r *Registry) DefaultPlayback() (audio.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playback == nil {
		return audio.Device{}, audio.ErrDeviceNotFound
	}
	return *r.playback, nil
}

func (r *Registry) DefaultCapture() (audio.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.scripts {
		if s.Device.ID == r.capture {
			d := s.Device
			d.Default = true
			return d, nil
		}
	}
	return audio.Device{}, audio.ErrDeviceNotFound
}

func (r *Registry) Open(dev audio.Device, sampleRate, chunkFrames int) (audio.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.scripts {
		if s.Device.ID != dev.ID {
			continue
		}
		r.opened[dev.ID]++
		if s.OpenErr != nil {
			return nil, s.OpenErr
		}
		return &stream{script: s, release: r.release, done: make(chan struct{})}, nil
	}
	return nil, audio.ErrDeviceNotFound
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type stream struct {
	script  *Script
	next    int
	release chan struct{}
	done    chan struct{}
	once    sync.Once
}

// idle is how long an exhausted, non-hanging stream waits per Pull.
const idle = time.Millisecond

func (s *stream) Pull() (audio.Frames, error) {
	select {
	case <-s.done:
		return audio.Frames{}, audio.ErrStreamClosed
	default:
	}

	if s.script.Delay > 0 {
		time.Sleep(s.script.Delay)
	}

	if s.next >= len(s.script.Steps) {
		if s.script.Hang {
			<-s.release
		} else {
			time.Sleep(idle)
		}
		return audio.Frames{}, audio.ErrPullTimeout
	}

	step := s.script.Steps[s.next]
	s.next++
	if step.Err != nil {
		return audio.Frames{}, step.Err
	}
	samples := make([]float32, len(step.Frames.Samples))
	copy(samples, step.Frames.Samples)
	return audio.Frames{Samples: samples, Channels: step.Frames.Channels}, nil
}

func (s *stream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
