package audio

import (
	"errors"
	"time"
)

// ErrDeviceNotFound is returned when the host exposes no usable capture device.
var ErrDeviceNotFound = errors.New("no capture device found")

// ErrStreamClosed is returned by Pull after the stream has been closed.
var ErrStreamClosed = errors.New("capture stream closed")

// ErrPullTimeout is returned by Pull when a push backend did not deliver a full chunk in time.
var ErrPullTimeout = errors.New("timed out waiting for audio")

// Registry enumerates capture endpoints and opens streams on them.
type Registry interface {
	// CaptureDevices lists capture-capable devices. Loopback devices are
	// only included when includeLoopback is set.
	CaptureDevices(includeLoopback bool) ([]Device, error)
	DefaultPlayback() (Device, error)
	DefaultCapture() (Device, error)
	// Open starts a capture stream delivering chunkFrames frames per Pull.
	Open(dev Device, sampleRate, chunkFrames int) (Stream, error)
	Name() string
	Close() error
}

// Stream is an open capture stream on one device.
type Stream interface {
	// Pull blocks until one chunk is available. Errors are per chunk;
	// the stream stays usable unless ErrStreamClosed is returned.
	Pull() (Frames, error)
	Close() error
}

// Device represents an audio endpoint
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Loopback bool   `json:"loopback"`
	// Monitors is the ID of the playback device mirrored by a loopback source, if known.
	Monitors string `json:"monitors,omitempty"`
	Channels int    `json:"channels"`
	Default  bool   `json:"default"`
}

// IsZero reports whether d is the zero Device.
func (d Device) IsZero() bool {
	return d.ID == "" && d.Name == ""
}

// Frames holds interleaved samples, Channels values per frame.
type Frames struct {
	Samples  []float32
	Channels int
}

// Len returns the number of frames.
func (f Frames) Len() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// ChunkDuration is the wall-clock length of one chunk.
func ChunkDuration(chunkFrames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(chunkFrames) * time.Second / time.Duration(sampleRate)
}
