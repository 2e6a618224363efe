package audio

import (
	"strings"

	"github.com/rs/zerolog"
)

// Default naming heuristics used to spot a "Stereo Mix" style device posing
// as the default microphone, and a genuine microphone to use instead.
var (
	DefaultMixMarkers = []string{"Stereo Mix"}
	DefaultMicMarkers = []string{"Microphone"}
)

// Resolver picks the two capture endpoints for a session.
type Resolver struct {
	Registry   Registry
	MixMarkers []string
	MicMarkers []string
	Logger     zerolog.Logger
}

// NewResolver returns a Resolver using the default markers.
func NewResolver(reg Registry, log zerolog.Logger) *Resolver {
	return &Resolver{
		Registry:   reg,
		MixMarkers: DefaultMixMarkers,
		MicMarkers: DefaultMicMarkers,
		Logger:     log,
	}
}

// ResolveLoopback finds the device carrying system playback audio.
//
// A loopback device mirroring the default playback device wins, then any
// loopback device, then the default capture device. Only a host with no
// capture devices at all yields ErrDeviceNotFound.
func (r *Resolver) ResolveLoopback() (Device, error) {
	devices, err := r.Registry.CaptureDevices(true)
	if err != nil {
		r.Logger.Warn().Err(err).Msg("Failed to list loopback devices")
	}

	var loopbacks []Device
	for _, d := range devices {
		if d.Loopback {
			loopbacks = append(loopbacks, d)
		}
	}

	if len(loopbacks) > 0 {
		if playback, err := r.Registry.DefaultPlayback(); err == nil {
			for _, d := range loopbacks {
				if d.Name == playback.Name || (d.Monitors != "" && d.Monitors == playback.ID) {
					return d, nil
				}
			}
		} else {
			r.Logger.Debug().Err(err).Msg("No default playback device")
		}
		return loopbacks[0], nil
	}

	def, err := r.Registry.DefaultCapture()
	if err != nil {
		return r.anyCapture()
	}
	r.Logger.Warn().Str("device", def.Name).Msg("No loopback device, system audio falls back to default capture device")
	return def, nil
}

// ResolveMicrophone finds the physical microphone, skipping a default
// capture device that is really a playback mix.
func (r *Resolver) ResolveMicrophone() (Device, error) {
	def, err := r.Registry.DefaultCapture()
	if err != nil {
		r.Logger.Warn().Err(err).Msg("Failed to get default capture device")
		return r.anyCapture()
	}

	if !containsAny(def.Name, r.MixMarkers) {
		return def, nil
	}

	devices, err := r.Registry.CaptureDevices(false)
	if err != nil {
		r.Logger.Warn().Err(err).Msg("Failed to list capture devices")
		return def, nil
	}
	for _, d := range devices {
		if d.Loopback || d.ID == def.ID {
			continue
		}
		if containsAny(d.Name, r.MicMarkers) && !containsAny(d.Name, r.MixMarkers) {
			r.Logger.Info().Str("from", def.Name).Str("to", d.Name).Msg("Switched microphone away from mix device")
			return d, nil
		}
	}
	return def, nil
}

// anyCapture prefers a non-loopback device, then anything at all.
func (r *Resolver) anyCapture() (Device, error) {
	devices, err := r.Registry.CaptureDevices(true)
	if err != nil || len(devices) == 0 {
		return Device{}, ErrDeviceNotFound
	}
	for _, d := range devices {
		if !d.Loopback {
			return d, nil
		}
	}
	return devices[0], nil
}

func containsAny(name string, markers []string) bool {
	lower := strings.ToLower(name)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
