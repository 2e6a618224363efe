package audio

import (
	"fmt"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Backend names accepted in configuration.
const (
	BackendAuto      = "auto"
	BackendPulse     = "pulse"
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
)

// Factory opens one backend.
type Factory struct {
	Name string
	New  func() (Registry, error)
}

// Factories returns the backends to probe in preference order for this platform.
// PulseAudio exposes real monitor sources on Linux and miniaudio exposes
// WASAPI loopback on Windows; PortAudio is the portable fallback.
func Factories() []Factory {
	pulse := Factory{Name: BackendPulse, New: NewPulse}
	pa := Factory{Name: BackendPortAudio, New: NewPortAudio}
	ma := Factory{Name: BackendMalgo, New: NewMalgo}

	switch runtime.GOOS {
	case "linux":
		return []Factory{pulse, pa, ma}
	case "windows":
		return []Factory{ma, pa}
	default:
		return []Factory{pa, ma}
	}
}

// Open returns the named backend, or probes Factories in order for "auto".
func Open(backend string, log zerolog.Logger) (Registry, error) {
	return open(backend, Factories(), log)
}

func open(backend string, factories []Factory, log zerolog.Logger) (Registry, error) {
	if backend == "" {
		backend = BackendAuto
	}

	var mErr *multierror.Error
	for _, f := range factories {
		if backend != BackendAuto && backend != f.Name {
			continue
		}
		reg, err := f.New()
		if err != nil {
			log.Debug().Err(err).Str("backend", f.Name).Msg("Audio backend unavailable")
			mErr = multierror.Append(mErr, fmt.Errorf("unable to initialize %s: %w", f.Name, err))
			continue
		}
		log.Info().Str("backend", reg.Name()).Msg("Audio backend ready")
		return reg, nil
	}

	if mErr == nil {
		return nil, fmt.Errorf("unknown audio backend: %s", backend)
	}
	return nil, mErr.ErrorOrNil()
}
