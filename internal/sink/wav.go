package sink

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/petems/meeting-tray/internal/mixer"
)

const (
	wavBitDepth     = 16
	wavPCMFormat    = 1
	wavMaxAmplitude = 1<<(wavBitDepth-1) - 1
)

// WAV writes 16-bit PCM mono files into Dir.
type WAV struct {
	Dir string
}

// NewWAV returns a WAV sink writing into dir, creating it if needed.
func NewWAV(dir string) (*WAV, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	return &WAV{Dir: dir}, nil
}

// Persist writes w to Dir/name. The file is written under a temporary name
// and renamed into place once complete.
func (s *WAV) Persist(ctx context.Context, w mixer.Waveform, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if w.SampleRate <= 0 {
		return "", fmt.Errorf("%w: invalid sample rate %d", ErrPersistFailed, w.SampleRate)
	}

	path := filepath.Join(s.Dir, name)
	tmpPath := path + ".tmp"
	defer os.Remove(tmpPath)

	if err := writeWAV(tmpPath, w); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("%w: failed to move recording: %v", ErrPersistFailed, err)
	}
	return path, nil
}

func writeWAV(path string, w mixer.Waveform) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	enc := wav.NewEncoder(out, w.SampleRate, wavBitDepth, 1, wavPCMFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		Data:           quantize(w.Samples),
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		out.Close()
		return fmt.Errorf("failed to encode samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("failed to finalize wav header: %w", err)
	}
	return out.Close()
}

// quantize converts float samples to 16-bit integers, clamping to [-1, 1].
func quantize(samples []float32) []int {
	data := make([]int, len(samples))
	for i, v := range samples {
		f := math.Max(-1, math.Min(1, float64(v)))
		data[i] = int(math.Round(f * wavMaxAmplitude))
	}
	return data
}
