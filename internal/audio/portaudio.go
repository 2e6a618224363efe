package audio

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// portAudioLoopbackMarkers flag inputs that mirror playback. PortAudio has
// no loopback attribute, so names are the only hint.
var portAudioLoopbackMarkers = []string{"monitor of", "loopback", "blackhole", "soundflower"}

type portAudioRegistry struct{}

// NewPortAudio creates a PortAudio-based registry
func NewPortAudio() (Registry, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioRegistry{}, nil
}

func (p *portAudioRegistry) Name() string {
	return "portaudio"
}

func (p *portAudioRegistry) CaptureDevices(includeLoopback bool) ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultDevice, _ := portaudio.DefaultInputDevice()
	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		dev := portAudioDevice(d, d == defaultDevice)
		if dev.Loopback && !includeLoopback {
			continue
		}
		result = append(result, dev)
	}
	return result, nil
}

func (p *portAudioRegistry) DefaultPlayback() (Device, error) {
	d, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return Device{}, fmt.Errorf("failed to get default output device: %w", err)
	}
	return portAudioDevice(d, true), nil
}

func (p *portAudioRegistry) DefaultCapture() (Device, error) {
	d, err := portaudio.DefaultInputDevice()
	if err != nil {
		return Device{}, fmt.Errorf("failed to get default input device: %w", err)
	}
	return portAudioDevice(d, true), nil
}

func (p *portAudioRegistry) Open(dev Device, sampleRate, chunkFrames int) (Stream, error) {
	info, err := p.lookup(dev.ID)
	if err != nil {
		return nil, err
	}

	channels := min(info.MaxInputChannels, 2)
	buffer := make([]float32, chunkFrames*channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultHighInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: chunkFrames,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	return &portAudioStream{stream: stream, buffer: buffer, channels: channels}, nil
}

func (p *portAudioRegistry) lookup(id string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if portAudioID(d) == id && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", id)
}

func (p *portAudioRegistry) Close() error {
	return portaudio.Terminate()
}

type portAudioStream struct {
	stream   *portaudio.Stream
	buffer   []float32
	channels int
}

// Pull reads one buffer. An input overflow still fills the buffer but is
// reported so the caller can count the glitch.
func (s *portAudioStream) Pull() (Frames, error) {
	if err := s.stream.Read(); err != nil {
		return Frames{}, err
	}
	samples := make([]float32, len(s.buffer))
	copy(samples, s.buffer)
	return Frames{Samples: samples, Channels: s.channels}, nil
}

func (s *portAudioStream) Close() error {
	stopErr := s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return err
	}
	return stopErr
}

func portAudioDevice(d *portaudio.DeviceInfo, isDefault bool) Device {
	return Device{
		ID:       portAudioID(d),
		Name:     d.Name,
		Loopback: containsAny(d.Name, portAudioLoopbackMarkers),
		Channels: min(d.MaxInputChannels, 2),
		Default:  isDefault,
	}
}

func portAudioID(d *portaudio.DeviceInfo) string {
	if d.HostApi == nil {
		return d.Name
	}
	return strings.ToLower(d.HostApi.Name) + ":" + d.Name
}
