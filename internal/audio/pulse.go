package audio

import (
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// pulseMonitorSuffix marks PulseAudio sources that mirror a sink.
const pulseMonitorSuffix = ".monitor"

type pulseRegistry struct {
	client *pulse.Client
}

// NewPulse connects to the PulseAudio (or PipeWire-pulse) server.
func NewPulse() (Registry, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("meeting-tray"))
	if err != nil {
		return nil, fmt.Errorf("unable to open a client to Pulse: %w", err)
	}
	if _, err := c.DefaultSource(); err != nil {
		c.Close()
		return nil, fmt.Errorf("unable to query the default Pulse source: %w", err)
	}
	return &pulseRegistry{client: c}, nil
}

func (r *pulseRegistry) Name() string {
	return "pulse"
}

func (r *pulseRegistry) CaptureDevices(includeLoopback bool) ([]Device, error) {
	sources, err := r.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("unable to list Pulse sources: %w", err)
	}

	var defaultID string
	if def, err := r.client.DefaultSource(); err == nil {
		defaultID = def.ID()
	}

	result := make([]Device, 0, len(sources))
	for _, s := range sources {
		dev := pulseDevice(s, s.ID() == defaultID)
		if dev.Loopback && !includeLoopback {
			continue
		}
		result = append(result, dev)
	}
	return result, nil
}

func (r *pulseRegistry) DefaultPlayback() (Device, error) {
	sink, err := r.client.DefaultSink()
	if err != nil {
		return Device{}, fmt.Errorf("unable to get the default Pulse sink: %w", err)
	}
	return Device{
		ID:       sink.ID(),
		Name:     sink.Name(),
		Channels: sink.Channels(),
		Default:  true,
	}, nil
}

func (r *pulseRegistry) DefaultCapture() (Device, error) {
	src, err := r.client.DefaultSource()
	if err != nil {
		return Device{}, fmt.Errorf("unable to get the default Pulse source: %w", err)
	}
	return pulseDevice(src, true), nil
}

func (r *pulseRegistry) Open(dev Device, sampleRate, chunkFrames int) (Stream, error) {
	src, err := r.client.SourceByID(dev.ID)
	if err != nil {
		return nil, fmt.Errorf("unable to find Pulse source %q: %w", dev.ID, err)
	}

	channels := 1
	chanMap := proto.ChannelMap{proto.ChannelMono}
	if src.Channels() >= 2 {
		channels = 2
		chanMap = proto.ChannelMap{proto.ChannelLeft, proto.ChannelRight}
	}

	ps := newPushStream(channels, chunkFrames, sampleRate)
	writer := pulse.Float32Writer(func(p []float32) (int, error) {
		ps.push(p)
		return len(p), nil
	})

	stream, err := r.client.NewRecord(
		writer,
		pulse.RecordSource(src),
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordChannels(chanMap),
		pulse.RecordBufferFragmentSize(uint32(chunkFrames*channels*4)),
		pulse.RecordMediaName("meeting capture"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a recording: %w", err)
	}

	stream.Start()
	if stream.Error() != nil {
		stream.Close()
		return nil, fmt.Errorf("an error occurred during recording: %w", stream.Error())
	}

	ps.stop = func() error {
		stream.Stop()
		stream.Close()
		return nil
	}
	return ps, nil
}

func (r *pulseRegistry) Close() error {
	r.client.Close()
	return nil
}

func pulseDevice(s *pulse.Source, isDefault bool) Device {
	id := s.ID()
	dev := Device{
		ID:       id,
		Name:     s.Name(),
		Channels: min(s.Channels(), 2),
		Default:  isDefault,
	}
	if strings.HasSuffix(id, pulseMonitorSuffix) {
		dev.Loopback = true
		dev.Monitors = strings.TrimSuffix(id, pulseMonitorSuffix)
	}
	return dev
}
