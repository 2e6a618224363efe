package audio

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/gen2brain/malgo"
)

// miniaudio only supports loopback capture on WASAPI.
var malgoLoopbackSupported = runtime.GOOS == "windows"

const malgoChannels = 2

type malgoRegistry struct {
	ctx *malgo.AllocatedContext

	mu  sync.Mutex
	ids map[string]malgoEndpoint
}

type malgoEndpoint struct {
	id       malgo.DeviceID
	loopback bool
}

// NewMalgo creates a miniaudio-based registry.
func NewMalgo() (Registry, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio: %w", err)
	}
	return &malgoRegistry{
		ctx: ctx,
		ids: make(map[string]malgoEndpoint),
	}, nil
}

func (r *malgoRegistry) Name() string {
	return "malgo"
}

func (r *malgoRegistry) CaptureDevices(includeLoopback bool) ([]Device, error) {
	infos, err := r.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	result := make([]Device, 0, len(infos))
	for _, info := range infos {
		result = append(result, r.remember(info, false))
	}

	if includeLoopback && malgoLoopbackSupported {
		outputs, err := r.ctx.Devices(malgo.Playback)
		if err != nil {
			return result, fmt.Errorf("failed to list playback devices: %w", err)
		}
		for _, info := range outputs {
			result = append(result, r.remember(info, true))
		}
	}
	return result, nil
}

func (r *malgoRegistry) DefaultPlayback() (Device, error) {
	return r.defaultOf(malgo.Playback)
}

func (r *malgoRegistry) DefaultCapture() (Device, error) {
	return r.defaultOf(malgo.Capture)
}

func (r *malgoRegistry) defaultOf(kind malgo.DeviceType) (Device, error) {
	infos, err := r.ctx.Devices(kind)
	if err != nil {
		return Device{}, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, info := range infos {
		if info.IsDefault != 0 {
			dev := r.remember(info, false)
			// A default playback device is not itself a capture endpoint.
			dev.Loopback = false
			return dev, nil
		}
	}
	return Device{}, ErrDeviceNotFound
}

func (r *malgoRegistry) remember(info malgo.DeviceInfo, loopback bool) Device {
	id := hex.EncodeToString(info.ID[:])
	if loopback {
		id = "loopback:" + id
	}

	r.mu.Lock()
	r.ids[id] = malgoEndpoint{id: info.ID, loopback: loopback}
	r.mu.Unlock()

	return Device{
		ID:       id,
		Name:     info.Name(),
		Loopback: loopback,
		Channels: malgoChannels,
		Default:  info.IsDefault != 0,
	}
}

func (r *malgoRegistry) Open(dev Device, sampleRate, chunkFrames int) (Stream, error) {
	r.mu.Lock()
	endpoint, ok := r.ids[dev.ID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("device not found: %s", dev.ID)
	}

	kind := malgo.Capture
	if endpoint.loopback {
		kind = malgo.Loopback
	}

	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = malgoChannels
	cfg.Capture.DeviceID = endpoint.id.Pointer()
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = uint32(chunkFrames)

	ps := newPushStream(malgoChannels, chunkFrames, sampleRate)
	var scratch []float32
	onData := func(_, input []byte, _ uint32) {
		n := len(input) / 4
		if cap(scratch) < n {
			scratch = make([]float32, n)
		}
		scratch = scratch[:n]
		for i := range scratch {
			scratch[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
		}
		ps.push(scratch)
	}

	device, err := malgo.InitDevice(r.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start audio device: %w", err)
	}

	ps.stop = func() error {
		err := device.Stop()
		device.Uninit()
		return err
	}
	return ps, nil
}

func (r *malgoRegistry) Close() error {
	err := r.ctx.Uninit()
	r.ctx.Free()
	return err
}
