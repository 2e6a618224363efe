package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/petems/meeting-tray/internal/audio"
	"github.com/petems/meeting-tray/internal/config"
	"github.com/petems/meeting-tray/internal/mixer"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// silenceThreshold is the peak below which a probed device counts as silent.
const silenceThreshold = 1e-4

func newDevicesCmd(flags *globalFlags) *cobra.Command {
	var probe time.Duration
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices and the pair a session would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			reg, err := audio.Open(cfg.Audio.Backend, log)
			if err != nil {
				return fmt.Errorf("failed to initialize audio: %w", err)
			}
			defer reg.Close()
			return listDevices(cmd.OutOrStdout(), reg, cfg, log, probe)
		},
	}
	cmd.Flags().DurationVar(&probe, "probe", 0, "record this long from every device and report its level")
	return cmd
}

type probeResult struct {
	Frames int
	Peak   float64
	Errors int
}

func (p probeResult) Silent() bool {
	return p.Peak < silenceThreshold
}

func listDevices(w io.Writer, reg audio.Registry, cfg *config.Config, log zerolog.Logger, probe time.Duration) error {
	devices, err := reg.CaptureDevices(true)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		return audio.ErrDeviceNotFound
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := "NAME\tKIND\tCHANNELS\tDEFAULT"
	if probe > 0 {
		header += "\tPEAK"
	}
	fmt.Fprintln(tw, header)
	for _, dev := range devices {
		kind := "input"
		if dev.Loopback {
			kind = "loopback"
		}
		line := fmt.Sprintf("%s\t%s\t%d\t%t", dev.Name, kind, dev.Channels, dev.Default)
		if probe > 0 {
			res, err := probeDevice(reg, dev, cfg.Audio.SampleRate, cfg.Audio.ChunkFrames, probe)
			switch {
			case err != nil:
				log.Warn().Err(err).Str("device", dev.Name).Msg("Probe failed")
				line += "\terror"
			case res.Silent():
				line += fmt.Sprintf("\t%.4f (silent)", res.Peak)
			default:
				line += fmt.Sprintf("\t%.4f", res.Peak)
			}
		}
		fmt.Fprintln(tw, line)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	resolver := &audio.Resolver{
		Registry:   reg,
		MixMarkers: cfg.Audio.MixMarkers,
		MicMarkers: cfg.Audio.MicMarkers,
		Logger:     log,
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "backend:      %s\n", reg.Name())
	fmt.Fprintf(w, "system audio: %s\n", resolvedName(resolver.ResolveLoopback()))
	fmt.Fprintf(w, "microphone:   %s\n", resolvedName(resolver.ResolveMicrophone()))
	return nil
}

func resolvedName(dev audio.Device, err error) string {
	if err != nil {
		return "none (" + err.Error() + ")"
	}
	return dev.Name
}

// probeDevice pulls from dev for d and reports the loudest sample seen.
func probeDevice(reg audio.Registry, dev audio.Device, sampleRate, chunkFrames int, d time.Duration) (probeResult, error) {
	stream, err := reg.Open(dev, sampleRate, chunkFrames)
	if err != nil {
		return probeResult{}, err
	}
	defer stream.Close()

	var res probeResult
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		frames, err := stream.Pull()
		if errors.Is(err, audio.ErrStreamClosed) {
			break
		}
		if err != nil {
			res.Errors++
			continue
		}
		res.Frames += frames.Len()
		res.Peak = max(res.Peak, mixer.Peak(audio.Mono(frames)))
	}
	return res, nil
}
