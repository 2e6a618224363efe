package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/meeting-tray/internal/app"
	"github.com/petems/meeting-tray/internal/audio"
	"github.com/petems/meeting-tray/internal/clipboard"
	"github.com/petems/meeting-tray/internal/config"
	"github.com/petems/meeting-tray/internal/session"
	"github.com/petems/meeting-tray/internal/sink"
	"github.com/petems/meeting-tray/internal/upload"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newRecordCmd(flags *globalFlags) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one session without the tray and save it",
		Long:  `Record one session. It stops after --duration, or on Ctrl+C when no duration is given.`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out, err := sink.NewWAV(cfg.RecordingsDir())
			if err != nil {
				return err
			}
			var up *upload.Uploader
			if cfg.Upload.Enabled {
				up = newUploader(cfg, log)
			}
			return record(ctx, cmd.OutOrStdout(), reg, out, up, cfg, log, duration)
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 waits for Ctrl+C)")
	return cmd
}

func record(ctx context.Context, w io.Writer, reg audio.Registry, out sink.Sink, up *upload.Uploader, cfg *config.Config, log zerolog.Logger, duration time.Duration) error {
	appCfg := app.Config{
		Recorder:  session.New(reg, sessionOptions(cfg), log),
		Devices:   reg,
		Sink:      out,
		Clipboard: clipboard.New(),
		Config:    cfg,
		Logger:    log,
	}
	if up != nil {
		appCfg.Uploader = up
	}
	application := app.New(appCfg)

	h, err := application.StartRecording()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Recording %s (system: %s, mic: %s)\n", h.Artifact, h.System.Name, h.Mic.Name)

	var timer <-chan time.Time
	if duration > 0 {
		t := time.NewTimer(duration)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
	case <-timer:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	saved, err := application.StopRecording(stopCtx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Saved %s (%.1fs)\n", saved.Path, saved.Duration)
	return application.Shutdown(stopCtx)
}
