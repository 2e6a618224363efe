package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/meeting-tray/internal/app"
	"github.com/petems/meeting-tray/internal/audio"
	"github.com/petems/meeting-tray/internal/clipboard"
	"github.com/petems/meeting-tray/internal/config"
	"github.com/petems/meeting-tray/internal/hotkey"
	"github.com/petems/meeting-tray/internal/permissions"
	"github.com/petems/meeting-tray/internal/server"
	"github.com/petems/meeting-tray/internal/session"
	"github.com/petems/meeting-tray/internal/sink"
	"github.com/petems/meeting-tray/internal/tray"
	"github.com/petems/meeting-tray/internal/upload"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newRunCmd(flags *globalFlags) *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the tray, hotkey and control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return run(cmd.Context(), cfg, log, headless)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "run without the tray icon")
	return cmd
}

func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		SampleRate:      cfg.Audio.SampleRate,
		ChunkFrames:     cfg.Audio.ChunkFrames,
		ShutdownTimeout: cfg.ShutdownTimeout(),
		ArtifactPrefix:  cfg.Output.Prefix,
		MixMarkers:      cfg.Audio.MixMarkers,
		MicMarkers:      cfg.Audio.MicMarkers,
	}
}

func newUploader(cfg *config.Config, log zerolog.Logger) *upload.Uploader {
	up, err := upload.New(upload.Config{
		Endpoint:        cfg.Upload.Endpoint,
		Region:          cfg.Upload.Region,
		Bucket:          cfg.Upload.Bucket,
		Prefix:          cfg.Upload.Prefix,
		AccessKeyID:     cfg.Upload.AccessKeyID,
		SecretAccessKey: cfg.Upload.SecretAccessKey,
		Logger:          log,
	})
	if err != nil {
		log.Debug().Err(err).Msg("Uploads disabled")
		return nil
	}
	return up
}

func run(parent context.Context, cfg *config.Config, log zerolog.Logger, headless bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// macOS requires explicit microphone + accessibility approval before capture or hotkeys work
	if err := permissions.EnsurePermissions(log, true); err != nil {
		return fmt.Errorf("required permissions not granted: %w", err)
	}

	reg, err := audio.Open(cfg.Audio.Backend, log)
	if err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	defer reg.Close()

	out, err := sink.NewWAV(cfg.RecordingsDir())
	if err != nil {
		return err
	}

	hub := server.NewHub(log)
	defer hub.Close()

	statuses := app.Statuses{hub}
	var trayUI *tray.UI
	if !headless {
		trayUI = tray.New(nil, Version, Commit, log, stop)
		statuses = append(statuses, trayUI)
	}

	appCfg := app.Config{
		Recorder:      session.New(reg, sessionOptions(cfg), log),
		Devices:       reg,
		Sink:          out,
		Clipboard:     clipboard.New(),
		Config:        cfg,
		Logger:        log,
		StatusUpdater: statuses,
	}
	if up := newUploader(cfg, log); up != nil {
		appCfg.Uploader = up
	}
	application := app.New(appCfg)
	hub.SetSnapshot(func() any { return application.Status() })

	hk, err := hotkey.New()
	switch {
	case errors.Is(err, hotkey.ErrUnsupported):
		log.Warn().Err(err).Msg("Global hotkey unavailable, use the tray or API")
	case err != nil:
		return fmt.Errorf("failed to initialize hotkeys: %w", err)
	default:
		defer hk.Close()
		if err := hk.Register(cfg.PlatformHotkey(), application.OnHotkey); err != nil {
			return fmt.Errorf("failed to register hotkey: %w", err)
		}
		log.Info().Str("hotkey", cfg.PlatformHotkey()).Str("mode", cfg.Mode).Msg("Hotkey registered")
	}

	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv := server.New(application, hub, log)
		go func() {
			serverErr <- srv.ListenAndServe(ctx, cfg.Server.Listen)
		}()
	}

	log.Info().Str("version", Version).Msg("MeetingTray starting...")

	if trayUI != nil {
		trayUI.SetApp(application)
		// The tray owns the main goroutine until ctx ends or the user quits.
		if err := trayUI.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Tray error")
		}
		stop()
	} else {
		select {
		case <-ctx.Done():
		case err := <-serverErr:
			if err != nil {
				log.Error().Err(err).Msg("Control API stopped")
			}
		}
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
		return err
	}
	return nil
}
