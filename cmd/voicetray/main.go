package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/auditoryaid/voicetray/internal/audio"
	"github.com/auditoryaid/voicetray/internal/config"
	"github.com/auditoryaid/voicetray/internal/filter"
	"github.com/auditoryaid/voicetray/internal/hotkey"
	"github.com/auditoryaid/voicetray/internal/logging"
	"github.com/auditoryaid/voicetray/internal/media"
	"github.com/auditoryaid/voicetray/internal/permissions"
	"github.com/auditoryaid/voicetray/internal/pipeline"
	"github.com/auditoryaid/voicetray/internal/tray"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsurePermissions(); err != nil {
		log.Fatal().Err(err).Msg("Required permissions not granted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the duplex audio device
	device, err := audio.New(cfg.Audio)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer device.Terminate()

	format := audio.FormatFromConfig(cfg.Audio)

	// Pick the filter stage
	var stage filter.Stage = filter.NewIdentity(format)
	if cfg.Filter.Mode == config.FilterRemote {
		remote, err := filter.NewRemote(cfg.Filter, format, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up remote filter")
		}
		defer remote.Close()
		stage = remote
	}

	// Boot sequence: intro sound first, tray only after it finishes
	playIntro(cfg, device, log)

	// Create tray UI first (we'll pass it to the controller)
	trayUI := tray.New(device, cfg, Version, Commit, log)

	controller := pipeline.NewController(pipeline.Config{
		Device:        device,
		Stage:         stage,
		Format:        format,
		Logger:        log,
		StatusUpdater: trayUI,
	})
	trayUI.SetController(controller)

	// Register the global toggle hotkey
	if cfg.Hotkey {
		hk := hotkey.New()
		if err := hk.Register(trayUI.Toggle); err != nil {
			log.Error().Err(err).Msg("Failed to register hotkey, tray controls only")
		} else {
			defer hk.Close()
		}
	}

	log.Info().Str("version", Version).Msg("voicetray starting...")

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		controller.Stop()
		device.Terminate()
		os.Exit(0)
	}()

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Tray error")
	}

	controller.Stop()
}

// playIntro runs the boot media step once. Any failure is logged and
// skipped; the tray must come up regardless.
func playIntro(cfg *config.Config, device audio.Device, log zerolog.Logger) {
	if cfg.Media.IntroVideo != "" {
		streamable, err := media.CheckStreamable(cfg.Media.IntroVideo)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("path", cfg.Media.IntroVideo).Msg("Could not probe intro video")
		case !streamable:
			log.Warn().Str("path", cfg.Media.IntroVideo).Msg("Intro video is not fast-start, playback would stall")
		}
	}

	if cfg.Media.IntroSound == "" {
		return
	}
	if err := media.PlayIntro(cfg.Media.IntroSound, device, log); err != nil {
		log.Warn().Err(err).Str("path", cfg.Media.IntroSound).Msg("Skipping intro sound")
	}
}
