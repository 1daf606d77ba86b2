package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"

	"mpdris/internal/config"
	"mpdris/internal/cover"
	"mpdris/internal/logging"
	"mpdris/internal/mpd"
	"mpdris/internal/mpris"
	"mpdris/internal/notify"
	"mpdris/internal/player"
)

// app holds the running components so a reload can reach them
type app struct {
	path      string
	overrides config.Overrides
	cfg       *config.Config

	logger   *logrus.Logger
	covers   *cover.Resolver
	client   *mpd.Client
	mpris    *mpris.Server
	notifier *notify.Notifier
}

// loadConfig reads the file and environment, then applies command line overrides
func loadConfig(path string, o config.Overrides) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// mpdOptions converts the [mpd] section into connection options
func mpdOptions(cfg *config.Config) mpd.Options {
	opts := mpd.Options{
		Host:       cfg.MPD.Host,
		Port:       cfg.MPD.Port,
		Password:   cfg.MPD.Password,
		Retries:    cfg.MPD.Retries,
		RetryDelay: time.Duration(cfg.MPD.RetryDelay) * time.Second,
		Timeout:    time.Duration(cfg.MPD.Timeout) * time.Second,
		Codes:      mpd.StrictCodes,
	}
	if cfg.MPD.LenientErrorCodes {
		opts.Codes = mpd.LenientCodes
	}
	return opts
}

func mprisOptions(cfg *config.Config) mpris.Options {
	return mpris.Options{
		BusNameSuffix: cfg.MPRIS.BusNameSuffix,
		LibraryPath:   cfg.Music.LibraryPath,
	}
}

func notifySystemd(logger *logrus.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.WithError(err).Debug("Failed to notify systemd")
	}
}

func run(path string, o config.Overrides) error {
	cfg, err := loadConfig(path, o)
	if err != nil {
		return err
	}

	logger, logFile, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		path:      path,
		overrides: o,
		cfg:       cfg,
		logger:    logger,
		covers:    cover.NewResolver(cfg.Music, logger),
	}
	defer a.covers.Close()

	state := player.NewStateManager()
	defer state.Close()

	logger.WithFields(logrus.Fields{
		"config":  path,
		"address": mpdOptions(cfg).Address(),
	}).Info("Starting mpdris")

	a.client, err = mpd.New(ctx, mpdOptions(cfg), state, a.covers, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MPD: %w", err)
	}
	a.client.Start(ctx)
	defer a.client.Close()

	if cfg.MPRIS.Enabled {
		a.mpris, err = mpris.Serve(ctx, a.client, state, mprisOptions(cfg), logger)
		if err != nil {
			return err
		}
		defer a.mpris.Close()
	}

	if cfg.Notify.Enabled {
		a.notifier, err = notify.New(state, cfg.Notify.TimeoutMS, logger)
		if err != nil {
			logger.WithError(err).Warn("Desktop notifications disabled")
		} else {
			a.notifier.Start(ctx)
			defer a.notifier.Close()
		}
	}

	reloads := make(chan struct{}, 1)
	requestReload := func() {
		select {
		case reloads <- struct{}{}:
		default:
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	watcher, err := config.NewWatcher(path, logger)
	if err != nil {
		logger.WithError(err).Warn("Config file watching disabled")
	} else {
		go watcher.Run(ctx, requestReload)
	}

	notifySystemd(logger, daemon.SdNotifyReady)
	logger.Info("mpdris is running")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Received shutdown signal")
			notifySystemd(logger, daemon.SdNotifyStopping)
			return nil
		case <-hup:
			logger.Info("Received SIGHUP")
			a.reload(ctx)
		case <-reloads:
			a.reload(ctx)
		}
	}
}

// reload applies a new configuration. A config that fails to load or
// validate leaves everything as it was.
func (a *app) reload(ctx context.Context) {
	notifySystemd(a.logger, daemon.SdNotifyReloading)
	defer notifySystemd(a.logger, daemon.SdNotifyReady)

	cfg, err := loadConfig(a.path, a.overrides)
	if err != nil {
		a.logger.WithError(err).Error("Failed to reload configuration, keeping the previous one")
		return
	}

	logging.Apply(a.logger, cfg.Logging)
	if cfg.Logging.File != a.cfg.Logging.File {
		a.logger.WithField("file", cfg.Logging.File).Warn("Log file changes take effect after a restart")
	}

	a.covers.Reconfigure(cfg.Music)
	if a.mpris != nil {
		a.mpris.SetLibraryPath(cfg.Music.LibraryPath)
	}

	if opts := mpdOptions(cfg); opts != mpdOptions(a.cfg) {
		a.client.Reconfigure(opts)
		if err := a.client.Reconnect(ctx); err != nil {
			a.logger.WithError(err).Error("Failed to reconnect with the new configuration")
		}
	}

	a.cfg = cfg
	a.logger.Info("Configuration reloaded")
}
