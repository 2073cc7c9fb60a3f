package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/frontpanelctl/internal/config"
	"codeberg.org/mutker/frontpanelctl/internal/cpustat"
	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"codeberg.org/mutker/frontpanelctl/internal/logger"
	"codeberg.org/mutker/frontpanelctl/internal/metrics"
	"codeberg.org/mutker/frontpanelctl/internal/panel"
	"codeberg.org/mutker/frontpanelctl/internal/pid"
	"codeberg.org/mutker/frontpanelctl/internal/transport"
	"gopkg.in/yaml.v3"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.DumpConfig {
		if err := yaml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := run(cfg); err != nil {
		if appErr, ok := err.(errors.Error); ok {
			logger.FatalWithCode(appErr).Msg("Exiting")
		}
		logger.Fatal().Err(err).Msg("Exiting")
	}
}

func run(cfg *config.Config) error {
	errFactory := errors.New()

	if err := pid.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	log := logger.Default()

	out, err := openTransport(cfg, log.WithComponent("transport"))
	if err != nil {
		return err
	}

	collector, err := metrics.NewService(metrics.Config{
		DBPath:       cfg.MetricsDB,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Enabled:      cfg.Metrics,
	}, log.WithComponent("metrics"))
	if err != nil {
		out.Close()
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close metrics")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev, err := panel.Attach(ctx, panel.Options{
		Config: panel.Config{
			Interval:       cfg.Interval,
			Channels:       cfg.Channels,
			WritesInFlight: cfg.WritesInFlight,
			MaxCores:       cfg.MaxCores,
			DrainTimeout:   cfg.DrainTimeout,
		},
		Transport: out,
		CPUs:      cpustat.New(),
		Logger:    log.WithComponent("panel"),
		Metrics:   collector,
	})
	if err != nil {
		out.Close()
		return errFactory.Wrap(errors.ErrAttachDevice, err)
	}

	handleSignals(dev, out)
	<-dev.Released()

	logger.Info().Msg("Exiting...")

	return nil
}

func openTransport(cfg *config.Config, log logger.Logger) (panel.Transport, error) {
	switch cfg.Transport {
	case config.TransportSerial:
		return transport.OpenSerial(transport.SerialConfig{
			Port:      cfg.Serial.Port,
			BaudRate:  cfg.Serial.BaudRate,
			Timeout:   cfg.Serial.Timeout,
			QueueSize: cfg.WritesInFlight,
		}, log)
	case config.TransportLoopback:
		return transport.NewLoopback(log), nil
	default:
		return transport.OpenUSB(transport.USBConfig{
			Vendor:    uint16(cfg.USB.Vendor),
			Product:   uint16(cfg.USB.Product),
			Timeout:   cfg.USB.Timeout,
			QueueSize: cfg.WritesInFlight,
		}, log)
	}
}

// handleSignals maps process signals onto the device lifecycle hooks and
// returns once the device has been detached, either on request or because
// it was removed.
func handleSignals(dev *panel.Device, out panel.Transport) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case <-dev.Lost():
			logger.Warn().Msg("Front panel removed, detaching")
			dev.Detach()
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				logger.Info().Msg("Suspending")
				if err := dev.Suspend(); err != nil {
					logger.Error().Err(err).Msg("Suspend failed")
				}
			case syscall.SIGUSR2:
				if err := dev.Resume(); err != nil {
					logger.Error().Err(err).Msg("Resume failed")
				}
			case syscall.SIGHUP:
				resetDevice(dev, out)
			default:
				logger.Info().Msg("Received termination signal.")
				dev.Detach()
				return
			}
		}
	}
}

func resetDevice(dev *panel.Device, out panel.Transport) {
	logger.Info().Msg("Resetting device")

	if err := dev.PreReset(); err != nil {
		logger.Error().Err(err).Msg("Pre-reset failed")
		return
	}

	if r, ok := out.(panel.Resetter); ok {
		if err := r.Reset(); err != nil {
			logger.Error().Err(err).Msg("Transport reset failed")
		}
	}

	if err := dev.PostReset(); err != nil {
		logger.Error().Err(err).Msg("Post-reset failed")
	}
}
