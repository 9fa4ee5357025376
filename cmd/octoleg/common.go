package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/gwillem/octoleg/pkg/actuator"
	"github.com/gwillem/octoleg/pkg/robot"
)

// BusOptions override the bus settings of the configuration file.
type BusOptions struct {
	Port     string `short:"p" long:"port" description:"Serial port (overrides config)"`
	Baud     int    `short:"b" long:"baud" description:"Baud rate (overrides config)"`
	Protocol string `long:"protocol" choice:"dynamixel" choice:"sts" description:"Servo protocol (overrides config)"`
}

func (b BusOptions) apply(cfg *robot.Config) {
	if b.Port != "" {
		cfg.Bus.Port = b.Port
	}
	if b.Baud > 0 {
		cfg.Bus.Baud = b.Baud
	}
	if b.Protocol != "" {
		cfg.Bus.Protocol = b.Protocol
	}
}

func newLogger(w io.Writer) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	if lvl, err := log.ParseLevel(opts.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

// loadConfig reads the configuration file, falling back to the defaults when
// it does not exist yet.
func loadConfig(logger *log.Logger, bus BusOptions) (*robot.Config, error) {
	if !robot.ConfigExists(opts.Config) {
		logger.Debug("no configuration file, using defaults", "path", opts.Config)
	}
	cfg, err := robot.LoadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	bus.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration %s", opts.Config)
	}
	return cfg, nil
}

// openLink loads the configuration and opens the servo bus.
func openLink(logger *log.Logger, bus BusOptions) (*robot.Config, *actuator.Link, error) {
	cfg, err := loadConfig(logger, bus)
	if err != nil {
		return nil, nil, err
	}
	link, err := actuator.Open(cfg.Bus, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("bus open", "port", cfg.Bus.Port, "baud", cfg.Bus.Baud, "protocol", cfg.Bus.Protocol)
	return cfg, link, nil
}

// servoLimits returns the speed and torque written to every joint when a
// stream starts.
func servoLimits(cfg *robot.Config) *actuator.Limits {
	return &actuator.Limits{
		MovingSpeed: cfg.Servo.NormalSpeed,
		TorqueLimit: cfg.Servo.NormalTorque,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
