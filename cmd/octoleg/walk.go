package main

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/gwillem/octoleg/pkg/actuator"
	"github.com/gwillem/octoleg/pkg/channel"
	"github.com/gwillem/octoleg/pkg/intent"
	"github.com/gwillem/octoleg/pkg/motion"
	"github.com/gwillem/octoleg/pkg/robot"
)

// serveExitTimeout bounds how long a spawned serve process gets to disable
// torque after QUIT.
const serveExitTimeout = 2 * time.Second

type WalkCommand struct {
	Bus         BusOptions `group:"Bus Options"`
	Hz          int        `long:"hz" description:"Control loop frequency (overrides config)"`
	Headless    bool       `long:"headless" description:"Run without the terminal UI"`
	Script      string     `long:"script" description:"Replay commands from a script file ('-' for stdin)"`
	Command     string     `long:"command" description:"Hold one command: idle, forward, backward, turn_left, turn_right or stop"`
	Spawn       bool       `long:"spawn" description:"Drive the servos through a child 'serve' process"`
	Stdout      bool       `long:"stdout" description:"Write frames to stdout instead of driving the servos"`
	MaxFailures int        `long:"max-failures" default:"-1" description:"Safety stop after this many consecutive failures of one joint (overrides config, 0 disables)"`
}

// pipeline is the actuator side of a walk: where frames go, the safety
// checks it contributes and how to wait for it after the controller quit.
type pipeline struct {
	sink   motion.Sink
	checks []motion.SafetyCheck
	wait   func() error
}

func (c *WalkCommand) Execute(args []string) error {
	if c.Stdout && !c.Headless {
		return errors.New("--stdout requires --headless")
	}
	if c.Script == "-" && !c.Headless {
		return errors.New("reading a script from stdin requires --headless")
	}

	var logs *logWriter
	logOut := io.Writer(os.Stderr)
	if !c.Headless {
		logs = newLogWriter(maxLogs * 4)
		logOut = logs
	}
	logger := newLogger(logOut)

	cfg, err := loadConfig(logger, c.Bus)
	if err != nil {
		return err
	}
	if c.Hz > 0 {
		cfg.Hz = c.Hz
	}
	if c.MaxFailures >= 0 {
		cfg.Safety.MaxConsecutiveFailures = c.MaxFailures
	}
	if !cfg.IsCalibrated() {
		logger.Warn("neutral stance not trimmed, run 'octoleg setup'", "config", opts.Config)
	}
	for _, msg := range c.ignoredSettings(cfg) {
		logger.Warn(msg)
	}

	source, latch, err := c.source(logger)
	if err != nil {
		return err
	}

	pipe, err := c.pipeline(cfg, logger, logOut)
	if err != nil {
		return err
	}

	ctrl, err := motion.NewController(motion.ConfigFrom(cfg), source, pipe.sink, logger.WithPrefix("motion"), pipe.checks...)
	if err != nil {
		// Nothing ran yet; let the actuator side wind down.
		_ = pipe.sink.Quit()
		_ = pipe.wait()
		return err
	}

	if c.Headless {
		err = runHeadless(ctrl)
	} else {
		err = runTUI(ctrl, latch, logs)
	}

	if werr := pipe.wait(); werr != nil {
		logger.Error("actuator side failed", "err", werr)
		if err == nil {
			err = werr
		}
	}
	return err
}

// source selects where commands come from. The latch is nil unless the
// keyboard drives the robot.
func (c *WalkCommand) source(logger *log.Logger) (intent.Source, *intent.Latch, error) {
	switch {
	case c.Script != "" && c.Command != "":
		return nil, nil, errors.New("--script and --command are mutually exclusive")

	case c.Script == "-":
		s, err := intent.NewScript(os.Stdin, logger)
		return s, nil, err

	case c.Script != "":
		f, err := os.Open(c.Script)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open script")
		}
		defer f.Close()
		s, err := intent.NewScript(f, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("script loaded", "path", c.Script, "ticks", s.Len())
		return s, nil, nil

	case c.Command != "":
		cmd, err := intent.ParseCommand(c.Command)
		if err != nil {
			return nil, nil, err
		}
		return intent.Static(cmd), nil, nil

	case c.Headless:
		return nil, nil, errors.New("headless walking needs --script or --command")
	}

	latch := &intent.Latch{}
	return latch, latch, nil
}

// ignoredSettings lists configured behaviour the selected pipeline cannot
// provide.
func (c *WalkCommand) ignoredSettings(cfg *robot.Config) []string {
	if cfg.Safety.MaxConsecutiveFailures == 0 {
		return nil
	}
	switch {
	case c.Stdout:
		return []string{"failure safety stop disabled: --stdout does not drive the servos"}
	case c.Spawn:
		return []string{"failure safety stop disabled: the serve process owns the bus with --spawn"}
	}
	return nil
}

func (c *WalkCommand) pipeline(cfg *robot.Config, logger *log.Logger, logOut io.Writer) (*pipeline, error) {
	switch {
	case c.Stdout:
		return &pipeline{
			sink: channel.NewWriter(os.Stdout),
			wait: func() error { return nil },
		}, nil
	case c.Spawn:
		return spawnServe(c.Bus, logger, logOut)
	}
	return inProcess(cfg, logger)
}

// inProcess runs the frame server on a pipe inside this process. The
// server owns the link and is the only writer to the bus.
func inProcess(cfg *robot.Config, logger *log.Logger) (*pipeline, error) {
	link, err := actuator.Open(cfg.Bus, logger.WithPrefix("link"))
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	srv := channel.NewServer(link, logger.WithPrefix("serve"))
	srv.Limits = servoLimits(cfg)
	done := make(chan error, 1)
	go func() {
		// The server ends on QUIT or end of input only, so torque is
		// released after the controller's last frame.
		err := srv.Run(context.Background(), pr)
		// Later frames fail instead of blocking on a reader that is gone.
		pr.CloseWithError(io.ErrClosedPipe)
		done <- err
	}()

	return &pipeline{
		sink:   channel.NewWriter(pw),
		checks: []motion.SafetyCheck{&actuator.FailureWatch{Link: link, Max: cfg.Safety.MaxConsecutiveFailures}},
		wait: func() error {
			err := <-done
			pw.Close()
			if cerr := link.Close(); cerr != nil && err == nil {
				err = errors.Wrap(cerr, "close bus")
			}
			return err
		},
	}, nil
}

// spawnServe starts "octoleg serve" as a child process and streams frames
// to its stdin.
func spawnServe(bus BusOptions, logger *log.Logger, logOut io.Writer) (*pipeline, error) {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	argv := []string{"--config", opts.Config, "--log-level", opts.LogLevel, "serve"}
	if bus.Port != "" {
		argv = append(argv, "--port", bus.Port)
	}
	if bus.Baud > 0 {
		argv = append(argv, "--baud", strconv.Itoa(bus.Baud))
	}
	if bus.Protocol != "" {
		argv = append(argv, "--protocol", bus.Protocol)
	}

	cmd := exec.Command(exe, argv...)
	cmd.Stderr = logOut
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "serve stdin")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start serve")
	}
	logger.Info("serve started", "pid", cmd.Process.Pid)

	return &pipeline{
		sink: channel.NewWriter(stdin),
		wait: func() error {
			stdin.Close()
			exited := make(chan error, 1)
			go func() { exited <- cmd.Wait() }()
			select {
			case err := <-exited:
				return errors.Wrap(err, "serve")
			case <-time.After(serveExitTimeout):
				logger.Warn("serve did not exit, killing it", "pid", cmd.Process.Pid)
				_ = cmd.Process.Kill()
				return errors.Wrap(<-exited, "serve killed")
			}
		},
	}, nil
}

func runHeadless(ctrl *motion.Controller) error {
	ctx, stop := signalContext()
	defer stop()

	err := ctrl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runTUI(ctrl *motion.Controller, latch *intent.Latch, logs *logWriter) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(initialWalkModel(ctrl, latch, logs), tea.WithAltScreen())

	runErr := make(chan error, 1)
	go func() {
		err := ctrl.Run(ctx)
		runErr <- err
		p.Send(loopDoneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-runErr
		return errors.Wrap(err, "run terminal ui")
	}

	cancel()
	err := <-runErr
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
