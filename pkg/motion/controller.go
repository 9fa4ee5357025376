package motion

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gwillem/octoleg/pkg/gait"
	"github.com/gwillem/octoleg/pkg/intent"
	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/pkg/errors"
)

// Sink receives the frames the controller emits.
type Sink interface {
	WriteFrame(frame robot.JointFrame) error
	Quit() error
}

// Tick records one iteration of the control loop.
type Tick struct {
	Seq     uint64
	At      time.Time
	Command intent.Command
	State   State
	Offsets robot.Offsets
	Frame   robot.JointFrame
	// Emitted is false when the frame was withheld by SafetyStop.
	Emitted bool
	// Holding is set while the neutral pose is held at startup.
	Holding bool
	Elapsed time.Duration
}

// Config holds configuration for the controller.
type Config struct {
	Hz          int
	Gait        gait.Params
	Calibration robot.Calibration
	// NeutralHold is how long the neutral pose is held before commands are
	// read.
	NeutralHold time.Duration
}

// ConfigFrom builds a controller config from the robot config.
func ConfigFrom(cfg *robot.Config) Config {
	return Config{
		Hz:          cfg.Hz,
		Gait:        gait.ParamsFromConfig(cfg.Gait),
		Calibration: cfg.Calibration,
		NeutralHold: cfg.Gait.NeutralHold.Std(),
	}
}

// Controller runs the fixed-rate motion loop.
type Controller struct {
	hz      int
	source  intent.Source
	sink    Sink
	machine *StateMachine
	gen     *gait.Generator
	cal     robot.Calibration
	hold    time.Duration
	checks  []SafetyCheck
	logger  *log.Logger

	mu      sync.Mutex
	running bool
	seq     uint64
	tickCh  chan Tick
}

// NewController creates a controller reading commands from source and
// writing frames to sink. A nil logger selects the default logger.
func NewController(cfg Config, source intent.Source, sink Sink, logger *log.Logger, checks ...SafetyCheck) (*Controller, error) {
	if cfg.Hz <= 0 {
		cfg.Hz = 50
	}
	if cfg.Calibration == nil {
		cfg.Calibration = robot.DefaultCalibration()
	}
	gen, err := gait.New(cfg.Gait)
	if err != nil {
		return nil, errors.Wrap(err, "gait")
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &Controller{
		hz:      cfg.Hz,
		source:  source,
		sink:    sink,
		machine: NewStateMachine(),
		gen:     gen,
		cal:     cfg.Calibration,
		hold:    cfg.NeutralHold,
		checks:  checks,
		logger:  logger,
		tickCh:  make(chan Tick, 1),
	}
	c.machine.OnTransition(func(t Transition) {
		if t.To == SafetyStop {
			c.logger.Error("safety stop", "from", t.From, "reason", t.Reason)
			return
		}
		c.logger.Info("state change", "from", t.From, "to", t.To, "reason", t.Reason)
	})
	return c, nil
}

// Machine returns the state machine gating the loop.
func (c *Controller) Machine() *StateMachine {
	return c.machine
}

// Ticks returns a channel that receives the latest tick. Older ticks are
// dropped when the reader falls behind.
func (c *Controller) Ticks() <-chan Tick {
	return c.tickCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

// Run ticks until ctx is cancelled, the sink fails, or a finite intent
// source runs out. The state is logged once per second. The sink is always
// told to quit before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("already running")
	}
	c.running = true
	c.mu.Unlock()
	defer c.shutdown()

	period := time.Second / time.Duration(c.hz)
	c.logger.Info("motion loop started", "hz", c.hz)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if f, ok := c.source.(intent.Finite); ok && f.Done() {
				c.logger.Info("intent source exhausted")
				return nil
			}

			t, err := c.step(now.Sub(last))
			last = now
			if err != nil {
				return err
			}
			if t.Elapsed > period {
				c.logger.Warn("tick overran", "seq", t.Seq, "elapsed", t.Elapsed, "budget", period)
			}
			if t.Seq%uint64(c.hz) == 0 {
				c.logger.Info("status", "state", t.State, "command", t.Command, "phase", c.gen.Phase().Round(time.Millisecond))
			}
		}
	}
}

// step runs one tick with the given time since the previous one.
func (c *Controller) step(dt time.Duration) (Tick, error) {
	start := time.Now()
	c.seq++
	t := Tick{Seq: c.seq, At: start, Command: intent.Stop}
	if c.hold > 0 {
		// Commands wait until the legs have settled at neutral.
		c.hold -= dt
		t.Holding = true
		if c.hold <= 0 {
			c.logger.Info("neutral hold done")
		}
	} else {
		t.Command = c.source.Poll()
	}

	if c.machine.State() != SafetyStop {
		for _, check := range c.checks {
			if err := check.Check(); err != nil {
				c.machine.Trip(err.Error())
				break
			}
		}
	}

	t.State = c.machine.Update(t.Command)
	if t.State == SafetyStop {
		// Restart the stride from zero once the machine is reset.
		c.gen.Step(intent.Stop, dt)
		t.Elapsed = time.Since(start)
		c.sendTick(t)
		return t, nil
	}

	t.Offsets = c.gen.Step(t.Command, dt)
	t.Frame = c.cal.Frame(t.Offsets)
	if err := c.sink.WriteFrame(t.Frame); err != nil {
		return t, errors.Wrap(err, "emit frame")
	}
	t.Emitted = true
	t.Elapsed = time.Since(start)
	c.sendTick(t)
	return t, nil
}

func (c *Controller) sendTick(t Tick) {
	select {
	case c.tickCh <- t:
	default:
		// Drop old tick if channel full, replace with new
		select {
		case <-c.tickCh:
		default:
		}
		select {
		case c.tickCh <- t:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if err := c.sink.Quit(); err != nil {
		c.logger.Warn("failed to send quit", "err", err)
	}
	c.logger.Info("motion loop stopped")
}
