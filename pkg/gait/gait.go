// Package gait generates the trot of the octoleg: two groups of legs
// swinging in antiphase, left legs against right legs.
package gait

import (
	"math"
	"time"

	"github.com/gwillem/octoleg/pkg/intent"
	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/pkg/errors"
)

// Params shape the oscillator.
type Params struct {
	// Swing is the peak leg offset from center in radians.
	Swing float64
	// PhaseDuration is the time each group spends swinging one way. A full
	// stride takes twice as long.
	PhaseDuration time.Duration
	// TurnBias scales the swing of the two sides apart when turning: the
	// inner side swings (1-TurnBias) and the outer side (1+TurnBias).
	TurnBias float64
}

// ParamsFromConfig converts the configured gait settings.
func ParamsFromConfig(cfg robot.GaitConfig) Params {
	return Params{
		Swing:         cfg.SwingDeg * math.Pi / 180,
		PhaseDuration: cfg.PhaseDuration.Std(),
		TurnBias:      cfg.TurnBias,
	}
}

// Validate checks that the oscillator can run with p.
func (p Params) Validate() error {
	if p.PhaseDuration <= 0 {
		return errors.New("phase duration must be positive")
	}
	if p.Swing < 0 {
		return errors.New("swing must not be negative")
	}
	if p.TurnBias < 0 || p.TurnBias > 1 {
		return errors.Errorf("turn bias %.2f out of range [0, 1]", p.TurnBias)
	}
	return nil
}

// Period returns the duration of one full stride.
func (p Params) Period() time.Duration {
	return 2 * p.PhaseDuration
}

// Generator turns commands into joint offsets. It keeps the gait phase,
// which restarts whenever the robot starts moving.
type Generator struct {
	params Params
	phase  time.Duration
	moving bool
}

// New returns a generator at phase zero.
func New(p Params) (*Generator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Generator{params: p}, nil
}

// Phase returns the time elapsed in the current gait.
func (g *Generator) Phase() time.Duration {
	return g.phase
}

// Step advances the phase by dt and returns the offsets for cmd. The phase
// restarts at zero when cmd starts a movement after a stop.
func (g *Generator) Step(cmd intent.Command, dt time.Duration) robot.Offsets {
	if !cmd.Moving() {
		g.moving = false
		g.phase = 0
		return robot.Offsets{}
	}
	if !g.moving {
		g.moving = true
		g.phase = 0
	} else {
		g.phase += dt
	}
	return g.Evaluate(cmd, g.phase)
}

// Evaluate returns the offsets for cmd at the given phase. It has no side
// effects.
func (g *Generator) Evaluate(cmd intent.Command, phase time.Duration) robot.Offsets {
	var out robot.Offsets
	if !cmd.Moving() {
		return out
	}

	period := g.params.Period().Seconds()
	s := math.Sin(2 * math.Pi * phase.Seconds() / period)
	if cmd == intent.Backward {
		s = -s
	}

	left, right := g.params.Swing, g.params.Swing
	switch cmd {
	case intent.TurnLeft:
		left *= 1 - g.params.TurnBias
		right *= 1 + g.params.TurnBias
	case intent.TurnRight:
		left *= 1 + g.params.TurnBias
		right *= 1 - g.params.TurnBias
	}

	for _, id := range robot.AllJoints() {
		if id.Left() {
			out[id.Index()] = left * s
		} else {
			out[id.Index()] = -right * s
		}
	}
	return out
}
