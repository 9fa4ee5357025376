package gait

import (
	"math"
	"testing"
	"time"

	"github.com/gwillem/octoleg/pkg/intent"
	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 20 * time.Millisecond

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := New(Params{Swing: 0.5, PhaseDuration: 500 * time.Millisecond, TurnBias: 0.5})
	require.NoError(t, err)
	return g
}

func assertZero(t *testing.T, o robot.Offsets) {
	t.Helper()
	for i, v := range o {
		assert.InDelta(t, 0, v, 1e-9, "joint %d", i+1)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	g := newGenerator(t)
	other := newGenerator(t)
	other.Step(intent.Forward, 0)
	other.Step(intent.Forward, 330*time.Millisecond)

	for _, cmd := range intent.Commands() {
		for _, phase := range []time.Duration{0, 70 * time.Millisecond, 430 * time.Millisecond, 2 * time.Second} {
			assert.Equal(t, g.Evaluate(cmd, phase), other.Evaluate(cmd, phase), "%s at %s", cmd, phase)
		}
	}
}

func TestStep_StopAndIdleAreCentered(t *testing.T) {
	g := newGenerator(t)
	for range 13 {
		g.Step(intent.Forward, tick)
	}
	assertZero(t, g.Step(intent.Stop, tick))
	assertZero(t, g.Step(intent.Idle, tick))
	assertZero(t, g.Evaluate(intent.Stop, 250*time.Millisecond))
}

func TestStep_Antiphase(t *testing.T) {
	g := newGenerator(t)

	// A quarter stride in, the left legs are fully forward.
	o := g.Evaluate(intent.Forward, 250*time.Millisecond)
	for _, id := range robot.AllJoints() {
		if id.Left() {
			assert.InDelta(t, 0.5, o[id.Index()], 1e-9, id.String())
		} else {
			assert.InDelta(t, -0.5, o[id.Index()], 1e-9, id.String())
		}
	}

	// Three quarters in, the groups have swapped.
	o = g.Evaluate(intent.Forward, 750*time.Millisecond)
	assert.InDelta(t, -0.5, o[robot.LeftFront.Index()], 1e-9)
	assert.InDelta(t, 0.5, o[robot.RightFront.Index()], 1e-9)
}

func TestStep_FullStrideReturnsToCenter(t *testing.T) {
	g := newGenerator(t)
	period := g.params.Period()

	assertZero(t, g.Step(intent.Forward, tick))

	var o robot.Offsets
	for elapsed := time.Duration(0); elapsed < period; elapsed += tick {
		o = g.Step(intent.Forward, tick)
		left, right := o[robot.LeftFront.Index()], o[robot.RightFront.Index()]
		assert.InDelta(t, 0, left+right, 1e-9, "groups in antiphase at %s", g.Phase())
	}
	assert.Equal(t, period, g.Phase())
	assertZero(t, o)
}

func TestStep_PhaseRestartsOnStart(t *testing.T) {
	g := newGenerator(t)
	for range 10 {
		g.Step(intent.Forward, tick)
	}
	assert.Equal(t, 9*tick, g.Phase())

	// Changing direction keeps the stride going.
	g.Step(intent.TurnLeft, tick)
	assert.Equal(t, 10*tick, g.Phase())

	g.Step(intent.Stop, tick)
	assert.Equal(t, time.Duration(0), g.Phase())
	g.Step(intent.Forward, tick)
	assert.Equal(t, time.Duration(0), g.Phase())
}

func TestEvaluate_Backward(t *testing.T) {
	g := newGenerator(t)
	phase := 100 * time.Millisecond
	fwd := g.Evaluate(intent.Forward, phase)
	back := g.Evaluate(intent.Backward, phase)
	for i := range fwd {
		assert.InDelta(t, -fwd[i], back[i], 1e-9)
	}
}

func TestEvaluate_Turning(t *testing.T) {
	g := newGenerator(t)
	phase := 250 * time.Millisecond

	left := g.Evaluate(intent.TurnLeft, phase)
	assert.InDelta(t, 0.25, left[robot.LeftFront.Index()], 1e-9)
	assert.InDelta(t, -0.75, left[robot.RightFront.Index()], 1e-9)

	right := g.Evaluate(intent.TurnRight, phase)
	assert.InDelta(t, 0.75, right[robot.LeftFront.Index()], 1e-9)
	assert.InDelta(t, -0.25, right[robot.RightFront.Index()], 1e-9)
}

func TestParams(t *testing.T) {
	p := ParamsFromConfig(robot.DefaultConfig().Gait)
	assert.InDelta(t, math.Pi/6, p.Swing, 1e-12)
	assert.Equal(t, time.Second, p.Period())
	require.NoError(t, p.Validate())

	_, err := New(Params{Swing: 0.1})
	assert.Error(t, err)
	_, err = New(Params{Swing: 0.1, PhaseDuration: time.Second, TurnBias: 2})
	assert.Error(t, err)
}
