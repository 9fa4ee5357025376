package motion

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gwillem/octoleg/pkg/gait"
	"github.com/gwillem/octoleg/pkg/intent"
	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []robot.JointFrame
	quits  int
	err    error
}

func (s *recordingSink) WriteFrame(f robot.JointFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) Quit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quits++
	return nil
}

func (s *recordingSink) count() (frames, quits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames), s.quits
}

func testConfig() Config {
	return Config{
		Hz:   50,
		Gait: gait.Params{Swing: 0.5, PhaseDuration: 500 * time.Millisecond, TurnBias: 0.5},
	}
}

func newTestController(t *testing.T, src intent.Source, checks ...SafetyCheck) (*Controller, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	c, err := NewController(testConfig(), src, sink, log.New(io.Discard), checks...)
	require.NoError(t, err)
	return c, sink
}

func TestStateMachine_Transitions(t *testing.T) {
	m := NewStateMachine()
	var seen []Transition
	m.OnTransition(func(tr Transition) { seen = append(seen, tr) })

	assert.Equal(t, Idle, m.Update(intent.Stop))
	assert.Equal(t, Idle, m.Update(intent.Idle))
	assert.Equal(t, Moving, m.Update(intent.Forward))
	assert.Equal(t, Moving, m.Update(intent.TurnLeft))
	assert.Equal(t, Idle, m.Update(intent.Stop))
	assert.Equal(t, Moving, m.Update(intent.Backward))
	assert.Equal(t, Idle, m.Update(intent.Idle))

	require.Len(t, seen, 4)
	assert.Equal(t, Transition{From: Idle, To: Moving, Reason: "forward"}, seen[0])
	assert.Equal(t, Transition{From: Moving, To: Idle, Reason: "idle"}, seen[3])
}

func TestStateMachine_SafetyStopNeedsReset(t *testing.T) {
	m := NewStateMachine()
	assert.False(t, m.Reset())

	m.Update(intent.Forward)
	m.Trip("servo 3 overheating")
	assert.Equal(t, SafetyStop, m.State())
	assert.Equal(t, "servo 3 overheating", m.Reason())

	for _, cmd := range intent.Commands() {
		assert.Equal(t, SafetyStop, m.Update(cmd), cmd.String())
	}

	assert.True(t, m.Reset())
	assert.Equal(t, Idle, m.State())
	assert.Empty(t, m.Reason())
	assert.Equal(t, Moving, m.Update(intent.Forward))
}

func TestController_IdleEmitsCenter(t *testing.T) {
	c, sink := newTestController(t, intent.Static(intent.Idle))

	tk, err := c.step(20 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, tk.Emitted)
	assert.Equal(t, Idle, tk.State)
	require.Len(t, sink.frames, 1)
	assert.Equal(t, robot.CenterFrame(), sink.frames[0])
}

func TestController_ForwardWalks(t *testing.T) {
	c, sink := newTestController(t, intent.Static(intent.Forward))

	for range 13 {
		_, err := c.step(20 * time.Millisecond)
		require.NoError(t, err)
	}
	require.Len(t, sink.frames, 13)
	// First tick starts the stride at center.
	assert.Equal(t, robot.CenterFrame(), sink.frames[0])

	// At a quarter stride the left legs are forward and the mirrored right
	// servos read the same way.
	last := sink.frames[12]
	assert.Greater(t, last.At(robot.LeftFront), robot.CenterPosition)
	assert.Greater(t, last.At(robot.RightFront), robot.CenterPosition)
	assert.Equal(t, last.At(robot.LeftFront), last.At(robot.LeftRear))
}

func TestController_NoWritesInSafetyStop(t *testing.T) {
	var latch intent.Latch
	latch.Set(intent.Forward)
	c, sink := newTestController(t, &latch)

	_, err := c.step(20 * time.Millisecond)
	require.NoError(t, err)
	c.Machine().Trip("operator")

	for _, cmd := range intent.Commands() {
		latch.Set(cmd)
		tk, err := c.step(20 * time.Millisecond)
		require.NoError(t, err)
		assert.False(t, tk.Emitted)
		assert.Equal(t, SafetyStop, tk.State)
		assert.Equal(t, robot.Offsets{}, tk.Offsets)
	}
	frames, _ := sink.count()
	assert.Equal(t, 1, frames)

	// Reset goes to idle and the next stride starts from center.
	c.Machine().Reset()
	latch.Set(intent.Forward)
	tk, err := c.step(20 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, tk.Emitted)
	assert.Equal(t, Moving, tk.State)
	assert.Equal(t, robot.CenterFrame(), tk.Frame)
}

func TestController_SafetyCheckTrips(t *testing.T) {
	healthy := true
	check := SafetyCheckFunc(func() error {
		if healthy {
			return nil
		}
		return errors.New("joint 4 failed 5 consecutive times")
	})
	c, sink := newTestController(t, intent.Static(intent.Forward), check)

	_, err := c.step(20 * time.Millisecond)
	require.NoError(t, err)
	healthy = false
	tk, err := c.step(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, SafetyStop, tk.State)
	assert.Contains(t, c.Machine().Reason(), "joint 4")

	// Recovery of the check alone does not resume motion.
	healthy = true
	tk, _ = c.step(20 * time.Millisecond)
	assert.Equal(t, SafetyStop, tk.State)
	frames, _ := sink.count()
	assert.Equal(t, 1, frames)
}

func TestController_SinkErrorStopsRun(t *testing.T) {
	sink := &recordingSink{err: errors.New("broken pipe")}
	c, err := NewController(testConfig(), intent.Static(intent.Idle), sink, log.New(io.Discard))
	require.NoError(t, err)

	err = c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	_, quits := sink.count()
	assert.Equal(t, 1, quits)
}

func TestController_RunUntilScriptDone(t *testing.T) {
	script, err := intent.NewScript(strings.NewReader("forward 5\nstop 2\n"), log.New(io.Discard))
	require.NoError(t, err)
	c, sink := newTestController(t, script)

	require.NoError(t, c.Run(context.Background()))
	frames, quits := sink.count()
	assert.Equal(t, 7, frames)
	assert.Equal(t, 1, quits)
}

func TestController_RunCancel(t *testing.T) {
	c, sink := newTestController(t, intent.Static(intent.Forward))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	select {
	case tk := <-c.Ticks():
		assert.Equal(t, Moving, tk.State)
	case <-time.After(time.Second):
		t.Fatal("no tick published")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("controller did not stop")
	}
	_, quits := sink.count()
	assert.Equal(t, 1, quits)
}

func TestController_NeutralHold(t *testing.T) {
	script, err := intent.NewScript(strings.NewReader("forward 3\n"), nil)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.NeutralHold = 100 * time.Millisecond
	cfg.Calibration = robot.Calibration{robot.LeftFront: {OffsetTicks: 6}}
	sink := &recordingSink{}
	c, err := NewController(cfg, script, sink, log.New(io.Discard))
	require.NoError(t, err)

	neutral := cfg.Calibration.Frame(robot.Offsets{})
	for range 5 {
		tk, err := c.step(20 * time.Millisecond)
		require.NoError(t, err)
		assert.True(t, tk.Holding)
		assert.Equal(t, intent.Stop, tk.Command)
		assert.Equal(t, Idle, tk.State)
		assert.Equal(t, neutral, tk.Frame)
	}
	assert.Equal(t, 518, neutral.At(robot.LeftFront))
	// The script is untouched while holding.
	assert.False(t, script.Done())

	tk, err := c.step(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, tk.Holding)
	assert.Equal(t, intent.Forward, tk.Command)
	assert.Equal(t, Moving, tk.State)

	frames, _ := sink.count()
	assert.Equal(t, 6, frames)
}

func TestConfigFrom(t *testing.T) {
	cfg := robot.DefaultConfig()
	mc := ConfigFrom(cfg)
	assert.Equal(t, time.Second, mc.NeutralHold)
	assert.Equal(t, 500*time.Millisecond, mc.Gait.PhaseDuration)
	assert.Equal(t, 50, mc.Hz)
}
