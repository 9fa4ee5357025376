package motion_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gwillem/octoleg/pkg/actuator"
	"github.com/gwillem/octoleg/pkg/actuator/actuatortest"
	"github.com/gwillem/octoleg/pkg/channel"
	"github.com/gwillem/octoleg/pkg/dynamixel"
	"github.com/gwillem/octoleg/pkg/gait"
	"github.com/gwillem/octoleg/pkg/intent"
	"github.com/gwillem/octoleg/pkg/motion"
	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type walkFixture struct {
	rec    *actuatortest.Recorder
	link   *actuator.Link
	ctrl   *motion.Controller
	served chan error
}

// newWalk wires a controller through the line protocol into a frame server
// backed by a recording driver.
func newWalk(t *testing.T, src intent.Source, maxFailures int) walkFixture {
	t.Helper()
	logger := log.New(io.Discard)
	rec := actuatortest.NewRecorder()
	link := actuator.NewLink(rec, logger)

	pr, pw := io.Pipe()
	srv := channel.NewServer(link, logger)
	served := make(chan error, 1)
	go func() {
		err := srv.Run(context.Background(), pr)
		pr.CloseWithError(io.ErrClosedPipe)
		served <- err
	}()

	cfg := motion.Config{
		Hz:   100,
		Gait: gait.Params{Swing: 0.5, PhaseDuration: 500 * time.Millisecond, TurnBias: 0.5},
	}
	watch := &actuator.FailureWatch{Link: link, Max: maxFailures}
	ctrl, err := motion.NewController(cfg, src, channel.NewWriter(pw), logger, watch)
	require.NoError(t, err)
	return walkFixture{rec: rec, link: link, ctrl: ctrl, served: served}
}

func (f walkFixture) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.served:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

func TestPipeline_ScriptedWalk(t *testing.T) {
	script, err := intent.NewScript(strings.NewReader("forward 10\nstop 2\n"), nil)
	require.NoError(t, err)
	f := newWalk(t, script, 0)

	require.NoError(t, f.ctrl.Run(context.Background()))
	require.NoError(t, f.wait(t))

	calls := f.rec.Calls()
	require.NotEmpty(t, calls)

	// Torque on first, off last.
	torque := f.rec.CallsOf(actuatortest.OpTorque)
	require.Len(t, torque, 2*robot.NumJoints)
	for i, c := range torque {
		want := 1
		if i >= robot.NumJoints {
			want = 0
		}
		assert.Equal(t, want, c.Value)
	}
	assert.Equal(t, actuatortest.OpTorque, calls[len(calls)-1].Op)

	writes := f.rec.CallsOf(actuatortest.OpWrite)
	require.Len(t, writes, 12*robot.NumJoints)
	for _, w := range writes {
		assert.Equal(t, actuator.FireAndForget, w.Mode)
	}
	// The stride starts at center and the two stop ticks return there.
	for _, w := range writes[:robot.NumJoints] {
		assert.Equal(t, robot.CenterPosition, w.Value)
	}
	for _, w := range writes[len(writes)-robot.NumJoints:] {
		assert.Equal(t, robot.CenterPosition, w.Value)
	}
	assert.Equal(t, robot.CenterFrame(), frameOf(f.link.Joints()))
}

func TestPipeline_FailuresTripSafetyStop(t *testing.T) {
	f := newWalk(t, intent.Static(intent.Forward), 3)
	f.rec.Fail(7, actuator.Result{Comm: dynamixel.CommTxFail})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.ctrl.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.ctrl.Machine().State() == motion.SafetyStop
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, f.ctrl.Machine().Reason(), "right_rear_mid")

	// Writes stop once the machine has tripped.
	time.Sleep(50 * time.Millisecond)
	before := len(f.rec.CallsOf(actuatortest.OpWrite))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, len(f.rec.CallsOf(actuatortest.OpWrite)))

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	// The disable pass reports the broken joint.
	assert.Error(t, f.wait(t))
}

func frameOf(joints [robot.NumJoints]actuator.Joint) robot.JointFrame {
	var f robot.JointFrame
	for i, j := range joints {
		f[i] = j.Position
	}
	return f
}
