package actuator

import (
	"context"
	"time"

	"github.com/gwillem/octoleg/pkg/dynamixel"
	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/pkg/errors"
)

// Maintenance operations are one-shot, acknowledged sessions on servos
// that are not part of a running gait.

// ScanResult is one servo found on the bus.
type ScanResult struct {
	ID    int
	Model int
}

type modelScanner interface {
	ScanModels(ctx context.Context, from, to int) ([]ScanResult, error)
}

// configurer is implemented by drivers whose servos keep their EEPROM
// settings outside the RX control table layout.
type configurer interface {
	SetID(ctx context.Context, cur, next int) Result
	SetBaud(ctx context.Context, id, baud int) Result
	SetLimits(ctx context.Context, id, cw, ccw int) Result
}

// ScanModels pings every id in [from, to] and returns the servos that
// answer without a device error.
func (l *Link) ScanModels(ctx context.Context, from, to int) ([]ScanResult, error) {
	if s, ok := l.drv.(modelScanner); ok {
		l.mu.Lock()
		defer l.mu.Unlock()
		return s.ScanModels(ctx, from, to)
	}

	ids, err := l.Scan(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]ScanResult, 0, len(ids))
	for _, id := range ids {
		model, res := l.Ping(ctx, id)
		if !res.OK() {
			continue
		}
		out = append(out, ScanResult{ID: id, Model: model})
	}
	return out, nil
}

// configure runs fn on the driver's own EEPROM routine when it has one.
func (l *Link) configure(op string, id int, fn func(configurer) Result) (bool, error) {
	c, ok := l.drv.(configurer)
	if !ok {
		return false, nil
	}
	l.mu.Lock()
	res := fn(c)
	l.mu.Unlock()
	if !res.OK() {
		l.logger.Warn(op+" failed", "id", id, "comm", int(res.Comm), "device", byte(res.Device), "err", res.Err())
		return true, errors.Wrapf(res.Err(), "%s on id %d", op, id)
	}
	return true, nil
}

// SetID assigns a new bus id to the servo at cur. The broadcast id is
// rejected.
func (l *Link) SetID(ctx context.Context, cur, next int) error {
	if next < 0 || next > dynamixel.MaxID {
		return errors.Errorf("new id %d out of range 0..%d", next, dynamixel.MaxID)
	}
	if done, err := l.configure("set id", cur, func(c configurer) Result {
		return c.SetID(ctx, cur, next)
	}); done {
		return err
	}
	l.torqueOff(ctx, cur)
	if res := l.WriteRegister(ctx, cur, RegID, next); !res.OK() {
		return errors.Wrapf(res.Err(), "write id %d -> %d", cur, next)
	}
	return nil
}

// SetBaud reprograms the bus speed of one servo. The servo answers at the
// new speed afterwards, so the port must be reopened to reach it again.
func (l *Link) SetBaud(ctx context.Context, id, baud int) error {
	if done, err := l.configure("set baud", id, func(c configurer) Result {
		return c.SetBaud(ctx, id, baud)
	}); done {
		return err
	}
	v, err := dynamixel.BaudValue(baud)
	if err != nil {
		return err
	}
	l.torqueOff(ctx, id)
	if res := l.WriteRegister(ctx, id, RegBaudRate, int(v)); !res.OK() {
		return errors.Wrapf(res.Err(), "write baud register %d on id %d", v, id)
	}
	return nil
}

// SetLimits writes the clockwise and counter-clockwise travel limits of one
// servo.
func (l *Link) SetLimits(ctx context.Context, id, cw, ccw int) error {
	if cw < robot.MinPosition || ccw > robot.MaxPosition || cw > ccw {
		return errors.Errorf("invalid limits cw=%d ccw=%d", cw, ccw)
	}
	if done, err := l.configure("set limits", id, func(c configurer) Result {
		return c.SetLimits(ctx, id, cw, ccw)
	}); done {
		return err
	}
	l.torqueOff(ctx, id)
	if res := l.WriteRegister(ctx, id, RegCWLimit, cw); !res.OK() {
		return errors.Wrap(res.Err(), "write cw limit")
	}
	if res := l.WriteRegister(ctx, id, RegCCWLimit, ccw); !res.OK() {
		return errors.Wrap(res.Err(), "write ccw limit")
	}
	return nil
}

// Limits are the runtime speed and torque settings of the joints. A zero
// MovingSpeed lets the servos move at full speed without speed control.
type Limits struct {
	MovingSpeed int
	TorqueLimit int
}

// ApplyLimits writes the moving speed and torque limit of every joint with
// acknowledged writes. Every joint is visited; the first failure is
// returned.
func (l *Link) ApplyLimits(ctx context.Context, lim Limits) error {
	var first error
	for _, id := range robot.AllJoints() {
		for _, w := range []struct {
			reg   Register
			value int
		}{
			{RegMovingSpeed, lim.MovingSpeed},
			{RegTorqueLimit, lim.TorqueLimit},
		} {
			l.mu.Lock()
			res := l.drv.WriteRegister(ctx, int(id), w.reg, w.value)
			ok := l.record(id, "write "+w.reg.Name, res)
			l.mu.Unlock()
			if !ok && first == nil {
				first = errors.Wrapf(res.Err(), "joint %d %s", int(id), w.reg.Name)
			}
		}
	}
	return first
}

// Center enables torque, moves every joint to frame, waits settle and reads
// back the present positions. A failing joint does not stop the others;
// joints that fail to answer read as -1. When sync is set the frame goes
// out as a single broadcast write.
func (l *Link) Center(ctx context.Context, frame robot.JointFrame, sync bool, settle time.Duration) (robot.JointFrame, error) {
	var present robot.JointFrame
	err := l.TorqueAll(ctx, true)

	var moveErr error
	if sync {
		moveErr = l.SyncFrame(ctx, frame)
	} else {
		moveErr = firstErr(l.WriteFrame(ctx, frame, Acknowledged))
	}
	if err == nil {
		err = moveErr
	}

	if settle > 0 {
		select {
		case <-ctx.Done():
			return present, ctx.Err()
		case <-time.After(settle):
		}
	}

	for i, id := range robot.AllJoints() {
		pos, res := l.ReadPosition(ctx, id)
		if !res.OK() {
			pos = -1
		}
		present[i] = pos
	}
	return present, err
}

// torqueOff releases one servo before its EEPROM area is written. A failure
// is logged by WriteRegister and otherwise ignored.
func (l *Link) torqueOff(ctx context.Context, id int) {
	l.WriteRegister(ctx, id, RegTorque, 0)
}
