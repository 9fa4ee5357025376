// Package actuator owns the servo bus of the robot: torque control,
// position writes and reads, per-joint fault bookkeeping, and the shared
// transport underneath them.
package actuator

import (
	"context"
	"fmt"

	"github.com/gwillem/octoleg/pkg/dynamixel"
	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
)

// ErrTransportUnavailable is returned when the serial port cannot be opened
// or configured.
var ErrTransportUnavailable = errors.New("actuator transport unavailable")

// Config selects and configures the bus transport.
type Config = robot.BusConfig

// WriteMode selects whether a write waits for the servo to confirm it.
type WriteMode int

const (
	// Acknowledged waits for the status packet and reports its result.
	Acknowledged WriteMode = iota
	// FireAndForget returns as soon as the bytes are queued. Replies are
	// discarded before the next acknowledged transaction.
	FireAndForget
)

func (m WriteMode) String() string {
	switch m {
	case Acknowledged:
		return "acknowledged"
	case FireAndForget:
		return "fire-and-forget"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Result is the outcome of one servo operation.
type Result struct {
	Comm   dynamixel.CommResult
	Device dynamixel.DeviceError
	// Cause is set by drivers whose transport reports Go errors.
	Cause error
}

// OK reports whether the transaction succeeded with no device error.
func (r Result) OK() bool {
	return r.Comm == dynamixel.CommSuccess && r.Device == 0 && r.Cause == nil
}

// Err returns nil for a successful result.
func (r Result) Err() error {
	if r.Cause != nil {
		return r.Cause
	}
	return dynamixel.Error(r.Comm, r.Device)
}

// Register is a control table entry writable from the maintenance tools.
type Register struct {
	Name string
	Addr byte
	Size int
}

// Registers written by the maintenance tools.
var (
	RegID          = Register{"id", dynamixel.AddrID, 1}
	RegBaudRate    = Register{"baud_rate", dynamixel.AddrBaudRate, 1}
	RegCWLimit     = Register{"cw_angle_limit", dynamixel.AddrCWAngleLimit, 2}
	RegCCWLimit    = Register{"ccw_angle_limit", dynamixel.AddrCCWAngleLimit, 2}
	RegTorque      = Register{"torque_enable", dynamixel.AddrTorqueEnable, 1}
	RegMovingSpeed = Register{"moving_speed", dynamixel.AddrMovingSpeed, 2}
	RegTorqueLimit = Register{"torque_limit", dynamixel.AddrTorqueLimit, 2}
)

// Joint is the last known state of one actuator.
type Joint struct {
	ID            robot.JointID
	Position      int
	TorqueEnabled bool
}

// Driver is the transport a Link owns. Ids are raw bus ids so the
// maintenance tools can reach servos outside the joint range.
type Driver interface {
	SetTorque(ctx context.Context, id int, enabled bool) Result
	WritePosition(ctx context.Context, id, pos int, mode WriteMode) Result
	ReadPosition(ctx context.Context, id int) (int, Result)
	Ping(ctx context.Context, id int) (model int, res Result)
	WriteRegister(ctx context.Context, id int, reg Register, value int) Result
	Close() error
}

// OpenDriver opens the bus described by cfg.
func OpenDriver(cfg Config) (Driver, error) {
	switch cfg.Protocol {
	case robot.ProtocolDynamixel, "":
		return openDynamixel(cfg)
	case robot.ProtocolSTS:
		return openFeetech(cfg)
	}
	return nil, errors.Errorf("unknown bus protocol %q", cfg.Protocol)
}

// errResult maps a transport error onto the bus result codes. Feetech
// status bits share the Dynamixel layout and are reported as device errors.
func errResult(err error) Result {
	var (
		status feetech.StatusError
		serr   *feetech.ServoError
	)
	switch {
	case err == nil:
		return Result{}
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, feetech.ErrTimeout),
		errors.Is(err, feetech.ErrNoResponse):
		return Result{Comm: dynamixel.CommRxTimeout, Cause: err}
	case errors.Is(err, context.Canceled):
		return Result{Comm: dynamixel.CommPortBusy, Cause: err}
	case errors.As(err, &serr) && serr.Status != 0:
		return Result{Device: dynamixel.DeviceError(serr.Status), Cause: err}
	case errors.As(err, &status):
		return Result{Device: dynamixel.DeviceError(status), Cause: err}
	}
	return Result{Comm: dynamixel.CommRxFail, Cause: err}
}
