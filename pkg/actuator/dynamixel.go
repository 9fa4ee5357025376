package actuator

import (
	"context"

	"github.com/gwillem/octoleg/pkg/dynamixel"
	"github.com/pkg/errors"
)

// dynamixelDriver drives RX-series servos over protocol 1.0.
type dynamixelDriver struct {
	bus *dynamixel.Bus
}

func openDynamixel(cfg Config) (Driver, error) {
	port, err := dynamixel.OpenSerial(cfg.Port, cfg.Baud)
	if err != nil {
		return nil, errors.Wrapf(ErrTransportUnavailable, "%v", err)
	}
	bus, err := dynamixel.NewBus(port, cfg.Timeout.Std())
	if err != nil {
		port.Close()
		return nil, errors.Wrapf(ErrTransportUnavailable, "%s: %v", cfg.Port, err)
	}
	return &dynamixelDriver{bus: bus}, nil
}

// NewDynamixelDriver wraps an already open bus.
func NewDynamixelDriver(bus *dynamixel.Bus) Driver {
	return &dynamixelDriver{bus: bus}
}

func (d *dynamixelDriver) SetTorque(ctx context.Context, id int, enabled bool) Result {
	if err := ctx.Err(); err != nil {
		return errResult(err)
	}
	var v byte
	if enabled {
		v = 1
	}
	comm, dev := d.bus.Write1(byte(id), dynamixel.AddrTorqueEnable, v)
	return Result{Comm: comm, Device: dev}
}

func (d *dynamixelDriver) WritePosition(ctx context.Context, id, pos int, mode WriteMode) Result {
	if err := ctx.Err(); err != nil {
		return errResult(err)
	}
	if mode == FireAndForget {
		return Result{Comm: d.bus.Write2NoReply(byte(id), dynamixel.AddrGoalPosition, uint16(pos))}
	}
	comm, dev := d.bus.Write2(byte(id), dynamixel.AddrGoalPosition, uint16(pos))
	return Result{Comm: comm, Device: dev}
}

func (d *dynamixelDriver) ReadPosition(ctx context.Context, id int) (int, Result) {
	if err := ctx.Err(); err != nil {
		return 0, errResult(err)
	}
	v, comm, dev := d.bus.Read2(byte(id), dynamixel.AddrPresentPosition)
	return int(v), Result{Comm: comm, Device: dev}
}

func (d *dynamixelDriver) Ping(ctx context.Context, id int) (int, Result) {
	if err := ctx.Err(); err != nil {
		return 0, errResult(err)
	}
	model, comm, dev := d.bus.Ping(byte(id))
	return model, Result{Comm: comm, Device: dev}
}

func (d *dynamixelDriver) WriteRegister(ctx context.Context, id int, reg Register, value int) Result {
	if err := ctx.Err(); err != nil {
		return errResult(err)
	}
	var comm dynamixel.CommResult
	var dev dynamixel.DeviceError
	switch reg.Size {
	case 1:
		comm, dev = d.bus.Write1(byte(id), reg.Addr, byte(value))
	case 2:
		comm, dev = d.bus.Write2(byte(id), reg.Addr, uint16(value))
	default:
		return Result{Comm: dynamixel.CommTxError}
	}
	return Result{Comm: comm, Device: dev}
}

// SyncPositions writes goal positions for several servos in one broadcast
// packet.
func (d *dynamixelDriver) SyncPositions(ctx context.Context, positions map[int]int) Result {
	if err := ctx.Err(); err != nil {
		return errResult(err)
	}
	ids := make([]byte, 0, len(positions))
	values := make([]uint16, 0, len(positions))
	for id := 1; id <= dynamixel.MaxID && len(ids) < len(positions); id++ {
		if pos, ok := positions[id]; ok {
			ids = append(ids, byte(id))
			values = append(values, uint16(pos))
		}
	}
	return Result{Comm: d.bus.SyncWrite(dynamixel.AddrGoalPosition, ids, values)}
}

func (d *dynamixelDriver) Close() error {
	return d.bus.Close()
}
