package actuator

import (
	"context"

	"github.com/gwillem/octoleg/pkg/dynamixel"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
)

// feetechDriver drives legs built on Feetech STS servos.
type feetechDriver struct {
	bus    *feetech.Bus
	groups map[int]*feetech.ServoGroup
}

func openFeetech(cfg Config) (Driver, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.Baud,
		Protocol: feetech.ProtocolSTS,
		Timeout:  cfg.Timeout.Std(),
	})
	if err != nil {
		return nil, errors.Wrapf(ErrTransportUnavailable, "open bus %s: %v", cfg.Port, err)
	}
	return newFeetechDriver(bus), nil
}

func newFeetechDriver(bus *feetech.Bus) *feetechDriver {
	return &feetechDriver{bus: bus, groups: make(map[int]*feetech.ServoGroup)}
}

// group returns a single-servo group so one bad joint never fails the
// writes of the others.
func (d *feetechDriver) group(id int) *feetech.ServoGroup {
	g, ok := d.groups[id]
	if !ok {
		g = feetech.NewServoGroupByIDs(d.bus, id)
		d.groups[id] = g
	}
	return g
}

func (d *feetechDriver) SetTorque(ctx context.Context, id int, enabled bool) Result {
	if enabled {
		return errResult(d.group(id).EnableAll(ctx))
	}
	return errResult(d.group(id).DisableAll(ctx))
}

// WritePosition uses a sync write, which the servo never answers. An
// acknowledged write is confirmed by reading the position register back.
func (d *feetechDriver) WritePosition(ctx context.Context, id, pos int, mode WriteMode) Result {
	g := d.group(id)
	if err := g.SetPositions(ctx, feetech.PositionMap{id: pos}); err != nil {
		return errResult(errors.Wrap(err, "write position"))
	}
	if mode == FireAndForget {
		return Result{}
	}
	_, res := d.ReadPosition(ctx, id)
	return res
}

func (d *feetechDriver) ReadPosition(ctx context.Context, id int) (int, Result) {
	positions, err := d.group(id).Positions(ctx)
	if err != nil {
		return 0, errResult(errors.Wrap(err, "read position"))
	}
	pos, ok := positions[id]
	if !ok {
		return 0, Result{Comm: dynamixel.CommRxTimeout}
	}
	return pos, Result{}
}

// Ping returns the model number the servo reports.
func (d *feetechDriver) Ping(ctx context.Context, id int) (int, Result) {
	model, err := d.bus.Ping(ctx, id)
	if err != nil {
		return 0, errResult(err)
	}
	return model, Result{}
}

// stsRegisters maps the maintenance registers onto the STS control table.
// The baud register holds an index into a model specific table and is only
// reachable through SetBaud.
var stsRegisters = map[string]feetech.Register{
	RegID.Name:          feetech.RegID,
	RegCWLimit.Name:     feetech.RegMinAngleLimit,
	RegCCWLimit.Name:    feetech.RegMaxAngleLimit,
	RegTorque.Name:      feetech.RegTorqueEnable,
	RegMovingSpeed.Name: feetech.RegGoalVelocity,
	RegTorqueLimit.Name: feetech.RegTorqueLimit,
}

func (d *feetechDriver) WriteRegister(ctx context.Context, id int, reg Register, value int) Result {
	r, ok := stsRegisters[reg.Name]
	if !ok {
		return Result{Comm: dynamixel.CommNotAvailable}
	}
	data := []byte{byte(value)}
	if r.Size == 2 {
		data = d.bus.Protocol().EncodeWord(uint16(value))
	}
	return errResult(d.bus.WriteRegister(ctx, id, r.Address, data))
}

// servo returns a handle for id with the model it reports, so EEPROM
// writes use the right baud table.
func (d *feetechDriver) servo(ctx context.Context, id int) (*feetech.Servo, error) {
	number, err := d.bus.Ping(ctx, id)
	if err != nil {
		return nil, err
	}
	// Unknown model numbers get the STS3215 layout.
	model, _ := feetech.GetModelByNumber(number)
	return feetech.NewServo(d.bus, id, model), nil
}

func (d *feetechDriver) SetID(ctx context.Context, cur, next int) Result {
	s, err := d.servo(ctx, cur)
	if err != nil {
		return errResult(err)
	}
	return errResult(s.SetID(ctx, next))
}

func (d *feetechDriver) SetBaud(ctx context.Context, id, baud int) Result {
	s, err := d.servo(ctx, id)
	if err != nil {
		return errResult(err)
	}
	return errResult(s.SetBaudRate(ctx, baud))
}

func (d *feetechDriver) SetLimits(ctx context.Context, id, lo, hi int) Result {
	s, err := d.servo(ctx, id)
	if err != nil {
		return errResult(err)
	}
	if err := s.SetTorqueEnabled(ctx, false); err != nil {
		return errResult(err)
	}
	return errResult(s.SetPositionLimits(ctx, lo, hi))
}

// ScanModels lists the servos answering in [from, to] with their model
// numbers.
func (d *feetechDriver) ScanModels(ctx context.Context, from, to int) ([]ScanResult, error) {
	found, err := d.bus.Scan(ctx, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	out := make([]ScanResult, 0, len(found))
	for _, s := range found {
		out = append(out, ScanResult{ID: s.ID, Model: s.ModelNumber})
	}
	return out, nil
}

// Scan lists the servos answering in [from, to].
func (d *feetechDriver) Scan(ctx context.Context, from, to int) ([]int, error) {
	found, err := d.bus.Scan(ctx, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	ids := make([]int, 0, len(found))
	for _, s := range found {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (d *feetechDriver) Close() error {
	return d.bus.Close()
}
