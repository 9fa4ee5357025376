package actuator

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gwillem/octoleg/pkg/dynamixel"
	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/pkg/errors"
)

// Link is the single owner of the servo bus. All methods are safe for
// concurrent use; bus access is serialized.
type Link struct {
	mu     sync.Mutex
	drv    Driver
	logger *log.Logger

	joints   [robot.NumJoints]Joint
	last     [robot.NumJoints]Result
	failures [robot.NumJoints]int
	total    [robot.NumJoints]int
}

// Health holds the failure counters of every joint in canonical order.
type Health struct {
	Consecutive [robot.NumJoints]int
	Total       [robot.NumJoints]int
}

// Worst returns the joint with the longest run of consecutive failures.
func (h Health) Worst() (robot.JointID, int) {
	worst, n := robot.LeftFront, 0
	for i, c := range h.Consecutive {
		if c > n {
			worst, n = robot.JointID(i+1), c
		}
	}
	return worst, n
}

// Open opens the transport described by cfg and wraps it in a Link.
func Open(cfg Config, logger *log.Logger) (*Link, error) {
	drv, err := OpenDriver(cfg)
	if err != nil {
		return nil, err
	}
	return NewLink(drv, logger), nil
}

// NewLink takes ownership of drv. A nil logger selects the default logger.
func NewLink(drv Driver, logger *log.Logger) *Link {
	if logger == nil {
		logger = log.Default()
	}
	l := &Link{drv: drv, logger: logger}
	for i, id := range robot.AllJoints() {
		l.joints[i] = Joint{ID: id, Position: robot.CenterPosition}
	}
	return l
}

// SetTorque enables or disables torque on one joint. Torque changes are
// always acknowledged.
func (l *Link) SetTorque(ctx context.Context, id robot.JointID, enabled bool) Result {
	if !id.Valid() {
		return Result{Comm: dynamixel.CommNotAvailable}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.drv.SetTorque(ctx, int(id), enabled)
	if l.record(id, "set torque", res) {
		l.joints[id.Index()].TorqueEnabled = enabled
	}
	return res
}

// WritePosition sets the goal position of one joint, clamped to the valid
// range. A fire-and-forget write that was queued does not clear the
// joint's failure count.
func (l *Link) WritePosition(ctx context.Context, id robot.JointID, pos int, mode WriteMode) Result {
	if !id.Valid() {
		return Result{Comm: dynamixel.CommNotAvailable}
	}
	pos = robot.Clamp(pos)

	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.drv.WritePosition(ctx, int(id), pos, mode)
	if mode == FireAndForget && res.OK() {
		// Unconfirmed; the failure counters wait for acknowledged traffic.
		l.joints[id.Index()].Position = pos
		return res
	}
	if l.record(id, "write position", res) {
		l.joints[id.Index()].Position = pos
	}
	return res
}

// ReadPosition returns the present position of one joint.
func (l *Link) ReadPosition(ctx context.Context, id robot.JointID) (int, Result) {
	if !id.Valid() {
		return 0, Result{Comm: dynamixel.CommNotAvailable}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, res := l.drv.ReadPosition(ctx, int(id))
	l.record(id, "read position", res)
	return pos, res
}

// WriteFrame writes every joint of frame in canonical order. A failed
// joint does not stop the remaining writes.
func (l *Link) WriteFrame(ctx context.Context, frame robot.JointFrame, mode WriteMode) []Result {
	results := make([]Result, 0, robot.NumJoints)
	for _, id := range robot.AllJoints() {
		results = append(results, l.WritePosition(ctx, id, frame.At(id), mode))
	}
	return results
}

type syncWriter interface {
	SyncPositions(ctx context.Context, positions map[int]int) Result
}

// SyncFrame moves all joints at once with a single broadcast write when
// the driver supports it, and falls back to WriteFrame otherwise.
func (l *Link) SyncFrame(ctx context.Context, frame robot.JointFrame) error {
	sw, ok := l.drv.(syncWriter)
	if !ok {
		return firstErr(l.WriteFrame(ctx, frame, FireAndForget))
	}

	frame = frame.Clamped()
	positions := make(map[int]int, robot.NumJoints)
	for _, id := range robot.AllJoints() {
		positions[int(id)] = frame.At(id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	res := sw.SyncPositions(ctx, positions)
	if !res.OK() {
		return errors.Wrap(res.Err(), "sync write")
	}
	for i, id := range robot.AllJoints() {
		l.joints[i].Position = frame.At(id)
	}
	return nil
}

// TorqueAll enables or disables every joint in canonical order. Every
// joint is visited; the first failure is returned.
func (l *Link) TorqueAll(ctx context.Context, enabled bool) error {
	results := make([]Result, 0, robot.NumJoints)
	for _, id := range robot.AllJoints() {
		results = append(results, l.SetTorque(ctx, id, enabled))
	}
	if err := firstErr(results); err != nil {
		if enabled {
			return errors.Wrap(err, "enable torque")
		}
		return errors.Wrap(err, "disable torque")
	}
	return nil
}

// Ping checks a raw bus id and returns the servo model number.
func (l *Link) Ping(ctx context.Context, id int) (int, Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.Ping(ctx, id)
}

// WriteRegister writes a raw control table register on any bus id. It is
// always acknowledged.
func (l *Link) WriteRegister(ctx context.Context, id int, reg Register, value int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.drv.WriteRegister(ctx, id, reg, value)
	if !res.OK() {
		l.logger.Warn("register write failed", "id", id, "register", reg.Name, "comm", int(res.Comm), "device", byte(res.Device), "err", res.Err())
	}
	return res
}

type scanner interface {
	Scan(ctx context.Context, from, to int) ([]int, error)
}

// Scan returns the bus ids in [from, to] that answer a ping.
func (l *Link) Scan(ctx context.Context, from, to int) ([]int, error) {
	if s, ok := l.drv.(scanner); ok {
		l.mu.Lock()
		defer l.mu.Unlock()
		return s.Scan(ctx, from, to)
	}

	var ids []int
	for id := from; id <= to; id++ {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		if _, res := l.Ping(ctx, id); res.Comm == dynamixel.CommSuccess {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// LastError returns the result of the last operation on a joint.
func (l *Link) LastError(id robot.JointID) Result {
	if !id.Valid() {
		return Result{Comm: dynamixel.CommNotAvailable}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last[id.Index()]
}

// Joints returns a snapshot of every joint in canonical order.
func (l *Link) Joints() [robot.NumJoints]Joint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.joints
}

// Health returns the failure counters of every joint.
func (l *Link) Health() Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Health{Consecutive: l.failures, Total: l.total}
}

// Close closes the transport.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.Close()
}

// record stores res for id, logs and counts failures, and reports whether
// the operation succeeded. Caller holds l.mu.
func (l *Link) record(id robot.JointID, op string, res Result) bool {
	i := id.Index()
	l.last[i] = res
	if res.OK() {
		l.failures[i] = 0
		return true
	}
	l.failures[i]++
	l.total[i]++
	l.logger.Warn(op+" failed", "joint", int(id), "comm", int(res.Comm), "device", byte(res.Device), "err", res.Err())
	return false
}

func firstErr(results []Result) error {
	for i, res := range results {
		if !res.OK() {
			return errors.Wrapf(res.Err(), "joint %d", i+1)
		}
	}
	return nil
}
