// Package actuatortest provides an in-memory actuator.Driver for tests.
package actuatortest

import (
	"context"
	"sync"

	"github.com/gwillem/octoleg/pkg/actuator"
	"github.com/gwillem/octoleg/pkg/dynamixel"
)

// Op names a recorded driver call.
type Op string

const (
	OpTorque   Op = "torque"
	OpWrite    Op = "write"
	OpRead     Op = "read"
	OpPing     Op = "ping"
	OpRegister Op = "register"
)

// Call is one recorded driver call.
type Call struct {
	Op    Op
	ID    int
	Value int
	Mode  actuator.WriteMode
	Reg   string
}

// Recorder is a Driver that records every call and simulates servos that
// reach their goal position immediately.
type Recorder struct {
	mu        sync.Mutex
	calls     []Call
	positions map[int]int
	fail      map[int]actuator.Result
	present   map[int]bool
	closed    bool

	// OnCall, when set, runs after each call is recorded and outside the
	// recorder lock.
	OnCall func(Call)
}

// NewRecorder returns a recorder answering on the given ids, or on ids 1-8
// when none are given.
func NewRecorder(ids ...int) *Recorder {
	if len(ids) == 0 {
		ids = []int{1, 2, 3, 4, 5, 6, 7, 8}
	}
	r := &Recorder{
		positions: make(map[int]int),
		fail:      make(map[int]actuator.Result),
		present:   make(map[int]bool),
	}
	for _, id := range ids {
		r.present[id] = true
	}
	return r
}

// Fail makes every following call on id return res. A successful res
// clears the failure.
func (r *Recorder) Fail(id int, res actuator.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.OK() {
		delete(r.fail, id)
		return
	}
	r.fail[id] = res
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsOf returns the recorded calls of one kind.
func (r *Recorder) CallsOf(op Op) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets the recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) failing(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.fail[id]
	return ok
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Recorder) record(c Call) actuator.Result {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	res, failing := r.fail[c.ID]
	if !failing && !r.present[c.ID] {
		res = actuator.Result{Comm: dynamixel.CommRxTimeout}
	}
	hook := r.OnCall
	r.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return res
}

func (r *Recorder) SetTorque(ctx context.Context, id int, enabled bool) actuator.Result {
	v := 0
	if enabled {
		v = 1
	}
	return r.record(Call{Op: OpTorque, ID: id, Value: v, Mode: actuator.Acknowledged})
}

// WritePosition fails fire-and-forget writes only for ids set with Fail. A
// queued write to an absent id succeeds like it does on a real bus.
func (r *Recorder) WritePosition(ctx context.Context, id, pos int, mode actuator.WriteMode) actuator.Result {
	res := r.record(Call{Op: OpWrite, ID: id, Value: pos, Mode: mode})
	if mode == actuator.FireAndForget && res.Comm == dynamixel.CommRxTimeout && !r.failing(id) {
		return actuator.Result{}
	}
	if res.OK() {
		r.mu.Lock()
		r.positions[id] = pos
		r.mu.Unlock()
	}
	return res
}

func (r *Recorder) ReadPosition(ctx context.Context, id int) (int, actuator.Result) {
	res := r.record(Call{Op: OpRead, ID: id, Mode: actuator.Acknowledged})
	if !res.OK() {
		return 0, res
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positions[id], res
}

// Ping reports model 24 (RX-24F) for present ids.
func (r *Recorder) Ping(ctx context.Context, id int) (int, actuator.Result) {
	res := r.record(Call{Op: OpPing, ID: id, Mode: actuator.Acknowledged})
	if !res.OK() {
		return 0, res
	}
	return 24, res
}

func (r *Recorder) WriteRegister(ctx context.Context, id int, reg actuator.Register, value int) actuator.Result {
	return r.record(Call{Op: OpRegister, ID: id, Value: value, Reg: reg.Name, Mode: actuator.Acknowledged})
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
