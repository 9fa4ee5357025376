package actuator

import "github.com/pkg/errors"

// FailureWatch trips when any joint of a Link accumulates Max consecutive
// failed operations. A zero Max disables it.
type FailureWatch struct {
	Link *Link
	Max  int
}

// Check returns the reason to stop, or nil while the joints are healthy.
func (w *FailureWatch) Check() error {
	if w == nil || w.Link == nil || w.Max <= 0 {
		return nil
	}
	id, n := w.Link.Health().Worst()
	if n >= w.Max {
		return errors.Errorf("joint %s failed %d consecutive times (last: %v)", id, n, w.Link.LastError(id).Err())
	}
	return nil
}
