package channel

import (
	"io"
	"sync"

	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/pkg/errors"
)

// ErrClosed is returned by a Writer after Quit.
var ErrClosed = errors.New("channel closed")

// Writer sends frames to a driver.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewWriter returns a Writer sending lines to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame sends one frame.
func (w *Writer) WriteFrame(frame robot.JointFrame) error {
	return w.send(FormatFrame(frame))
}

// Quit ends the stream. The driver disables torque when it sees it.
func (w *Writer) Quit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := io.WriteString(w.w, QuitCommand+"\n")
	return errors.Wrap(err, "send quit")
}

func (w *Writer) send(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(w.w, line); err != nil {
		return errors.Wrap(err, "send frame")
	}
	return nil
}
