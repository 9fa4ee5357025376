// Package channel carries joint frames from the motion controller to the
// servo driver as a stream of text lines.
//
// Each line holds eight decimal servo positions in joint order separated by
// spaces, terminated by a newline. A line starting with QUIT ends the
// stream.
package channel

import (
	"strconv"
	"strings"

	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/pkg/errors"
)

// QuitCommand ends a frame stream.
const QuitCommand = "QUIT"

// ErrMalformedFrame is returned for lines that do not hold exactly one
// integer per joint.
var ErrMalformedFrame = errors.New("malformed frame")

// IsQuit reports whether line ends the stream.
func IsQuit(line string) bool {
	return strings.HasPrefix(line, QuitCommand)
}

// ParseFrame decodes one frame line. Positions are clamped to the servo
// range.
func ParseFrame(line string) (robot.JointFrame, error) {
	var frame robot.JointFrame

	fields := strings.Fields(line)
	if len(fields) != robot.NumJoints {
		return frame, errors.Wrapf(ErrMalformedFrame, "expected %d ints, got %d fields", robot.NumJoints, len(fields))
	}
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return frame, errors.Wrapf(ErrMalformedFrame, "field %d: %q is not an integer", i+1, f)
		}
		frame[i] = robot.Clamp(v)
	}
	return frame, nil
}

// FormatFrame encodes a frame as one line, including the newline.
func FormatFrame(frame robot.JointFrame) string {
	var b strings.Builder
	for i, p := range frame {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(p))
	}
	b.WriteByte('\n')
	return b.String()
}
