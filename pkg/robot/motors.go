// Package robot describes the octoleg body: its joints, their calibration
// and the conversion from joint angles to servo positions.
package robot

import "fmt"

// NumJoints is the number of leg actuators on the robot.
const NumJoints = 8

// Servo position range for the RX-24F (0..1023 covers 0..300 degrees).
const (
	MinPosition    = 0
	MaxPosition    = 1023
	CenterPosition = 512
	MaxDegrees     = 300.0
	CenterDeg      = 150.0
)

// JointID identifies a leg actuator. IDs match the servo bus IDs 1-8.
type JointID int

// Joint IDs in canonical order. Legs 1-4 are on the left side, 5-8 on the
// right side, front to back.
const (
	LeftFront JointID = iota + 1
	LeftFrontMid
	LeftRearMid
	LeftRear
	RightFront
	RightFrontMid
	RightRearMid
	RightRear
)

var jointNames = [NumJoints]string{
	"left_front",
	"left_front_mid",
	"left_rear_mid",
	"left_rear",
	"right_front",
	"right_front_mid",
	"right_rear_mid",
	"right_rear",
}

// AllJoints returns all joint IDs in canonical order.
func AllJoints() []JointID {
	return []JointID{
		LeftFront,
		LeftFrontMid,
		LeftRearMid,
		LeftRear,
		RightFront,
		RightFrontMid,
		RightRearMid,
		RightRear,
	}
}

// Valid reports whether id is one of the robot's joints.
func (id JointID) Valid() bool {
	return id >= LeftFront && id <= RightRear
}

// Index returns the position of the joint in a JointFrame.
func (id JointID) Index() int {
	return int(id) - 1
}

// Left reports whether the joint belongs to the left leg group.
func (id JointID) Left() bool {
	return id >= LeftFront && id <= LeftRear
}

func (id JointID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("joint(%d)", int(id))
	}
	return jointNames[id.Index()]
}

// JointFrame holds one target position per joint in canonical ID order.
type JointFrame [NumJoints]int

// At returns the target for a joint.
func (f JointFrame) At(id JointID) int {
	return f[id.Index()]
}

// Clamped returns a copy of the frame with every target bounded to the
// servo range.
func (f JointFrame) Clamped() JointFrame {
	for i, p := range f {
		f[i] = Clamp(p)
	}
	return f
}

// CenterFrame returns the frame holding every joint at 150 degrees.
func CenterFrame() JointFrame {
	var f JointFrame
	for i := range f {
		f[i] = CenterPosition
	}
	return f
}

// Clamp bounds a servo position to [MinPosition, MaxPosition].
func Clamp(pos int) int {
	if pos < MinPosition {
		return MinPosition
	}
	if pos > MaxPosition {
		return MaxPosition
	}
	return pos
}
