package robot

import "math"

// JointCalibration holds calibration data for a single joint.
type JointCalibration struct {
	// Reverse mirrors the joint around its center, for servos mounted the
	// other way round (the right side of the body).
	Reverse bool `json:"reverse"`
	// OffsetTicks is added to the computed position to trim the mounting.
	OffsetTicks int `json:"offset_ticks"`
}

// Calibration holds calibration data for all joints, keyed by joint ID.
type Calibration map[JointID]JointCalibration

// Offsets holds one angle offset from center, in radians, per joint in
// canonical ID order. Positive offsets swing the leg forward.
type Offsets [NumJoints]float64

// DefaultCalibration mirrors the right leg group so that a positive offset
// swings every leg toward the front of the robot.
func DefaultCalibration() Calibration {
	cal := make(Calibration, NumJoints)
	for _, id := range AllJoints() {
		cal[id] = JointCalibration{Reverse: !id.Left()}
	}
	return cal
}

// DegreesToTicks converts an absolute servo angle (0..300 degrees) to a
// servo position. Angles outside the servo range are clamped.
func DegreesToTicks(deg float64) int {
	deg = math.Max(0, math.Min(MaxDegrees, deg))
	return int(deg/MaxDegrees*MaxPosition + 0.5)
}

// TicksToDegrees converts a servo position to an absolute servo angle.
func TicksToDegrees(ticks int) float64 {
	return float64(ticks) / MaxPosition * MaxDegrees
}

// Ticks converts an angle offset from center (radians) to a servo position.
func (c JointCalibration) Ticks(offset float64) int {
	deg := offset * 180 / math.Pi
	if c.Reverse {
		deg = -deg
	}
	return Clamp(DegreesToTicks(CenterDeg+deg) + c.OffsetTicks)
}

// Angle converts a servo position back to an angle offset from center in
// radians. It is the inverse of Ticks inside the servo range.
func (c JointCalibration) Angle(ticks int) float64 {
	deg := TicksToDegrees(ticks-c.OffsetTicks) - CenterDeg
	if c.Reverse {
		deg = -deg
	}
	return deg * math.Pi / 180
}

// Frame converts per-joint offsets into a clamped JointFrame. Joints
// without calibration use the identity mapping.
func (c Calibration) Frame(offsets Offsets) JointFrame {
	var f JointFrame
	for _, id := range AllJoints() {
		f[id.Index()] = c[id].Ticks(offsets[id.Index()])
	}
	return f
}
