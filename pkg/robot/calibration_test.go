package robot

import (
	"math"
	"testing"
)

func TestDegreesToTicks(t *testing.T) {
	tests := []struct {
		deg      float64
		expected int
	}{
		{0, 0},
		{300, 1023},
		{150, 512}, // center
		{100, 341},
		{200, 682},
		{-20, 0},    // below range
		{340, 1023}, // above range
	}

	for _, tt := range tests {
		got := DegreesToTicks(tt.deg)
		if got != tt.expected {
			t.Errorf("DegreesToTicks(%f) = %d, want %d", tt.deg, got, tt.expected)
		}
	}
}

func TestJointCalibration_Ticks(t *testing.T) {
	fwd := JointCalibration{}
	rev := JointCalibration{Reverse: true}
	thirty := 30 * math.Pi / 180

	tests := []struct {
		name     string
		cal      JointCalibration
		offset   float64
		expected int
	}{
		{"center", fwd, 0, 512},
		{"forward", fwd, thirty, DegreesToTicks(180)},
		{"backward", fwd, -thirty, DegreesToTicks(120)},
		{"reversed forward", rev, thirty, DegreesToTicks(120)},
		{"reversed center", rev, 0, 512},
		{"trimmed", JointCalibration{OffsetTicks: 7}, 0, 519},
		{"clamped high", JointCalibration{OffsetTicks: 900}, 0, 1023},
		{"clamped low", JointCalibration{OffsetTicks: -900}, 0, 0},
		{"beyond travel", fwd, 4, 1023},
	}

	for _, tt := range tests {
		got := tt.cal.Ticks(tt.offset)
		if got != tt.expected {
			t.Errorf("%s: Ticks(%f) = %d, want %d", tt.name, tt.offset, got, tt.expected)
		}
	}
}

func TestJointCalibration_RoundTrip(t *testing.T) {
	for _, cal := range []JointCalibration{{}, {Reverse: true}, {OffsetTicks: -12}} {
		// Test round-trip: ticks -> angle -> ticks
		for ticks := 100; ticks <= 900; ticks += 50 {
			angle := cal.Angle(ticks)
			back := cal.Ticks(angle)
			if math.Abs(float64(back-ticks)) > 1 {
				t.Errorf("Round-trip failed for %+v: %d -> %f -> %d", cal, ticks, angle, back)
			}
		}
	}
}

func TestCalibration_Frame(t *testing.T) {
	cal := DefaultCalibration()

	var offsets Offsets
	for _, id := range AllJoints() {
		offsets[id.Index()] = 0.2
	}
	frame := cal.Frame(offsets)

	// Same forward swing on both sides lands on mirrored servo positions.
	for _, id := range AllJoints() {
		got := frame.At(id)
		if id.Left() && got <= 512 {
			t.Errorf("left joint %s = %d, want above center", id, got)
		}
		if !id.Left() && got >= 512 {
			t.Errorf("right joint %s = %d, want below center", id, got)
		}
	}

	if zero := cal.Frame(Offsets{}); zero != CenterFrame() {
		t.Errorf("zero offsets = %v, want %v", zero, CenterFrame())
	}
}

func TestJointFrame_Clamped(t *testing.T) {
	in := JointFrame{2000, -5, 512, 512, 512, 512, 512, 1030}
	want := JointFrame{1023, 0, 512, 512, 512, 512, 512, 1023}
	if got := in.Clamped(); got != want {
		t.Errorf("Clamped() = %v, want %v", got, want)
	}
}

func TestAllJoints_Order(t *testing.T) {
	ids := AllJoints()
	if len(ids) != NumJoints {
		t.Fatalf("AllJoints returned %d IDs, want %d", len(ids), NumJoints)
	}
	for i, id := range ids {
		if int(id) != i+1 {
			t.Errorf("AllJoints()[%d] = %d, want %d", i, id, i+1)
		}
		if id.Index() != i {
			t.Errorf("%s.Index() = %d, want %d", id, id.Index(), i)
		}
	}
	if !LeftRear.Left() || RightFront.Left() {
		t.Error("left group must be joints 1-4")
	}
}
