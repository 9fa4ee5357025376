// Package octoleg drives an eight legged walking robot built from RX-24F
// class servos.
//
// A fixed-rate motion loop turns operator commands into a trot gait and
// streams joint frames, one text line per tick, to a frame server that owns
// the servo bus.
//
// # Installation
//
//	go install github.com/gwillem/octoleg/cmd/octoleg@latest
//
// # Usage
//
// First, run setup to find the servo bus and trim the neutral stance:
//
//	octoleg setup
//
// Then walk with the keyboard, a script or a fixed command:
//
//	octoleg walk
//	octoleg walk --headless --script patrol.txt
//
// The two halves also run as separate processes:
//
//	octoleg walk --headless --stdout --command forward | octoleg serve
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/octoleg: CLI with walk, serve, setup and servo maintenance commands
//   - pkg/robot: joint model, calibration and configuration
//   - pkg/dynamixel: Dynamixel protocol 1.0 packet codec and bus
//   - pkg/actuator: servo bus ownership, write modes and failure tracking
//   - pkg/channel: joint frame line protocol and frame server
//   - pkg/intent: operator command sources
//   - pkg/gait: trot oscillator
//   - pkg/motion: control loop and safety state machine
package octoleg
