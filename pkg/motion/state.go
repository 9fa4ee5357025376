// Package motion runs the fixed-rate control loop of the robot and the
// state machine that gates it.
package motion

import (
	"fmt"
	"sync"

	"github.com/gwillem/octoleg/pkg/intent"
)

// State is the operational mode of the robot.
type State int

const (
	// Idle holds the legs centered.
	Idle State = iota
	// Moving runs the gait.
	Moving
	// SafetyStop suppresses every actuator write until Reset.
	SafetyStop
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Moving:
		return "moving"
	case SafetyStop:
		return "safety_stop"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transition describes one state change.
type Transition struct {
	From, To State
	Reason   string
}

// StateMachine decides, once per tick, whether gait output may reach the
// actuators. It is safe for concurrent use so an operator can trip or reset
// it while the loop runs.
type StateMachine struct {
	mu     sync.Mutex
	state  State
	reason string
	hook   func(Transition)
}

// NewStateMachine returns a machine in Idle.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// OnTransition registers fn to be called after every state change.
func (m *StateMachine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	m.hook = fn
	m.mu.Unlock()
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason returns why the machine entered SafetyStop, or "" outside it.
func (m *StateMachine) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Update applies the command of the current tick and returns the new
// state. SafetyStop ignores every command.
func (m *StateMachine) Update(cmd intent.Command) State {
	switch m.State() {
	case Idle:
		if cmd.Moving() {
			m.transition(Moving, cmd.String())
		}
	case Moving:
		if !cmd.Moving() {
			m.transition(Idle, cmd.String())
		}
	}
	return m.State()
}

// Trip enters SafetyStop from any state.
func (m *StateMachine) Trip(reason string) {
	m.transition(SafetyStop, reason)
}

// Reset leaves SafetyStop for Idle. It reports whether the machine was
// stopped.
func (m *StateMachine) Reset() bool {
	if m.State() != SafetyStop {
		return false
	}
	m.transition(Idle, "reset")
	return true
}

func (m *StateMachine) transition(to State, reason string) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.reason = ""
	if to == SafetyStop {
		m.reason = reason
	}
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(Transition{From: from, To: to, Reason: reason})
	}
}

// SafetyCheck is evaluated once per tick. A non-nil error trips the state
// machine into SafetyStop.
type SafetyCheck interface {
	Check() error
}

// SafetyCheckFunc adapts a function to SafetyCheck.
type SafetyCheckFunc func() error

func (f SafetyCheckFunc) Check() error { return f() }
