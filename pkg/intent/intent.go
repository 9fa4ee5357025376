// Package intent defines the movement commands fed to the motion
// controller and the sources that produce them.
package intent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Command is a high-level movement request.
type Command int

const (
	Idle Command = iota
	Forward
	Backward
	TurnLeft
	TurnRight
	Stop
)

var commandNames = [...]string{
	Idle:      "idle",
	Forward:   "forward",
	Backward:  "backward",
	TurnLeft:  "turn_left",
	TurnRight: "turn_right",
	Stop:      "stop",
}

// Commands returns every command.
func Commands() []Command {
	return []Command{Idle, Forward, Backward, TurnLeft, TurnRight, Stop}
}

func (c Command) String() string {
	if c < 0 || int(c) >= len(commandNames) {
		return fmt.Sprintf("command(%d)", int(c))
	}
	return commandNames[c]
}

// Moving reports whether the command asks the robot to walk.
func (c Command) Moving() bool {
	switch c {
	case Forward, Backward, TurnLeft, TurnRight:
		return true
	}
	return false
}

// ParseCommand parses a command name. Names are case-insensitive and may
// use dashes or underscores; "none" is accepted for idle.
func ParseCommand(s string) (Command, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if name == "none" {
		return Idle, nil
	}
	for c, n := range commandNames {
		if n == name {
			return Command(c), nil
		}
	}
	return Idle, errors.Errorf("unknown command %q", s)
}

// KeyCommand maps a keyboard key to a command: w forward, x backward,
// a turn left, d turn right, s or space stop.
func KeyCommand(key string) (Command, bool) {
	switch key {
	case "w", "up":
		return Forward, true
	case "x", "down":
		return Backward, true
	case "a", "left":
		return TurnLeft, true
	case "d", "right":
		return TurnRight, true
	case "s", " ", "space":
		return Stop, true
	}
	return Idle, false
}

// Source yields one command per control tick. Poll must not block.
type Source interface {
	Poll() Command
}

// Finite is implemented by sources that run out of commands.
type Finite interface {
	Done() bool
}

// Static always returns the same command.
type Static Command

func (s Static) Poll() Command { return Command(s) }

// Latch returns the last command set on it. It is safe for concurrent
// use, so an input goroutine can drive it while the controller polls.
type Latch struct {
	mu  sync.Mutex
	cmd Command
}

// Set replaces the current command.
func (l *Latch) Set(c Command) {
	l.mu.Lock()
	l.cmd = c
	l.mu.Unlock()
}

func (l *Latch) Poll() Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd
}
