package intent

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	for _, c := range Commands() {
		got, err := ParseCommand(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	got, err := ParseCommand(" Turn-Left ")
	require.NoError(t, err)
	assert.Equal(t, TurnLeft, got)

	got, err = ParseCommand("none")
	require.NoError(t, err)
	assert.Equal(t, Idle, got)

	_, err = ParseCommand("jump")
	assert.Error(t, err)
}

func TestCommand_Moving(t *testing.T) {
	assert.True(t, Forward.Moving())
	assert.True(t, Backward.Moving())
	assert.True(t, TurnLeft.Moving())
	assert.True(t, TurnRight.Moving())
	assert.False(t, Stop.Moving())
	assert.False(t, Idle.Moving())
	assert.Equal(t, "command(42)", Command(42).String())
}

func TestKeyCommand(t *testing.T) {
	tests := map[string]Command{
		"w": Forward, "x": Backward, "a": TurnLeft, "d": TurnRight, "s": Stop, " ": Stop,
	}
	for key, want := range tests {
		got, ok := KeyCommand(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	_, ok := KeyCommand("q")
	assert.False(t, ok)
}

func TestLatch(t *testing.T) {
	var l Latch
	assert.Equal(t, Idle, l.Poll())
	l.Set(TurnRight)
	assert.Equal(t, TurnRight, l.Poll())
	assert.Equal(t, TurnRight, l.Poll())
}

func TestScript(t *testing.T) {
	var logs bytes.Buffer
	src := "# warm up\nforward 3\n\njump\nturn_left\nbackward zero\nstop 2\n"

	s, err := NewScript(strings.NewReader(src), log.New(&logs))
	require.NoError(t, err)
	assert.Equal(t, 6, s.Len())

	var got []Command
	for !s.Done() {
		got = append(got, s.Poll())
	}
	assert.Equal(t, []Command{Forward, Forward, Forward, TurnLeft, Stop, Stop}, got)
	assert.Equal(t, Stop, s.Poll())

	assert.Equal(t, 2, strings.Count(logs.String(), "ignoring script line"))
}

func TestStatic(t *testing.T) {
	var src Source = Static(Forward)
	assert.Equal(t, Forward, src.Poll())
}
