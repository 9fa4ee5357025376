package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/gwillem/octoleg/pkg/robot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalk_IgnoredSettings(t *testing.T) {
	cfg := robot.DefaultConfig()
	cfg.Safety.MaxConsecutiveFailures = 5

	assert.Empty(t, (&WalkCommand{}).ignoredSettings(cfg))

	spawn := (&WalkCommand{Spawn: true}).ignoredSettings(cfg)
	require.Len(t, spawn, 1)
	assert.Contains(t, spawn[0], "--spawn")

	stdout := (&WalkCommand{Stdout: true, Headless: true}).ignoredSettings(cfg)
	require.Len(t, stdout, 1)
	assert.Contains(t, stdout[0], "--stdout")

	cfg.Safety.MaxConsecutiveFailures = 0
	assert.Empty(t, (&WalkCommand{Spawn: true}).ignoredSettings(cfg))
}

func withConfigPath(t *testing.T, path string) {
	t.Helper()
	prev := opts.Config
	opts.Config = path
	t.Cleanup(func() { opts.Config = prev })
}

func TestLoadConfig_Overrides(t *testing.T) {
	withConfigPath(t, filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := loadConfig(log.New(io.Discard), BusOptions{Port: "/dev/ttyTEST", Baud: 115200})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyTEST", cfg.Bus.Port)
	assert.Equal(t, 115200, cfg.Bus.Baud)
	assert.False(t, cfg.IsCalibrated())
}

func TestLoadConfig_BrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "octoleg.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	withConfigPath(t, path)

	_, err := loadConfig(log.New(io.Discard), BusOptions{})
	assert.Error(t, err)

	// The broken file is left alone.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}
