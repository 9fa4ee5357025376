package robot

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

const DefaultConfigFile = "octoleg.json"

// Servo bus protocols.
const (
	ProtocolDynamixel = "dynamixel"
	ProtocolSTS       = "sts"
)

// Config holds the robot configuration
type Config struct {
	Bus         BusConfig    `json:"bus"`
	Hz          int          `json:"hz"`
	Gait        GaitConfig   `json:"gait"`
	Servo       ServoConfig  `json:"servo"`
	Safety      SafetyConfig `json:"safety"`
	Calibration Calibration  `json:"calibration,omitempty"`
}

// BusConfig holds the servo bus settings
type BusConfig struct {
	Port     string   `json:"port"`
	Baud     int      `json:"baud"`
	Protocol string   `json:"protocol"`
	Timeout  Duration `json:"timeout"`
}

// GaitConfig holds the trot oscillator parameters. NeutralHold is how long
// the robot stands at the neutral pose before the gait starts.
type GaitConfig struct {
	SwingDeg      float64  `json:"swing_deg"`
	PhaseDuration Duration `json:"phase_duration"`
	TurnBias      float64  `json:"turn_bias"`
	NeutralHold   Duration `json:"neutral_hold"`
}

// ServoConfig holds the speed and torque limits written to every joint
// when a stream starts. A zero speed means full speed without speed
// control.
type ServoConfig struct {
	NormalSpeed  int `json:"normal_speed"`
	NormalTorque int `json:"normal_torque"`
}

// SafetyConfig holds the safety stop trigger settings. A zero
// MaxConsecutiveFailures disables the failure trigger.
type SafetyConfig struct {
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
}

// DefaultConfig returns the configuration the robot was built with.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Port:     "/dev/ttyUSB0",
			Baud:     57600,
			Protocol: ProtocolDynamixel,
			Timeout:  Duration(50 * time.Millisecond),
		},
		Hz: 50,
		Gait: GaitConfig{
			SwingDeg:      30,
			PhaseDuration: Duration(500 * time.Millisecond),
			TurnBias:      0.5,
			NeutralHold:   Duration(time.Second),
		},
		Servo: ServoConfig{
			NormalSpeed:  0,
			NormalTorque: MaxPosition,
		},
	}
}

// IsCalibrated returns true if every joint has calibration data. A fresh
// configuration has none until setup trims the neutral stance.
func (c *Config) IsCalibrated() bool {
	for _, id := range AllJoints() {
		if _, ok := c.Calibration[id]; !ok {
			return false
		}
	}
	return true
}

// Validate checks the configuration for values the control loop cannot run
// with.
func (c *Config) Validate() error {
	if c.Bus.Port == "" {
		return errors.New("bus port is required")
	}
	if c.Bus.Baud <= 0 {
		return errors.Errorf("invalid baud rate %d", c.Bus.Baud)
	}
	switch c.Bus.Protocol {
	case ProtocolDynamixel, ProtocolSTS:
	default:
		return errors.Errorf("unknown bus protocol %q", c.Bus.Protocol)
	}
	if c.Hz <= 0 {
		return errors.Errorf("invalid control rate %d Hz", c.Hz)
	}
	if c.Gait.PhaseDuration <= 0 {
		return errors.New("gait phase duration must be positive")
	}
	if c.Gait.NeutralHold < 0 {
		return errors.New("neutral hold must not be negative")
	}
	if c.Gait.TurnBias < 0 || c.Gait.TurnBias > 1 {
		return errors.Errorf("turn bias %.2f out of range [0, 1]", c.Gait.TurnBias)
	}
	if c.Servo.NormalSpeed < 0 || c.Servo.NormalSpeed > MaxPosition {
		return errors.Errorf("normal speed %d out of range [0, %d]", c.Servo.NormalSpeed, MaxPosition)
	}
	if c.Servo.NormalTorque < 0 || c.Servo.NormalTorque > MaxPosition {
		return errors.Errorf("normal torque %d out of range [0, %d]", c.Servo.NormalTorque, MaxPosition)
	}
	if c.Safety.MaxConsecutiveFailures < 0 {
		return errors.New("max consecutive failures must not be negative")
	}
	for id := range c.Calibration {
		if !id.Valid() {
			return errors.Errorf("calibration for unknown joint %d", int(id))
		}
	}
	return nil
}

// LoadConfig loads configuration from path, falling back to the defaults
// when the file does not exist yet. Any other read or parse error is
// returned.
func LoadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigFrom(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// LoadConfigFrom loads configuration from a specific file. Fields missing
// from the file keep their default values.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if a config file exists at path
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
