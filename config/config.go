// Package config loads the HEMT bias controller configuration from TOML or YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend identifiers accepted in configuration.
const (
	BackendTCP = "tcp"
	BackendSim = "sim"
)

// Environment variables overriding file values.
const (
	EnvAddress  = "HEMT_ADDRESS"
	EnvBackend  = "HEMT_BACKEND"
	EnvLogLevel = "HEMT_LOG_LEVEL"
	EnvFakeMode = "HEMT_FAKE_INSTRUMENT"
)

var (
	// ErrUnsupportedFormat indicates a file extension other than .toml, .yaml or .yml.
	ErrUnsupportedFormat = errors.New("config: unsupported file format")

	// ErrInvalid is wrapped by every validation failure.
	ErrInvalid = errors.New("config: invalid configuration")
)

// Config is the complete controller configuration.
type Config struct {
	InstrumentName     string
	Address            string
	Backend            string
	GateChannel        int
	DrainChannel       int
	UseFactoryLimits   bool
	FakeInstrumentMode bool

	Ramp      RampConfig
	Transport TransportConfig
	Log       LogConfig
}

// RampConfig holds the default bias sequence.
type RampConfig struct {
	Step            float64
	Delay           time.Duration
	GateTarget      float64
	DrainTarget     float64
	VerifyTolerance float64
}

// TransportConfig holds session settings.
type TransportConfig struct {
	DialTimeout   time.Duration
	IOTimeout     time.Duration
	Terminator    string
	ResyncCommand string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		InstrumentName: "hemt-psu",
		Backend:        BackendTCP,
		GateChannel:    1,
		DrainChannel:   2,
		Ramp: RampConfig{
			Step:        0.02,
			Delay:       8 * time.Millisecond,
			GateTarget:  1.1,
			DrainTarget: 0.7,
		},
		Transport: TransportConfig{
			DialTimeout: 3 * time.Second,
			IOTimeout:   5 * time.Second,
			Terminator:  "\n",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 5,
		},
	}
}

// EffectiveBackend returns the backend to open: BackendSim in fake instrument mode,
// otherwise Backend.
func (c *Config) EffectiveBackend() string {
	if c.FakeInstrumentMode {
		return BackendSim
	}

	return c.Backend
}

// EffectiveAddress returns Address, or a simulator address derived from InstrumentName when
// fake instrument mode is on and no address is configured.
func (c *Config) EffectiveAddress() string {
	if c.Address == "" && c.FakeInstrumentMode {
		return "SIM0::" + c.InstrumentName + "::INSTR"
	}

	return c.Address
}

// Validate checks the configuration for values the controller cannot run with.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if strings.TrimSpace(c.InstrumentName) == "" {
		add("instrument_name is empty")
	}
	if c.EffectiveAddress() == "" {
		add("address is required unless fake_instrument_mode is set")
	}
	switch c.EffectiveBackend() {
	case BackendTCP, BackendSim:
	default:
		add("backend %q, must be %q or %q", c.Backend, BackendTCP, BackendSim)
	}

	if c.GateChannel < 1 || c.GateChannel > 3 {
		add("gate_channel %d outside [1, 3]", c.GateChannel)
	}
	if c.DrainChannel < 1 || c.DrainChannel > 3 {
		add("drain_channel %d outside [1, 3]", c.DrainChannel)
	}
	if c.GateChannel == c.DrainChannel {
		add("gate_channel and drain_channel are both %d", c.GateChannel)
	}

	if c.Ramp.Step <= 0 || c.Ramp.Step > 1 {
		add("ramp.step %g outside (0, 1]", c.Ramp.Step)
	}
	if c.Ramp.Delay < 0 || c.Ramp.Delay > time.Minute {
		add("ramp.delay %s outside [0s, 1m]", c.Ramp.Delay)
	}
	if c.Ramp.GateTarget < 0 || c.Ramp.DrainTarget < 0 {
		add("ramp targets must not be negative")
	}
	if c.Ramp.VerifyTolerance < 0 || c.Ramp.VerifyTolerance > 1 {
		add("ramp.verify_tolerance %g outside [0, 1]", c.Ramp.VerifyTolerance)
	}

	if c.Transport.DialTimeout <= 0 || c.Transport.IOTimeout <= 0 {
		add("transport timeouts must be positive")
	}
	if c.Transport.Terminator != "\n" && c.Transport.Terminator != "\r\n" {
		add("transport.terminator must be \\n or \\r\\n")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		add("log.level %q", c.Log.Level)
	}

	return errors.Join(errs...)
}

// Load reads path, overlays it on Default, applies environment overrides and validates the
// result. The format follows the file extension. An empty path loads only the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			err = decodeTOML(cfg, data)
		case ".yaml", ".yml":
			err = decodeYAML(cfg, data)
		default:
			err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
		}
		if err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	ApplyEnv(cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with the HEMT_* environment variables read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAddress)); v != "" {
		cfg.Address = v
	}
	if v := strings.TrimSpace(getenv(EnvBackend)); v != "" {
		cfg.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	switch strings.ToLower(strings.TrimSpace(getenv(EnvFakeMode))) {
	case "1", "true", "yes", "on":
		cfg.FakeInstrumentMode = true
	case "0", "false", "no", "off":
		cfg.FakeInstrumentMode = false
	}
}

// Decode overlays data in the given format ("toml" or "yaml") on cfg.
func Decode(cfg *Config, format string, data []byte) error {
	switch strings.ToLower(format) {
	case "toml":
		return decodeTOML(cfg, data)
	case "yaml", "yml":
		return decodeYAML(cfg, data)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Encode writes cfg in TOML, e.g. for "hemtctl config" to print an editable template.
func Encode(cfg *Config) ([]byte, error) {
	raw := fromConfig(cfg)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
