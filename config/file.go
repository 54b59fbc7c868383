package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

// fileConfig mirrors Config in file form. Nil fields were absent from the file and keep
// their current value.
type fileConfig struct {
	InstrumentName     *string `toml:"instrument_name" yaml:"instrument_name"`
	Address            *string `toml:"address" yaml:"address"`
	Backend            *string `toml:"backend" yaml:"backend"`
	GateChannel        *int    `toml:"gate_channel" yaml:"gate_channel"`
	DrainChannel       *int    `toml:"drain_channel" yaml:"drain_channel"`
	UseFactoryLimits   *bool   `toml:"use_factory_limits" yaml:"use_factory_limits"`
	FakeInstrumentMode *bool   `toml:"fake_instrument_mode" yaml:"fake_instrument_mode"`

	Ramp      *fileRamp      `toml:"ramp" yaml:"ramp"`
	Transport *fileTransport `toml:"transport" yaml:"transport"`
	Log       *fileLog       `toml:"log" yaml:"log"`
}

type fileRamp struct {
	Step            *float64 `toml:"step" yaml:"step"`
	Delay           *string  `toml:"delay" yaml:"delay"`
	GateTarget      *float64 `toml:"gate_target" yaml:"gate_target"`
	DrainTarget     *float64 `toml:"drain_target" yaml:"drain_target"`
	VerifyTolerance *float64 `toml:"verify_tolerance" yaml:"verify_tolerance"`
}

type fileTransport struct {
	DialTimeout   *string `toml:"dial_timeout" yaml:"dial_timeout"`
	IOTimeout     *string `toml:"io_timeout" yaml:"io_timeout"`
	Terminator    *string `toml:"terminator" yaml:"terminator"`
	ResyncCommand *string `toml:"resync_command" yaml:"resync_command"`
}

type fileLog struct {
	Level      *string `toml:"level" yaml:"level"`
	File       *string `toml:"file" yaml:"file"`
	MaxSizeMB  *int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups *int    `toml:"max_backups" yaml:"max_backups"`
}

func decodeTOML(cfg *Config, data []byte) error {
	var raw fileConfig
	meta, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw)
	if err != nil {
		return err
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}

		return fmt.Errorf("unknown option(s): %s", strings.Join(keys, ", "))
	}

	return raw.overlay(cfg)
}

func decodeYAML(cfg *Config, data []byte) error {
	var raw fileConfig
	if err := yaml.UnmarshalStrict(data, &raw); err != nil {
		return err
	}

	return raw.overlay(cfg)
}

func (f *fileConfig) overlay(cfg *Config) error {
	setString(&cfg.InstrumentName, f.InstrumentName)
	setString(&cfg.Address, f.Address)
	if f.Backend != nil {
		cfg.Backend = strings.ToLower(strings.TrimSpace(*f.Backend))
	}
	setValue(&cfg.GateChannel, f.GateChannel)
	setValue(&cfg.DrainChannel, f.DrainChannel)
	setValue(&cfg.UseFactoryLimits, f.UseFactoryLimits)
	setValue(&cfg.FakeInstrumentMode, f.FakeInstrumentMode)

	if r := f.Ramp; r != nil {
		setValue(&cfg.Ramp.Step, r.Step)
		setValue(&cfg.Ramp.GateTarget, r.GateTarget)
		setValue(&cfg.Ramp.DrainTarget, r.DrainTarget)
		setValue(&cfg.Ramp.VerifyTolerance, r.VerifyTolerance)
		if err := setDuration(&cfg.Ramp.Delay, r.Delay, "ramp.delay"); err != nil {
			return err
		}
	}

	if t := f.Transport; t != nil {
		if err := setDuration(&cfg.Transport.DialTimeout, t.DialTimeout, "transport.dial_timeout"); err != nil {
			return err
		}
		if err := setDuration(&cfg.Transport.IOTimeout, t.IOTimeout, "transport.io_timeout"); err != nil {
			return err
		}
		if t.Terminator != nil {
			cfg.Transport.Terminator = *t.Terminator
		}
		setString(&cfg.Transport.ResyncCommand, t.ResyncCommand)
	}

	if l := f.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		setString(&cfg.Log.File, l.File)
		setValue(&cfg.Log.MaxSizeMB, l.MaxSizeMB)
		setValue(&cfg.Log.MaxBackups, l.MaxBackups)
	}

	return nil
}

func fromConfig(cfg *Config) *fileConfig {
	delay := cfg.Ramp.Delay.String()
	dial := cfg.Transport.DialTimeout.String()
	io := cfg.Transport.IOTimeout.String()

	return &fileConfig{
		InstrumentName:     &cfg.InstrumentName,
		Address:            &cfg.Address,
		Backend:            &cfg.Backend,
		GateChannel:        &cfg.GateChannel,
		DrainChannel:       &cfg.DrainChannel,
		UseFactoryLimits:   &cfg.UseFactoryLimits,
		FakeInstrumentMode: &cfg.FakeInstrumentMode,
		Ramp: &fileRamp{
			Step:            &cfg.Ramp.Step,
			Delay:           &delay,
			GateTarget:      &cfg.Ramp.GateTarget,
			DrainTarget:     &cfg.Ramp.DrainTarget,
			VerifyTolerance: &cfg.Ramp.VerifyTolerance,
		},
		Transport: &fileTransport{
			DialTimeout:   &dial,
			IOTimeout:     &io,
			Terminator:    &cfg.Transport.Terminator,
			ResyncCommand: &cfg.Transport.ResyncCommand,
		},
		Log: &fileLog{
			Level:      &cfg.Log.Level,
			File:       &cfg.Log.File,
			MaxSizeMB:  &cfg.Log.MaxSizeMB,
			MaxBackups: &cfg.Log.MaxBackups,
		},
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, key string) error {
	if src == nil {
		return nil
	}

	d, err := time.ParseDuration(strings.TrimSpace(*src))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d

	return nil
}
