package psu

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/arloliu/go-scpi/internal/util"
	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/scpi"
)

// DefaultName is the instrument name used in logs when none is configured.
const DefaultName = "EDU36311A"

// EDU36311A drives a Keysight EDU36311A triple-output supply.
//
// It caches the last programmed voltage and current limit of each channel, because the APPL
// command always carries both. Bounds come from the profile selected at construction.
type EDU36311A struct {
	client  *scpi.Client
	name    string
	profile Profile
	logger  logger.Logger

	mu       sync.Mutex
	channels map[int]*Channel
}

var _ Supply = (*EDU36311A)(nil)

// Option represents a functional option for configuring an EDU36311A driver.
type Option interface {
	apply(*EDU36311A) error
}

type optFunc func(*EDU36311A) error

func (f optFunc) apply(d *EDU36311A) error { return f(d) }

// WithFactoryLimits selects the factory limit profile when enabled.
//
// The default is the user profile, which limits the gate channel to 5 mA and the drain
// channel to 50 mA.
func WithFactoryLimits(enabled bool) Option {
	return optFunc(func(d *EDU36311A) error {
		if enabled {
			d.profile = FactoryProfile
		} else {
			d.profile = UserProfile
		}

		return nil
	})
}

// WithName sets the instrument name used in log records.
//
// The default value is "EDU36311A".
func WithName(name string) Option {
	return optFunc(func(d *EDU36311A) error {
		if name == "" {
			return errors.New("psu: name is empty")
		}
		d.name = name

		return nil
	})
}

// WithLogger sets the logger of the driver.
//
// The default logger is the client logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(d *EDU36311A) error {
		if l == nil {
			return errors.New("psu: logger is nil")
		}
		d.logger = l

		return nil
	})
}

// NewEDU36311A creates a driver on client. No command is sent.
//
// Cached setpoints start at the minimum voltage and maximum current of each channel, so a
// voltage ramp is never held back by a stale current limit.
func NewEDU36311A(client *scpi.Client, opts ...Option) (*EDU36311A, error) {
	if client == nil {
		return nil, ErrClientNil
	}

	d := &EDU36311A{
		client:  client,
		name:    DefaultName,
		profile: UserProfile,
	}

	for _, opt := range opts {
		if err := opt.apply(d); err != nil {
			return nil, err
		}
	}

	if d.logger == nil {
		d.logger = client.GetLogger()
	}
	d.logger = d.logger.With("instrument", d.name)

	limits := edu36311aLimits(d.profile)
	d.channels = make(map[int]*Channel, len(limits))
	for ch, lim := range limits {
		d.channels[ch] = &Channel{
			Index:        ch,
			Voltage:      lim.Voltage.Min,
			CurrentLimit: lim.Current.Max,
			Limits:       lim,
		}
	}

	return d, nil
}

// Name returns the instrument name.
func (d *EDU36311A) Name() string { return d.name }

// Profile returns the active limit profile.
func (d *EDU36311A) Profile() Profile { return d.profile }

// GetLogger returns the logger of the driver.
func (d *EDU36311A) GetLogger() logger.Logger { return d.logger }

// Client returns the command layer the driver uses.
func (d *EDU36311A) Client() *scpi.Client { return d.client }

// Channels returns the channel indexes in ascending order.
func (d *EDU36311A) Channels() []int {
	chans := make([]int, 0, len(d.channels))
	for ch := range d.channels {
		chans = append(chans, ch)
	}
	sort.Ints(chans)

	return chans
}

// Limits returns the bounds of ch under the active profile.
func (d *EDU36311A) Limits(ch int) (Limits, error) {
	c, ok := d.channels[ch]
	if !ok {
		return Limits{}, invalidChannel(ch)
	}

	return c.Limits, nil
}

// Channel returns a copy of the cached state of ch.
func (d *EDU36311A) Channel(ch int) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.channels[ch]
	if !ok {
		return Channel{}, invalidChannel(ch)
	}

	return *c, nil
}

// Identify returns the *IDN? string of the instrument.
func (d *EDU36311A) Identify() (string, error) {
	return d.client.Identify()
}

// Beep sounds the instrument beeper.
func (d *EDU36311A) Beep() error {
	return d.client.WriteChecked("SYST:BEEP:IMM")
}

// Voltage returns the measured output voltage of ch.
func (d *EDU36311A) Voltage(ch int) (float64, error) {
	if err := d.checkChannel(ch); err != nil {
		return 0, err
	}

	return d.client.QueryFloat(fmt.Sprintf("MEAS:VOLT? (@%d)", ch))
}

// Current returns the measured output current of ch.
func (d *EDU36311A) Current(ch int) (float64, error) {
	if err := d.checkChannel(ch); err != nil {
		return 0, err
	}

	return d.client.QueryFloat(fmt.Sprintf("MEAS:CURR? (@%d)", ch))
}

// SetVoltage programs the voltage of ch.
//
// v is checked against the active voltage bounds and rounded to the supply resolution. The
// command keeps the last-known current limit of the channel, clamped into the current bounds.
// The applied voltage and current are read back and logged; a mismatch is not an error.
func (d *EDU36311A) SetVoltage(ch int, v float64) error {
	if err := d.CheckVoltage(ch, v); err != nil {
		return err
	}
	lim := d.channels[ch].Limits

	volts := util.RoundTo(v, Resolution)

	d.mu.Lock()
	amps := util.Clamp(d.channels[ch].CurrentLimit, lim.Current.Min, lim.Current.Max)
	d.mu.Unlock()

	return d.apply(ch, volts, amps)
}

// CheckVoltage reports whether SetVoltage would accept v for ch, without sending anything.
func (d *EDU36311A) CheckVoltage(ch int, v float64) error {
	lim, err := d.Limits(ch)
	if err != nil {
		return err
	}
	if !util.IsFinite(v) || !lim.Voltage.Contains(v) {
		return d.outOfRange(ch, QuantityVoltage, v, lim.Voltage)
	}

	return nil
}

// SetCurrentLimit programs the current limit of ch, keeping its last-known voltage.
func (d *EDU36311A) SetCurrentLimit(ch int, amps float64) error {
	lim, err := d.Limits(ch)
	if err != nil {
		return err
	}
	if !util.IsFinite(amps) || !lim.Current.Contains(amps) {
		return d.outOfRange(ch, QuantityCurrent, amps, lim.Current)
	}

	amps = util.RoundTo(amps, Resolution)

	d.mu.Lock()
	volts := util.Clamp(d.channels[ch].Voltage, lim.Voltage.Min, lim.Voltage.Max)
	d.mu.Unlock()

	return d.apply(ch, volts, amps)
}

func (d *EDU36311A) apply(ch int, volts, amps float64) error {
	cmd := fmt.Sprintf("APPL CH%d,%s,%s", ch, formatLevel(volts), formatLevel(amps))
	if err := d.client.WriteChecked(cmd); err != nil {
		return err
	}

	d.mu.Lock()
	d.channels[ch].Voltage = volts
	d.channels[ch].CurrentLimit = amps
	d.mu.Unlock()

	measV, err := d.Voltage(ch)
	if err != nil {
		return err
	}
	measI, err := d.Current(ch)
	if err != nil {
		return err
	}

	d.logger.Debug("channel applied",
		"channel", ch, "voltage", volts, "current_limit", amps,
		"measured_voltage", measV, "measured_current", measI,
	)

	return nil
}

// SetOutput enables or disables the outputs of channels, or of every channel when none is
// given. All channels are validated before the first command.
func (d *EDU36311A) SetOutput(enabled bool, channels ...int) error {
	chans, err := d.resolve(channels)
	if err != nil {
		return err
	}

	state := "OFF"
	if enabled {
		state = "ON"
	}

	for _, ch := range chans {
		if err := d.client.WriteChecked(fmt.Sprintf("OUTP %s,(@%d)", state, ch)); err != nil {
			return err
		}

		d.mu.Lock()
		d.channels[ch].Output = enabled
		d.mu.Unlock()

		d.logger.Info("output switched", "channel", ch, "enabled", enabled)
	}

	return nil
}

// Output queries the output state of ch.
func (d *EDU36311A) Output(ch int) (bool, error) {
	if err := d.checkChannel(ch); err != nil {
		return false, err
	}

	return d.client.QueryBool(fmt.Sprintf("OUTP? (@%d)", ch))
}

// Outputs queries the output state of every channel.
func (d *EDU36311A) Outputs() (map[int]bool, error) {
	states := make(map[int]bool, len(d.channels))
	for _, ch := range d.Channels() {
		on, err := d.Output(ch)
		if err != nil {
			return nil, err
		}
		states[ch] = on
	}

	return states, nil
}

// ClearProtection clears the over-voltage and over-current latches of ch.
func (d *EDU36311A) ClearProtection(ch int) error {
	if err := d.checkChannel(ch); err != nil {
		return err
	}

	if err := d.client.WriteChecked(fmt.Sprintf("OUTP:PROT:CLE (@%d)", ch)); err != nil {
		return err
	}
	d.logger.Info("protection cleared", "channel", ch)

	return nil
}

// Reset puts channels, or every channel when none is given, into a defined safe state:
// outputs off, then voltages at 0 V, then protection latches cleared.
//
// Reset is idempotent and touches no channel outside the list.
func (d *EDU36311A) Reset(channels ...int) error {
	chans, err := d.resolve(channels)
	if err != nil {
		return err
	}

	for _, ch := range chans {
		if err := d.client.WriteChecked(fmt.Sprintf("OUTP OFF,(@%d)", ch)); err != nil {
			return err
		}
		d.mu.Lock()
		d.channels[ch].Output = false
		d.mu.Unlock()
	}

	for _, ch := range chans {
		if err := d.client.WriteChecked(fmt.Sprintf("VOLT 0,(@%d)", ch)); err != nil {
			return err
		}
		d.mu.Lock()
		d.channels[ch].Voltage = 0
		d.mu.Unlock()
	}

	for _, ch := range chans {
		if err := d.ClearProtection(ch); err != nil {
			return err
		}
	}

	d.logger.Info("channels reset", "channels", chans)

	return nil
}

func (d *EDU36311A) checkChannel(ch int) error {
	if _, ok := d.channels[ch]; !ok {
		return invalidChannel(ch)
	}

	return nil
}

// resolve validates a channel list; an empty list means every channel.
func (d *EDU36311A) resolve(channels []int) ([]int, error) {
	if len(channels) == 0 {
		return d.Channels(), nil
	}

	for _, ch := range channels {
		if err := d.checkChannel(ch); err != nil {
			return nil, err
		}
	}

	return channels, nil
}

func (d *EDU36311A) outOfRange(ch int, q Quantity, v float64, b Bounds) error {
	err := &OutOfRangeError{Channel: ch, Quantity: q, Value: v, Bounds: b, Profile: d.profile}
	d.logger.Error("setpoint rejected", "channel", ch, "quantity", string(q), "value", v, "error", err)

	return err
}

func formatLevel(v float64) string {
	if v == 0 {
		// avoid "-0"
		v = math.Abs(v)
	}

	return strconv.FormatFloat(v, 'f', -1, 64)
}
