package sim

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/arloliu/go-scpi/logger"
)

// DefaultIdentity is the *IDN? response of a default instrument.
const DefaultIdentity = "Keysight Technologies,EDU36311A,SIM00000001,1.0.0-sim"

// NumChannels is the number of outputs of the simulated supply.
const NumChannels = 3

// rating is the hardware output range of one channel.
type rating struct {
	maxVoltage float64
	maxCurrent float64
}

var ratings = [NumChannels + 1]rating{
	{},
	{maxVoltage: 6.18, maxCurrent: 5.15},
	{maxVoltage: 30.9, maxCurrent: 1.03},
	{maxVoltage: 30.9, maxCurrent: 1.03},
}

// default loads, in ohms.
var defaultLoads = [NumChannels + 1]float64{0, 10e3, 40, 40}

// SCPI error queue entries used by the simulator.
const (
	errCodeUndefinedHeader = -113
	errCodeIllegalParam    = -224
	errCodeOutOfRange      = -222
	errCodeQueueOverflow   = -350
	maxErrorQueue          = 20
)

// ChannelState is a snapshot of one simulated output.
type ChannelState struct {
	Channel      int
	Voltage      float64 // programmed voltage
	CurrentLimit float64 // programmed current limit
	Output       bool
	Tripped      bool
	Load         float64 // ohms
	Sag          float64 // volts subtracted from measured voltage
}

// Record is a command received by the instrument.
type Record struct {
	Query   bool
	Command string
}

type deviceErr struct {
	code int
	msg  string
}

type channel struct {
	voltage float64
	current float64
	output  bool
	tripped bool
	load    float64
	sag     float64
}

// Instrument is a simulated EDU36311A. It is safe for concurrent use.
type Instrument struct {
	mu       sync.Mutex
	name     string
	identity string
	selected int
	channels [NumChannels + 1]channel
	errQueue []deviceErr
	records  []Record
	faults   []*Fault
	logger   logger.Logger
}

// InstrumentOption configures an Instrument.
type InstrumentOption func(*Instrument)

// WithIdentity sets the *IDN? response.
func WithIdentity(idn string) InstrumentOption {
	return func(i *Instrument) { i.identity = idn }
}

// WithLoad sets the resistive load of channel ch in ohms. Non-positive values are ignored.
func WithLoad(ch int, ohms float64) InstrumentOption {
	return func(i *Instrument) {
		if validChannel(ch) && ohms > 0 {
			i.channels[ch].load = ohms
		}
	}
}

// WithInstrumentLogger sets the logger used to trace received commands.
func WithInstrumentLogger(l logger.Logger) InstrumentOption {
	return func(i *Instrument) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInstrument creates a simulated supply in its power-on state: all outputs off,
// voltages at 0 V and current limits at the channel rating.
func NewInstrument(name string, opts ...InstrumentOption) *Instrument {
	inst := &Instrument{
		name:     name,
		identity: DefaultIdentity,
		logger:   logger.GetLogger(),
	}
	for ch := 1; ch <= NumChannels; ch++ {
		inst.channels[ch].load = defaultLoads[ch]
	}
	inst.powerOn()

	for _, opt := range opts {
		opt(inst)
	}

	return inst
}

// Name returns the instrument name.
func (i *Instrument) Name() string {
	return i.name
}

func (i *Instrument) powerOn() {
	i.selected = 1
	for ch := 1; ch <= NumChannels; ch++ {
		c := &i.channels[ch]
		c.voltage = 0
		c.current = ratings[ch].maxCurrent
		c.output = false
		c.tripped = false
	}
	i.errQueue = nil
}

// Channel returns a snapshot of channel ch. It panics if ch is not in 1..3.
func (i *Instrument) Channel(ch int) ChannelState {
	if !validChannel(ch) {
		panic(fmt.Sprintf("sim: invalid channel %d", ch))
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	c := i.channels[ch]

	return ChannelState{
		Channel:      ch,
		Voltage:      c.voltage,
		CurrentLimit: c.current,
		Output:       c.output,
		Tripped:      c.tripped,
		Load:         c.load,
		Sag:          c.sag,
	}
}

// SetSag makes measured voltage on ch read volts below the delivered voltage.
func (i *Instrument) SetSag(ch int, volts float64) {
	if !validChannel(ch) {
		return
	}

	i.mu.Lock()
	i.channels[ch].sag = volts
	i.mu.Unlock()
}

// Trip latches the protection of ch, which turns its output off until cleared.
func (i *Instrument) Trip(ch int) {
	if !validChannel(ch) {
		return
	}

	i.mu.Lock()
	i.channels[ch].tripped = true
	i.channels[ch].output = false
	i.mu.Unlock()
}

// Records returns a copy of the commands received so far.
func (i *Instrument) Records() []Record {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]Record, len(i.records))
	copy(out, i.records)

	return out
}

// Writes returns the non-query commands received so far.
func (i *Instrument) Writes() []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	var out []string
	for _, r := range i.records {
		if !r.Query {
			out = append(out, r.Command)
		}
	}

	return out
}

// ResetRecords clears the command log.
func (i *Instrument) ResetRecords() {
	i.mu.Lock()
	i.records = nil
	i.mu.Unlock()
}

// ErrorQueueLen returns the number of pending entries in the SCPI error queue.
func (i *Instrument) ErrorQueueLen() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return len(i.errQueue)
}

// Exec executes one command line and returns the response, if any.
//
// It bypasses fault injection and does not record the command. Tests use it to put the
// instrument into a known state.
func (i *Instrument) Exec(line string) string {
	i.mu.Lock()
	defer i.mu.Unlock()

	resp, _ := i.exec(line)

	return resp
}

// handle runs a received command under fault injection and records it.
func (i *Instrument) handle(line string, query bool) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	header, _ := splitCommand(line)
	if f := i.takeFault(header); f != nil {
		switch f.Kind {
		case FaultStaleSession:
			return "", errStale
		case FaultIO:
			return "", errIOFault
		case FaultDeviceError:
			i.records = append(i.records, Record{Query: query, Command: line})
			i.pushError(f.Code, f.Message)

			return "", nil
		}
	}

	i.records = append(i.records, Record{Query: query, Command: line})
	i.logger.Debug("sim command", "instrument", i.name, "command", line)

	resp, _ := i.exec(line)

	return resp, nil
}

func (i *Instrument) pushError(code int, msg string) {
	if len(i.errQueue) >= maxErrorQueue {
		i.errQueue[len(i.errQueue)-1] = deviceErr{code: errCodeQueueOverflow, msg: "Error queue overflow"}
		return
	}
	i.errQueue = append(i.errQueue, deviceErr{code: code, msg: msg})
}

// exec interprets one command; the returned bool reports whether it was a query.
func (i *Instrument) exec(line string) (string, bool) {
	header, args := splitCommand(line)
	query := strings.HasSuffix(header, "?")

	switch header {
	case "*IDN?":
		return i.identity, true
	case "*RST":
		i.powerOn()
	case "*CLS":
		i.errQueue = nil
	case "*OPC?":
		return "1", true
	case "SYST:ERR?", "SYST:ERR:NEXT?":
		return i.popError(), true
	case "SYST:BEEP":
	case "INST:NSEL":
		i.selectChannel(args)
	case "INST:NSEL?":
		return strconv.Itoa(i.selected), true
	case "APPL":
		i.apply(args)
	case "VOLT":
		i.setLevel(args, false)
	case "CURR":
		i.setLevel(args, true)
	case "VOLT?":
		return i.queryEach(args, func(c *channel, _ int) string { return formatFloat(c.voltage) }), true
	case "CURR?":
		return i.queryEach(args, func(c *channel, _ int) string { return formatFloat(c.current) }), true
	case "OUTP":
		i.setOutput(args)
	case "OUTP?":
		return i.queryEach(args, func(c *channel, _ int) string { return boolString(c.output) }), true
	case "MEAS:VOLT?":
		return i.queryEach(args, func(c *channel, _ int) string {
			v, _ := c.measure()
			return formatFloat(v)
		}), true
	case "MEAS:CURR?":
		return i.queryEach(args, func(c *channel, _ int) string {
			_, a := c.measure()
			return formatFloat(a)
		}), true
	case "OUTP:PROT:CLE":
		i.clearProtection(args)
	case "OUTP:PROT:TRIP?":
		return i.queryEach(args, func(c *channel, _ int) string { return boolString(c.tripped) }), true
	default:
		i.pushError(errCodeUndefinedHeader, "Undefined header")
		return "", query
	}

	return "", query
}

func (i *Instrument) popError() string {
	if len(i.errQueue) == 0 {
		return `+0,"No error"`
	}

	e := i.errQueue[0]
	i.errQueue = i.errQueue[1:]

	return fmt.Sprintf("%d,%q", e.code, e.msg)
}

func (i *Instrument) selectChannel(args string) {
	ch, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		i.pushError(errCodeIllegalParam, "Illegal parameter value")
		return
	}
	if !validChannel(ch) {
		i.pushError(errCodeOutOfRange, "Data out of range")
		return
	}
	i.selected = ch
}

// targets resolves an optional channel list, defaulting to the selected channel.
func (i *Instrument) targets(chans []int) ([]int, bool) {
	if len(chans) == 0 {
		return []int{i.selected}, true
	}
	for _, ch := range chans {
		if !validChannel(ch) {
			i.pushError(errCodeOutOfRange, "Data out of range")
			return nil, false
		}
	}

	return chans, true
}

// apply handles "APPL CHn,<volts>[,<amps>]".
func (i *Instrument) apply(args string) {
	parts := strings.Split(args, ",")
	if len(parts) < 2 || len(parts) > 3 {
		i.pushError(errCodeIllegalParam, "Illegal parameter value")
		return
	}

	name := strings.ToUpper(strings.TrimSpace(parts[0]))
	if !strings.HasPrefix(name, "CH") {
		i.pushError(errCodeIllegalParam, "Illegal parameter value")
		return
	}
	ch, err := strconv.Atoi(name[2:])
	if err != nil || !validChannel(ch) {
		i.pushError(errCodeOutOfRange, "Data out of range")
		return
	}

	volts, err := parseLevel(parts[1])
	if err != nil {
		i.pushError(errCodeIllegalParam, "Illegal parameter value")
		return
	}
	amps := i.channels[ch].current
	if len(parts) == 3 {
		if amps, err = parseLevel(parts[2]); err != nil {
			i.pushError(errCodeIllegalParam, "Illegal parameter value")
			return
		}
	}

	r := ratings[ch]
	if volts < 0 || volts > r.maxVoltage || amps < 0 || amps > r.maxCurrent {
		i.pushError(errCodeOutOfRange, "Data out of range")
		return
	}

	i.channels[ch].voltage = volts
	i.channels[ch].current = amps
}

// setLevel handles "VOLT <v>[,(@list)]" and "CURR <i>[,(@list)]".
func (i *Instrument) setLevel(args string, current bool) {
	value, chans, err := splitValueAndChans(args)
	if err != nil {
		i.pushError(errCodeIllegalParam, "Illegal parameter value")
		return
	}
	level, err := parseLevel(value)
	if err != nil {
		i.pushError(errCodeIllegalParam, "Illegal parameter value")
		return
	}

	targets, ok := i.targets(chans)
	if !ok {
		return
	}
	for _, ch := range targets {
		limit := ratings[ch].maxVoltage
		if current {
			limit = ratings[ch].maxCurrent
		}
		if level < 0 || level > limit {
			i.pushError(errCodeOutOfRange, "Data out of range")
			return
		}
	}
	for _, ch := range targets {
		if current {
			i.channels[ch].current = level
		} else {
			i.channels[ch].voltage = level
		}
	}
}

// setOutput handles "OUTP ON|OFF|1|0[,(@list)]".
func (i *Instrument) setOutput(args string) {
	value, chans, err := splitValueAndChans(args)
	if err != nil {
		i.pushError(errCodeIllegalParam, "Illegal parameter value")
		return
	}

	var on bool
	switch strings.ToUpper(value) {
	case "ON", "1":
		on = true
	case "OFF", "0":
		on = false
	default:
		i.pushError(errCodeIllegalParam, "Illegal parameter value")
		return
	}

	targets, ok := i.targets(chans)
	if !ok {
		return
	}
	for _, ch := range targets {
		c := &i.channels[ch]
		if on && c.tripped {
			continue
		}
		c.output = on
	}
}

func (i *Instrument) clearProtection(args string) {
	var chans []int
	if strings.TrimSpace(args) != "" {
		var err error
		if chans, err = parseChanList(args); err != nil {
			i.pushError(errCodeIllegalParam, "Illegal parameter value")
			return
		}
	}

	targets, ok := i.targets(chans)
	if !ok {
		return
	}
	for _, ch := range targets {
		i.channels[ch].tripped = false
	}
}

// queryEach formats fn for every channel of an optional "(@list)" argument.
func (i *Instrument) queryEach(args string, fn func(*channel, int) string) string {
	var chans []int
	if strings.TrimSpace(args) != "" {
		var err error
		if chans, err = parseChanList(args); err != nil {
			i.pushError(errCodeIllegalParam, "Illegal parameter value")
			return ""
		}
	}

	targets, ok := i.targets(chans)
	if !ok {
		return ""
	}

	out := make([]string, 0, len(targets))
	for _, ch := range targets {
		out = append(out, fn(&i.channels[ch], ch))
	}

	return strings.Join(out, ",")
}

// measure returns the delivered voltage and current into the resistive load.
// The output enters constant-current mode when the load would draw more than the limit.
func (c *channel) measure() (float64, float64) {
	if !c.output || c.load <= 0 {
		return 0, 0
	}

	volts := c.voltage
	amps := volts / c.load
	if amps > c.current {
		amps = c.current
		volts = amps * c.load
	}

	volts -= c.sag
	if volts < 0 {
		volts = 0
	}

	return volts, amps
}

func parseLevel(s string) (float64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "MIN", "MINIMUM":
		return 0, nil
	}

	return strconv.ParseFloat(s, 64)
}

func validChannel(ch int) bool {
	return ch >= 1 && ch <= NumChannels
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'E', 8, 64)
}

func boolString(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
