package psu

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/scpi"
	"github.com/arloliu/go-scpi/sim"
	"github.com/arloliu/go-scpi/transport"
)

const testAddress = "SIM::hemt-psu::INSTR"

func TestMain(m *testing.M) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func newTestSupply(t *testing.T, opts ...Option) (*EDU36311A, *sim.Instrument) {
	t.Helper()

	backend := sim.NewBackend(nil)
	reg, err := transport.NewRegistry(transport.WithBackend(backend))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.CloseAll() })

	sess, err := reg.Open(testAddress, sim.BackendID)
	require.NoError(t, err)
	client, err := scpi.NewClient(sess)
	require.NoError(t, err)

	inst, err := backend.Instrument(testAddress)
	require.NoError(t, err)

	supply, err := NewEDU36311A(client, opts...)
	require.NoError(t, err)

	return supply, inst
}

func TestNewEDU36311A(t *testing.T) {
	require := require.New(t)

	_, err := NewEDU36311A(nil)
	require.ErrorIs(err, ErrClientNil)

	supply, inst := newTestSupply(t)
	require.Equal(DefaultName, supply.Name())
	require.Equal(UserProfile, supply.Profile())
	require.Equal([]int{1, 2, 3}, supply.Channels())
	require.Empty(inst.Records(), "construction sends no command")

	ch1, err := supply.Channel(1)
	require.NoError(err)
	require.Equal(0.0, ch1.Voltage)
	require.Equal(0.005, ch1.CurrentLimit)
	ch2, err := supply.Channel(2)
	require.NoError(err)
	require.Equal(0.05, ch2.CurrentLimit)

	_, err = supply.Channel(4)
	require.ErrorIs(err, ErrInvalidChannel)

	_, err = NewEDU36311A(supply.Client(), WithName(""))
	require.Error(err)
	_, err = NewEDU36311A(supply.Client(), WithLogger(nil))
	require.Error(err)
}

func TestEDU36311A_Profiles(t *testing.T) {
	tests := []struct {
		name    string
		factory bool
		ch      int
		want    Limits
	}{
		{"user gate", false, 1, Limits{Voltage: Bounds{0, 6.18}, Current: Bounds{0, 0.005}}},
		{"user drain", false, 2, Limits{Voltage: Bounds{0, 30.9}, Current: Bounds{0, 0.05}}},
		{"user ch3", false, 3, Limits{Voltage: Bounds{0, 30.9}, Current: Bounds{0, 1.03}}},
		{"factory ch1", true, 1, Limits{Voltage: Bounds{0, 6.18}, Current: Bounds{0.002, 5.15}}},
		{"factory ch2", true, 2, Limits{Voltage: Bounds{0, 30.9}, Current: Bounds{0.001, 1.03}}},
		{"factory ch3", true, 3, Limits{Voltage: Bounds{0, 30.9}, Current: Bounds{0.001, 1.03}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			supply, _ := newTestSupply(t, WithFactoryLimits(tt.factory), WithName("psu"))
			lim, err := supply.Limits(tt.ch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lim)

			ch, err := supply.Channel(tt.ch)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Voltage.Min, ch.Voltage)
			assert.Equal(t, tt.want.Current.Max, ch.CurrentLimit)
		})
	}

	assert.Equal(t, "user", UserProfile.String())
	assert.Equal(t, "factory", FactoryProfile.String())
	assert.Equal(t, "Profile(7)", Profile(7).String())
}

func TestEDU36311A_SetVoltage(t *testing.T) {
	require := require.New(t)

	supply, inst := newTestSupply(t)

	require.NoError(supply.SetVoltage(1, 1.23456))
	require.Equal([]string{"APPL CH1,1.2346,0.005"}, inst.Writes())
	require.Equal([]sim.Record{
		{Query: false, Command: "APPL CH1,1.2346,0.005"},
		{Query: true, Command: "SYST:ERR?"},
		{Query: true, Command: "MEAS:VOLT? (@1)"},
		{Query: true, Command: "MEAS:CURR? (@1)"},
	}, inst.Records())

	ch, err := supply.Channel(1)
	require.NoError(err)
	require.Equal(1.2346, ch.Voltage)
	require.Equal(1.2346, inst.Channel(1).Voltage)
	require.Equal(0.005, inst.Channel(1).CurrentLimit)
}

func TestEDU36311A_SetVoltageOutOfRangeSendsNothing(t *testing.T) {
	tests := []struct {
		name string
		ch   int
		v    float64
	}{
		{"negative", 1, -0.1},
		{"above gate max", 1, 6.2},
		{"above drain max", 2, 31},
		{"nan", 2, math.NaN()},
		{"inf", 3, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			supply, inst := newTestSupply(t)

			err := supply.SetVoltage(tt.ch, tt.v)
			require.ErrorIs(t, err, ErrOutOfRange)

			var rangeErr *OutOfRangeError
			require.ErrorAs(t, err, &rangeErr)
			assert.Equal(t, tt.ch, rangeErr.Channel)
			assert.Equal(t, QuantityVoltage, rangeErr.Quantity)
			assert.Equal(t, UserProfile, rangeErr.Profile)
			assert.Contains(t, err.Error(), "user limits")

			assert.Empty(t, inst.Records())
		})
	}
}

func TestEDU36311A_InvalidChannel(t *testing.T) {
	require := require.New(t)

	supply, inst := newTestSupply(t)

	require.ErrorIs(supply.SetVoltage(0, 1), ErrInvalidChannel)
	require.ErrorIs(supply.SetCurrentLimit(4, 0.001), ErrInvalidChannel)
	require.ErrorIs(supply.SetOutput(true, 1, 4), ErrInvalidChannel)
	require.ErrorIs(supply.Reset(2, 9), ErrInvalidChannel)
	require.ErrorIs(supply.ClearProtection(5), ErrInvalidChannel)

	_, err := supply.Voltage(4)
	require.ErrorIs(err, ErrInvalidChannel)
	_, err = supply.Current(-1)
	require.ErrorIs(err, ErrInvalidChannel)
	_, err = supply.Output(0)
	require.ErrorIs(err, ErrInvalidChannel)
	_, err = supply.Limits(4)
	require.ErrorIs(err, ErrInvalidChannel)

	require.Empty(inst.Records())
}

func TestEDU36311A_SetCurrentLimit(t *testing.T) {
	require := require.New(t)

	supply, inst := newTestSupply(t)

	require.NoError(supply.SetVoltage(2, 0.7))
	require.NoError(supply.SetCurrentLimit(2, 0.02))
	require.NoError(supply.SetVoltage(2, 0.5))

	require.Equal([]string{
		"APPL CH2,0.7,0.05",
		"APPL CH2,0.7,0.02",
		"APPL CH2,0.5,0.02",
	}, inst.Writes())

	err := supply.SetCurrentLimit(2, 0.06)
	var rangeErr *OutOfRangeError
	require.ErrorAs(err, &rangeErr)
	require.Equal(QuantityCurrent, rangeErr.Quantity)
	require.Contains(err.Error(), "A")
}

func TestEDU36311A_DeviceErrorKeepsCache(t *testing.T) {
	require := require.New(t)

	supply, inst := newTestSupply(t)
	inst.InjectFault(sim.Fault{Kind: sim.FaultDeviceError, Match: "APPL"})

	err := supply.SetVoltage(1, 1.0)
	var devErr *scpi.DeviceError
	require.ErrorAs(err, &devErr)

	ch, err := supply.Channel(1)
	require.NoError(err)
	require.Zero(ch.Voltage)
}

func TestEDU36311A_SetOutputAllChannels(t *testing.T) {
	require := require.New(t)

	supply, inst := newTestSupply(t)

	require.NoError(supply.SetOutput(true))
	require.Equal([]string{"OUTP ON,(@1)", "OUTP ON,(@2)", "OUTP ON,(@3)"}, inst.Writes())

	states, err := supply.Outputs()
	require.NoError(err)
	require.Equal(map[int]bool{1: true, 2: true, 3: true}, states)

	inst.ResetRecords()
	require.NoError(supply.SetOutput(false, 2))
	require.Equal([]string{"OUTP OFF,(@2)"}, inst.Writes())

	on, err := supply.Output(2)
	require.NoError(err)
	require.False(on)

	ch, err := supply.Channel(1)
	require.NoError(err)
	require.True(ch.Output)
}

func TestEDU36311A_OutputQueriesDoNotWrite(t *testing.T) {
	supply, inst := newTestSupply(t)

	_, err := supply.Output(1)
	require.NoError(t, err)
	_, err = supply.Outputs()
	require.NoError(t, err)

	assert.Empty(t, inst.Writes())
	assert.Len(t, inst.Records(), 4)
}

func TestEDU36311A_Reset(t *testing.T) {
	require := require.New(t)

	supply, inst := newTestSupply(t)
	require.NoError(supply.SetOutput(true))
	require.NoError(supply.SetVoltage(1, 1.1))
	require.NoError(supply.SetVoltage(2, 0.7))
	require.NoError(supply.SetVoltage(3, 2.0))
	inst.Trip(2)

	inst.ResetRecords()
	require.NoError(supply.Reset(1, 2))
	require.Equal([]string{
		"OUTP OFF,(@1)", "OUTP OFF,(@2)",
		"VOLT 0,(@1)", "VOLT 0,(@2)",
		"OUTP:PROT:CLE (@1)", "OUTP:PROT:CLE (@2)",
	}, inst.Writes())

	for _, ch := range []int{1, 2} {
		st := inst.Channel(ch)
		require.False(st.Output)
		require.Zero(st.Voltage)
		require.False(st.Tripped)
	}

	// untouched channel
	require.True(inst.Channel(3).Output)
	require.Equal(2.0, inst.Channel(3).Voltage)

	// idempotent
	require.NoError(supply.Reset(1, 2))
	require.False(inst.Channel(1).Output)
	require.Zero(inst.Channel(2).Voltage)

	require.NoError(supply.Reset())
	require.False(inst.Channel(3).Output)
	require.Zero(inst.Channel(3).Voltage)

	cached, err := supply.Channel(3)
	require.NoError(err)
	require.False(cached.Output)
	require.Zero(cached.Voltage)
}

func TestEDU36311A_MeasureAndBeep(t *testing.T) {
	require := require.New(t)

	supply, _ := newTestSupply(t)
	require.NoError(supply.SetOutput(true, 2))
	require.NoError(supply.SetVoltage(2, 0.7))

	v, err := supply.Voltage(2)
	require.NoError(err)
	require.InDelta(0.7, v, 1e-9)

	i, err := supply.Current(2)
	require.NoError(err)
	require.InDelta(0.7/40, i, 1e-9)

	require.NoError(supply.Beep())

	idn, err := supply.Identify()
	require.NoError(err)
	require.Equal(sim.DefaultIdentity, idn)
}

func TestEDU36311A_Snapshot(t *testing.T) {
	require := require.New(t)

	supply, inst := newTestSupply(t, WithName("bench"))
	require.NoError(supply.SetOutput(true, 1))
	require.NoError(supply.SetVoltage(1, 1.1))
	inst.Exec("BOGUS")

	snap, err := supply.Snapshot()
	require.NoError(err)
	require.Equal("bench", snap.Name)
	require.Equal(sim.DefaultIdentity, snap.Identity)
	require.Equal(UserProfile, snap.Profile)
	require.Len(snap.Channels, 3)

	ch1 := snap.Channels[0]
	require.Equal(1, ch1.Index)
	require.True(ch1.Output)
	require.InDelta(1.1, ch1.MeasuredVoltage, 1e-9)
	require.Equal(1.1, ch1.Setpoint)
	require.Equal(0.005, ch1.CurrentLimit)

	require.False(snap.Channels[1].Output)
	require.Len(snap.Errors, 1)
	require.Equal(-113, snap.Errors[0].Code)
}

func TestEDU36311A_CheckVoltage(t *testing.T) {
	supply, inst := newTestSupply(t)

	require.NoError(t, supply.CheckVoltage(1, 1.1))
	require.ErrorIs(t, supply.CheckVoltage(1, 7), ErrOutOfRange)
	require.ErrorIs(t, supply.CheckVoltage(9, 1), ErrInvalidChannel)
	assert.Empty(t, inst.Records())
}
