package sim

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-scpi/logger"
)

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

func parseFloat(t *testing.T, s string) float64 {
	t.Helper()
	v, err := strconv.ParseFloat(s, 64)
	require.NoError(t, err, "response %q", s)

	return v
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"MEASure:VOLTage?", "MEAS:VOLT?"},
		{"meas:volt?", "MEAS:VOLT?"},
		{"SOURce:VOLTage:LEVel:IMMediate:AMPLitude", "VOLT"},
		{"OUTPut:STATe", "OUTP"},
		{"OUTPut:PROTection:CLEar", "OUTP:PROT:CLE"},
		{"SYSTem:ERRor?", "SYST:ERR?"},
		{"SYST:BEEP:IMM", "SYST:BEEP"},
		{"*idn?", "*IDN?"},
		{":INSTrument:NSELect", "INST:NSEL"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeHeader(tt.in))
		})
	}
}

func TestParseChanList(t *testing.T) {
	chans, err := parseChanList("(@1)")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, chans)

	chans, err = parseChanList("(@1,3)")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, chans)

	chans, err = parseChanList("(@1:3)")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, chans)

	for _, bad := range []string{"1", "(@)", "(@a)", "(@3:1)", "@1"} {
		_, err := parseChanList(bad)
		assert.Error(t, err, bad)
	}
}

func TestInstrument_PowerOnState(t *testing.T) {
	require := require.New(t)

	inst := NewInstrument("psu")
	require.Equal(DefaultIdentity, inst.Exec("*IDN?"))

	for ch := 1; ch <= NumChannels; ch++ {
		st := inst.Channel(ch)
		require.False(st.Output)
		require.Zero(st.Voltage)
		require.Equal(ratings[ch].maxCurrent, st.CurrentLimit)
	}
	require.Equal(`+0,"No error"`, inst.Exec("SYST:ERR?"))
}

func TestInstrument_ApplyAndMeasure(t *testing.T) {
	require := require.New(t)

	inst := NewInstrument("psu", WithLoad(2, 40))
	inst.Exec("APPL CH2,0.7,0.05")
	inst.Exec("OUTP ON,(@2)")

	require.InDelta(0.7, parseFloat(t, inst.Exec("MEAS:VOLT? (@2)")), 1e-9)
	require.InDelta(0.7/40, parseFloat(t, inst.Exec("MEAS:CURR? (@2)")), 1e-9)
	require.Equal("1", inst.Exec("OUTP? (@2)"))
	require.Equal("0", inst.Exec("OUTP? (@1)"))
	require.Equal("0,1,0", inst.Exec("OUTP? (@1:3)"))
}

func TestInstrument_ConstantCurrentLimit(t *testing.T) {
	require := require.New(t)

	inst := NewInstrument("psu", WithLoad(1, 70))
	inst.Exec("APPL CH1,1.1,0.005")
	inst.Exec("OUTP ON,(@1)")

	require.InDelta(0.005, parseFloat(t, inst.Exec("MEAS:CURR? (@1)")), 1e-9)
	require.InDelta(0.35, parseFloat(t, inst.Exec("MEAS:VOLT? (@1)")), 1e-9)
}

func TestInstrument_MeasureWithOutputOff(t *testing.T) {
	inst := NewInstrument("psu")
	inst.Exec("APPL CH1,1.0,0.005")

	assert.Zero(t, parseFloat(t, inst.Exec("MEAS:VOLT? (@1)")))
	assert.Zero(t, parseFloat(t, inst.Exec("MEAS:CURR? (@1)")))
}

func TestInstrument_SelectedChannelCommands(t *testing.T) {
	require := require.New(t)

	inst := NewInstrument("psu")
	inst.Exec("INST:NSEL 3")
	require.Equal("3", inst.Exec("INST:NSEL?"))

	inst.Exec("VOLT 2.5")
	inst.Exec("CURR 0.1")
	inst.Exec("OUTP ON")

	st := inst.Channel(3)
	require.Equal(2.5, st.Voltage)
	require.Equal(0.1, st.CurrentLimit)
	require.True(st.Output)
	require.False(inst.Channel(1).Output)
}

func TestInstrument_ErrorQueue(t *testing.T) {
	require := require.New(t)

	inst := NewInstrument("psu")
	inst.Exec("APPL CH1,7.0,0.1")
	inst.Exec("FOO:BAR 1")
	require.Equal(2, inst.ErrorQueueLen())

	require.Equal(`-222,"Data out of range"`, inst.Exec("SYST:ERR?"))
	require.Equal(`-113,"Undefined header"`, inst.Exec("SYST:ERR?"))
	require.Equal(`+0,"No error"`, inst.Exec("SYST:ERR?"))

	// rejected command leaves state untouched
	require.Zero(inst.Channel(1).Voltage)

	inst.Exec("VOLT 1,(@4)")
	require.Equal(1, inst.ErrorQueueLen())
	inst.Exec("*CLS")
	require.Zero(inst.ErrorQueueLen())
}

func TestInstrument_ErrorQueueOverflow(t *testing.T) {
	inst := NewInstrument("psu")
	for i := 0; i < maxErrorQueue+5; i++ {
		inst.Exec("BOGUS")
	}

	require.Equal(t, maxErrorQueue, inst.ErrorQueueLen())
	for i := 0; i < maxErrorQueue-1; i++ {
		inst.Exec("SYST:ERR?")
	}
	assert.Equal(t, `-350,"Error queue overflow"`, inst.Exec("SYST:ERR?"))
}

func TestInstrument_ProtectionTrip(t *testing.T) {
	require := require.New(t)

	inst := NewInstrument("psu")
	inst.Exec("OUTP ON,(@2)")
	inst.Trip(2)

	require.False(inst.Channel(2).Output)
	require.Equal("1", inst.Exec("OUTP:PROT:TRIP? (@2)"))

	inst.Exec("OUTP ON,(@2)")
	require.False(inst.Channel(2).Output, "tripped output stays off")

	inst.Exec("OUTP:PROT:CLE (@2)")
	inst.Exec("OUTP ON,(@2)")
	require.True(inst.Channel(2).Output)
}

func TestInstrument_Reset(t *testing.T) {
	inst := NewInstrument("psu")
	inst.Exec("APPL CH2,3.0,0.5")
	inst.Exec("OUTP ON,(@1:3)")
	inst.Exec("*RST")

	for ch := 1; ch <= NumChannels; ch++ {
		st := inst.Channel(ch)
		assert.False(t, st.Output)
		assert.Zero(t, st.Voltage)
	}
}

func TestInstrument_Sag(t *testing.T) {
	inst := NewInstrument("psu", WithLoad(2, 40))
	inst.Exec("APPL CH2,0.7,0.05")
	inst.Exec("OUTP ON,(@2)")
	inst.SetSag(2, 0.2)

	assert.InDelta(t, 0.5, parseFloat(t, inst.Exec("MEAS:VOLT? (@2)")), 1e-9)
}

func TestInstrument_Faults(t *testing.T) {
	require := require.New(t)

	inst := NewInstrument("psu")
	inst.InjectFault(Fault{Kind: FaultStaleSession, Match: "MEASure:VOLTage?", Count: 2})
	inst.InjectFault(Fault{Kind: FaultDeviceError, Match: "VOLT"})
	require.Equal(3, inst.PendingFaults())

	// non matching command passes
	_, err := inst.handle("*IDN?", true)
	require.NoError(err)

	_, err = inst.handle("MEAS:VOLT? (@1)", true)
	require.ErrorIs(err, errStale)
	_, err = inst.handle("MEAS:VOLT? (@1)", true)
	require.ErrorIs(err, errStale)
	_, err = inst.handle("MEAS:VOLT? (@1)", true)
	require.NoError(err)

	_, err = inst.handle("VOLT 1,(@1)", false)
	require.NoError(err)
	require.Zero(inst.Channel(1).Voltage, "faulted command is not executed")
	require.Equal(`-222,"Data out of range"`, inst.Exec("SYST:ERR?"))
	require.Zero(inst.PendingFaults())

	inst.InjectFault(Fault{Kind: FaultIO})
	inst.ClearFaults()
	require.Zero(inst.PendingFaults())
}

func TestInstrument_Records(t *testing.T) {
	inst := NewInstrument("psu")

	_, _ = inst.handle("*IDN?", true)
	_, _ = inst.handle("OUTP ON,(@1)", false)
	_, _ = inst.handle("MEAS:VOLT? (@1)", true)

	assert.Equal(t, []Record{
		{Query: true, Command: "*IDN?"},
		{Query: false, Command: "OUTP ON,(@1)"},
		{Query: true, Command: "MEAS:VOLT? (@1)"},
	}, inst.Records())
	assert.Equal(t, []string{"OUTP ON,(@1)"}, inst.Writes())

	inst.ResetRecords()
	assert.Empty(t, inst.Records())
}

func TestFaultKind_String(t *testing.T) {
	assert.Equal(t, "stale-session", FaultStaleSession.String())
	assert.Equal(t, "io", FaultIO.String())
	assert.Equal(t, "device-error", FaultDeviceError.String())
	assert.Equal(t, "FaultKind(9)", FaultKind(9).String())
}

func TestParseFaultKind(t *testing.T) {
	for _, k := range []FaultKind{FaultStaleSession, FaultIO, FaultDeviceError} {
		got, err := ParseFaultKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseFaultKind("meltdown")
	require.ErrorContains(t, err, `unknown fault kind "meltdown"`)
}
