package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{name: "debug", input: "debug", expected: DebugLevel},
		{name: "upper case info", input: "INFO", expected: InfoLevel},
		{name: "empty defaults to info", input: "", expected: InfoLevel},
		{name: "warning alias", input: "warning", expected: WarnLevel},
		{name: "error", input: " error ", expected: ErrorLevel},
		{name: "fatal", input: "fatal", expected: FatalLevel},
		{name: "unknown", input: "verbose", expected: InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestSlogWithWriter_JSON(t *testing.T) {
	t.Setenv("ENV", "")

	var buf bytes.Buffer
	l := NewSlogWithWriter(&buf, InfoLevel, false)

	l.Debug("hidden", "channel", 1)
	assert.Zero(t, buf.Len())

	l.With("instrument", "psu").Info("setpoint applied", "channel", 2, "voltage", 0.5)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "setpoint applied", rec["msg"])
	assert.Equal(t, "psu", rec["instrument"])
	assert.InDelta(t, 2, rec["channel"], 0)
	assert.Contains(t, rec, "ts")
}

func TestSlogSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWithWriter(&buf, ErrorLevel, false)
	assert.Equal(t, ErrorLevel, l.Level())

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())

	child := l.With("k", "v")
	assert.Equal(t, DebugLevel, child.Level())
}

func TestNewFileSlog(t *testing.T) {
	t.Setenv("ENV", "")

	path := filepath.Join(t.TempDir(), "hemt.log")
	l, closer := NewFileSlog(path, InfoLevel, FileOptions{})
	l.Info("ramp finished", "channel", 1)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ramp finished")
}
