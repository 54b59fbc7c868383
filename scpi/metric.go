package scpi

import "sync/atomic"

// Metrics contains atomic counters of a client.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// WriteCount indicates the number of commands written.
	WriteCount atomic.Uint64
	// QueryCount indicates the number of queries sent, including error status queries.
	QueryCount atomic.Uint64
	// DeviceErrCount indicates the number of nonzero error statuses.
	DeviceErrCount atomic.Uint64
	// TransportErrCount indicates the number of transport failures returned to callers.
	TransportErrCount atomic.Uint64
	// ParseErrCount indicates the number of malformed responses.
	ParseErrCount atomic.Uint64
	// RecoveryCount indicates the number of reopen and retry attempts.
	RecoveryCount atomic.Uint64
}

func (m *Metrics) incWriteCount() {
	m.WriteCount.Add(1)
}

func (m *Metrics) incQueryCount() {
	m.QueryCount.Add(1)
}

func (m *Metrics) incDeviceErrCount() {
	m.DeviceErrCount.Add(1)
}

func (m *Metrics) incTransportErrCount() {
	m.TransportErrCount.Add(1)
}

func (m *Metrics) incParseErrCount() {
	m.ParseErrCount.Add(1)
}

func (m *Metrics) incRecoveryCount() {
	m.RecoveryCount.Add(1)
}
