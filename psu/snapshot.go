package psu

import "github.com/arloliu/go-scpi/scpi"

// ChannelSnapshot is the live and cached state of one channel.
type ChannelSnapshot struct {
	Index           int
	Output          bool
	MeasuredVoltage float64
	MeasuredCurrent float64
	Setpoint        float64
	CurrentLimit    float64
	Limits          Limits
}

// Snapshot is a debug dump of every readable parameter of the supply.
type Snapshot struct {
	Name     string
	Identity string
	Profile  Profile
	Channels []ChannelSnapshot
	// Errors holds the entries drained from the instrument error queue.
	Errors []*scpi.DeviceError
}

// Snapshot reads identity, output states and measurements of all channels and drains the
// instrument error queue.
func (d *EDU36311A) Snapshot() (*Snapshot, error) {
	idn, err := d.Identify()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Name:     d.name,
		Identity: idn,
		Profile:  d.profile,
	}

	for _, ch := range d.Channels() {
		cs := ChannelSnapshot{Index: ch}

		if cs.Output, err = d.Output(ch); err != nil {
			return nil, err
		}
		if cs.MeasuredVoltage, err = d.Voltage(ch); err != nil {
			return nil, err
		}
		if cs.MeasuredCurrent, err = d.Current(ch); err != nil {
			return nil, err
		}

		cached, _ := d.Channel(ch)
		cs.Setpoint = cached.Voltage
		cs.CurrentLimit = cached.CurrentLimit
		cs.Limits = cached.Limits

		snap.Channels = append(snap.Channels, cs)
	}

	if snap.Errors, err = d.client.DrainErrors(); err != nil {
		return nil, err
	}

	return snap, nil
}
