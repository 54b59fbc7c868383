// Package scpi implements the command/query layer on top of a transport.Session.
//
// A Client sends textual SCPI commands and queries, asks the instrument for its error status
// after checked writes and parses responses with caller supplied ParseFunc values:
//
//	client, _ := scpi.NewClient(session, scpi.WithResyncCommand("*CLS"))
//	if err := client.WriteChecked("APPL CH1,0.5,0.005"); err != nil {
//		// *scpi.DeviceError when the instrument rejected the command
//	}
//	volts, err := scpi.QueryChecked(client, "MEAS:VOLT? (@1)", scpi.ParseFloat)
//
// Recovery is limited to stale handles: a *transport.TransportError of kind
// KindSessionInvalid triggers exactly one Session.Reopen and one retry of the failed round
// trip. A second failure is returned unchanged, and all other transport failures are returned
// immediately.
package scpi
