// Package adq is the client for the digitizer gateway daemon.
//
// The digitizer vendor SDK is a C library, so the lab runs it behind a small
// gateway daemon (adqd) and talks to that daemon over a Unix socket or TCP.
// Client implements spectrometer.Device on top of that connection.
//
// # Wire Format
//
// Every request and response is one frame:
//
//	Byte 0-3: size (big-endian, type + payload, excludes the size field)
//	Byte 4-5: message type (big-endian)
//	Byte 6+:  payload
//
// A response carries the request's message type and a payload that starts
// with a one-byte status (0 = ok) followed by the result:
//
//	open          0x0001  device u16                -> status
//	close         0x0002                            -> status
//	write-reg     0x0101  reg u16, mask u32, val u32 -> status, read-back u32
//	read-reg      0x0102  reg u16                   -> status, value u32
//	arm           0x0110                            -> status
//	disarm        0x0111                            -> status
//	read-buffer   0x0120  samples u32               -> status, count u32, count*int16
//
// Exactly one request is in flight at a time.
//
// # Connection URLs
//
//	unix:///run/adqd.sock
//	tcp://lab-daq:6740
package adq
