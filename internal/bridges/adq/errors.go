package adq

import "errors"

// Domain errors for the digitizer gateway client.
var (
	// ErrConnectionFailed is returned when the gateway cannot be reached
	// or rejects the open handshake.
	ErrConnectionFailed = errors.New("adq: connection to gateway failed")

	// ErrNotConnected is returned after Close or a protocol desync.
	ErrNotConnected = errors.New("adq: not connected to gateway")

	// ErrInvalidMessage is returned for a malformed frame or payload.
	ErrInvalidMessage = errors.New("adq: invalid message")

	// ErrProtocolDesync is returned when a request's reply could not be
	// read in full: a timeout, a cancelled context, a malformed frame or a
	// reply of the wrong type. The connection is closed and later
	// requests return ErrNotConnected.
	ErrProtocolDesync = errors.New("adq: protocol desync")

	// ErrDeviceStatus is returned when the gateway reports a device error
	// without a more specific mapping.
	ErrDeviceStatus = errors.New("adq: device error")
)
