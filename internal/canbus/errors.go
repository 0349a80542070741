package canbus

import "errors"

// Domain errors for the canbus package.
var (
	// ErrNotConnected is returned when an operation requires an open
	// CAN interface but the client is not connected.
	ErrNotConnected = errors.New("canbus: not connected")

	// ErrConnectionFailed is returned when opening the CAN interface fails.
	ErrConnectionFailed = errors.New("canbus: connection failed")

	// ErrSendFailed is returned when transmitting a frame fails.
	// Send failures are transient: the bus is lossy by design and the
	// caller re-emits on the next tick or user command.
	ErrSendFailed = errors.New("canbus: send failed")

	// ErrFrameTooLong is returned for payloads over 8 bytes.
	ErrFrameTooLong = errors.New("canbus: frame payload exceeds 8 bytes")
)
