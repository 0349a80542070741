package scheiber

import "errors"

// Domain errors for the scheiber package.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("scheiber: system already started")

	// ErrUnknownEasing is returned for unrecognised easing names.
	ErrUnknownEasing = errors.New("scheiber: unknown easing")

	// ErrInvalidSlot is returned for switch numbers outside 0..5.
	ErrInvalidSlot = errors.New("scheiber: invalid output slot")

	// ErrSlotOccupied is returned when two outputs are configured on the
	// same slot of one device.
	ErrSlotOccupied = errors.New("scheiber: output slot already configured")

	// ErrStatePersist is returned when writing the state file fails.
	// Transient: in-memory state is unchanged and the next tick retries.
	ErrStatePersist = errors.New("scheiber: state persist failed")
)
