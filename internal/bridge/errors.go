package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrParseFailed is returned when a command payload cannot be
	// parsed. The message is discarded.
	ErrParseFailed = errors.New("bridge: command parse failed")

	// ErrStaleRetained is returned when a retained command is older than
	// the replay window. The message is discarded and the retained topic
	// cleared.
	ErrStaleRetained = errors.New("bridge: stale retained command")
)
