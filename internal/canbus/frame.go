package canbus

import "fmt"

// CAN identifier flag bits and masks (SocketCAN layout).
const (
	// FlagExtended marks a 29-bit extended-identifier frame.
	FlagExtended uint32 = 0x80000000

	// MaskExtendedID extracts the 29-bit extended identifier.
	MaskExtendedID uint32 = 0x1FFFFFFF

	// maxFrameData is the classic CAN payload limit.
	maxFrameData = 8
)

// Frame is a CAN frame as seen by the Scheiber layer.
//
// ID is the bare 29-bit arbitration identifier with no flag bits; the
// socket layer sets the extended-identifier flag on every outbound frame
// and strips flags from inbound ones. All Scheiber traffic uses extended
// identifiers — sending a standard-identifier frame silently truncates
// the ID and the device never answers.
type Frame struct {
	// ID is the 29-bit arbitration identifier.
	ID uint32

	// Data is the payload, at most 8 bytes.
	Data []byte
}

// String returns a human-readable representation, e.g.
// "Frame{ID:0x021606B8, Data:0500110100000000}".
func (f Frame) String() string {
	return fmt.Sprintf("Frame{ID:0x%08X, Data:%X}", f.ID, f.Data)
}

// Stats holds operational counters for a CAN connection.
type Stats struct {
	FramesTx    uint64
	FramesRx    uint64
	UniqueIDs   int
	ErrorsTotal uint64
	Uptime      float64 // seconds since Open, 0 if not started
	Connected   bool
	ReadOnly    bool
}

// Connector is the abstract CAN endpoint the system talks to.
// It allows substituting a fake bus in tests.
type Connector interface {
	// Send transmits one extended frame. In read-only mode the frame is
	// dropped without error.
	Send(frame Frame) error

	// SetOnFrame registers the single inbound-frame callback.
	SetOnFrame(callback func(Frame))

	// IsConnected reports whether the endpoint is open.
	IsConnected() bool

	// Stats returns a snapshot of the I/O counters.
	Stats() Stats

	// Close shuts the endpoint down.
	Close() error
}
