// Package canbus provides SocketCAN connectivity for the Scheiber bus.
//
// It wraps github.com/brutella/can with the pieces the bridge needs:
//
//   - Extended (29-bit) identifier handling — the flag bit is set on every
//     outbound frame and stripped from inbound ones, so the rest of the
//     system only ever sees bare arbitration IDs
//   - A single inbound-frame callback, invoked from the receive goroutine
//   - Read-only mode for observing an installation without touching it
//   - Atomic I/O counters with periodic observer notifications
//
// The Connector interface abstracts the endpoint so the device layer and
// its tests never depend on a real socket.
package canbus
