// Package scheiber implements the device-and-transition engine for
// Scheiber marine lighting controllers.
//
// # Device model
//
// A Bloc9 is a six-output controller addressed by a 4-bit DIP switch
// (id 1..10). Each configured output is either a Switch (plain ON/OFF)
// or a DimmableLight (brightness, fades, flash). Outputs are identified
// on the bus by pattern-masked arbitration IDs; every matcher carries a
// full 32-bit mask because the low byte of the ID encodes the device id
// and a partial mask would alias frames across devices.
//
// # Data flow
//
// Inbound: System.dispatch → Bloc9.Route → Output.ApplyFrame →
// observers. Outbound: an output method synthesizes a command payload
// and the owning device frames and transmits it; the device's echo of
// that command is recognised by the routing index and dropped.
//
// # Transitions
//
// Fades sample brightness at 10 Hz through one of 13 easing functions.
// Intermediate samples are written silently (observers see none of
// them); completion performs a single notification. Any mutating call
// cancels the running transition, and an OFF command emits its frame
// before joining the cancelled goroutine so brightness stops climbing
// essentially immediately.
//
// # Persistence
//
// State is persisted as a JSON object keyed by entity id (never by slot
// number), rewritten atomically every 30 seconds while dirty and once
// at shutdown, and read once at startup. Restored state is silent: the
// bus syncs the real values on the first matched frame.
package scheiber
