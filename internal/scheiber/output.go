package scheiber

import (
	"fmt"
	"sync"
)

// Snapshot is the externally visible state of one output.
//
// Invariant: Brightness == 0 ⇔ State == false. The wire protocol reports
// full-on-without-PWM as state=1/brightness=0; that never leaks out of
// the decode path (see deriveState).
type Snapshot struct {
	State      bool
	Brightness uint8
}

// Observer receives state snapshots from an output.
//
// Observers are registered for the lifetime of the process; there is no
// unsubscribe. Callbacks run behind a recover boundary so a misbehaving
// subscriber cannot poison the router.
type Observer func(Snapshot)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// sendFunc transmits a command for one output slot. Provided by the
// owning device, which synthesizes the frame and hands it to the bus.
type sendFunc func(switchNr int, state bool, brightness uint8) error

// Output is one logical channel (S1..S6) of a Scheiber device, either a
// Switch or a DimmableLight.
type Output interface {
	// EntityID returns the Home Assistant entity object id.
	EntityID() string

	// DisplayName returns the human-readable name.
	DisplayName() string

	// SwitchNr returns the zero-based slot number.
	SwitchNr() int

	// Dimmable reports whether this output carries a brightness channel.
	Dimmable() bool

	// Matchers returns the CAN matchers for this output's state frames.
	Matchers() []Matcher

	// ApplyFrame decodes this output's half of a matched pair-state
	// payload and updates the stored state, notifying observers if the
	// stored pair changed.
	ApplyFrame(data []byte)

	// Subscribe registers a state observer.
	Subscribe(obs Observer)

	// State returns the current snapshot.
	State() Snapshot

	// Restore sets the stored state without sending a command or
	// notifying observers. Used when loading persisted state; the bus
	// syncs it on the first matched frame.
	Restore(snap Snapshot)
}

// observerList is the shared observer registry for outputs.
type observerList struct {
	mu        sync.Mutex
	observers []Observer
	logger    Logger
}

// add registers an observer.
func (o *observerList) add(obs Observer) {
	o.mu.Lock()
	o.observers = append(o.observers, obs)
	o.mu.Unlock()
}

// notify delivers a snapshot to every observer, isolating panics.
func (o *observerList) notify(snap Snapshot) {
	o.mu.Lock()
	observers := make([]Observer, len(o.observers))
	copy(observers, o.observers)
	logger := o.logger
	o.mu.Unlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					if logger != nil {
						logger.Error("observer callback panic", "panic", fmt.Sprintf("%v", r))
					}
				}
			}()
			obs(snap)
		}()
	}
}

// Switch is a plain ON/OFF output.
//
// Switch state is never applied optimistically: Set only transmits the
// command, and the stored bit changes when a matched frame confirms it.
// This matches the hardware truth and avoids ghost updates on rejected
// commands.
type Switch struct {
	deviceID int
	switchNr int
	entityID string
	name     string
	send     sendFunc
	logger   Logger

	mu    sync.Mutex
	state bool

	obs observerList
}

// Ensure Switch implements Output.
var _ Output = (*Switch)(nil)

// NewSwitch creates a switch output.
func NewSwitch(deviceID, switchNr int, entityID, name string, send sendFunc, logger Logger) *Switch {
	return &Switch{
		deviceID: deviceID,
		switchNr: switchNr,
		entityID: entityID,
		name:     name,
		send:     send,
		logger:   logger,
		obs:      observerList{logger: logger},
	}
}

// EntityID implements Output.
func (s *Switch) EntityID() string { return s.entityID }

// DisplayName implements Output.
func (s *Switch) DisplayName() string { return s.name }

// SwitchNr implements Output.
func (s *Switch) SwitchNr() int { return s.switchNr }

// Dimmable implements Output.
func (s *Switch) Dimmable() bool { return false }

// Matchers implements Output. A switch listens for the pair-state frame
// covering its slot, with a full 32-bit mask.
func (s *Switch) Matchers() []Matcher {
	return []Matcher{{Pattern: pairStateID(s.deviceID, s.switchNr), Mask: 0xFFFFFFFF}}
}

// Set transmits an ON/OFF command. The stored state is not touched; it
// updates when the device confirms via a pair-state frame.
func (s *Switch) Set(state bool) error {
	var brightness uint8
	if state {
		brightness = 255
	}
	if err := s.send(s.switchNr, state, brightness); err != nil {
		return err
	}
	s.logDebug("switch command sent", "state", state)
	return nil
}

// ApplyFrame implements Output.
func (s *Switch) ApplyFrame(data []byte) {
	stateBit, brightness, ok := decodeHalf(data, s.switchNr)
	if !ok {
		return
	}
	state, _ := deriveState(stateBit, brightness)

	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed {
		s.logDebug("switch state confirmed", "state", state)
		s.obs.notify(Snapshot{State: state})
	}
}

// Subscribe implements Output.
func (s *Switch) Subscribe(obs Observer) { s.obs.add(obs) }

// State implements Output.
func (s *Switch) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state}
}

// Restore implements Output.
func (s *Switch) Restore(snap Snapshot) {
	s.mu.Lock()
	s.state = snap.State
	s.mu.Unlock()
}

// String returns a human-readable representation.
func (s *Switch) String() string {
	onOff := "OFF"
	if s.State().State {
		onOff = "ON"
	}
	return fmt.Sprintf("Switch(%s, state=%s)", s.entityID, onOff)
}

func (s *Switch) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		args := append([]any{"entity_id", s.entityID, "slot", s.switchNr}, keysAndValues...)
		s.logger.Debug(msg, args...)
	}
}
