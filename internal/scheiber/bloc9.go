package scheiber

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/scheiber-bridge/internal/canbus"
)

// DeviceTypeBloc9 is the device family name used in state keys and
// MQTT topics.
const DeviceTypeBloc9 = "bloc9"

// Bloc9 device id limits (4-bit DIP switch, 0 unused).
const (
	minDeviceID = 1
	maxDeviceID = 10
)

// slotCount is the number of outputs on a Bloc9.
const slotCount = 6

// FrameSender transmits frames to the CAN bus. Satisfied by
// canbus.Connector.
type FrameSender interface {
	Send(frame canbus.Frame) error
}

// OutputSpec describes one configured output slot.
type OutputSpec struct {
	// SwitchNr is the zero-based slot (0..5 for S1..S6).
	SwitchNr int

	// Dimmable selects a DimmableLight; false selects a Switch.
	Dimmable bool

	// EntityID is the Home Assistant entity object id.
	EntityID string

	// Name is the human-readable display name.
	Name string
}

// Bloc9 is a six-output lighting controller.
//
// It owns a fixed slot array of optional outputs (unused slots are
// silent) and a routing index mapping arbitration IDs to the outputs
// decoding them, built once at construction. The index also carries the
// device heartbeat pattern (availability only, never output state) and
// the command-echo pattern (recognised and dropped so the bridge's own
// commands are not reported as unknown traffic).
type Bloc9 struct {
	deviceID int
	sender   FrameSender
	logger   Logger

	outputs [slotCount]Output // nil slots are silent
	routes  map[uint32][]Output

	heartbeatID uint32
	commandID   uint32

	// Availability tracking. Heartbeats refresh lastSeen and notify
	// device-level observers; they never mutate an output.
	availMu        sync.Mutex
	lastSeen       time.Time
	heartbeatSubs  []func(seen time.Time)
	echoesDropped  uint64
	malformedSeen  map[uint32]bool
}

// NewBloc9 creates a Bloc9 from configured output specs.
//
// Parameters:
//   - deviceID: DIP-switch bus id (1..10)
//   - specs: configured outputs; unlisted slots stay silent
//   - sender: CAN sink for command frames
//   - logger: optional structured logger
//
// Returns:
//   - *Bloc9: device with its routing index built
//   - error: ErrInvalidSlot or ErrSlotOccupied on bad specs
func NewBloc9(deviceID int, specs []OutputSpec, sender FrameSender, logger Logger) (*Bloc9, error) {
	if deviceID < minDeviceID || deviceID > maxDeviceID {
		return nil, fmt.Errorf("scheiber: device id %d out of range %d..%d", deviceID, minDeviceID, maxDeviceID)
	}

	d := &Bloc9{
		deviceID:      deviceID,
		sender:        sender,
		logger:        logger,
		routes:        make(map[uint32][]Output),
		heartbeatID:   heartbeatID(deviceID),
		commandID:     commandID(deviceID),
		malformedSeen: make(map[uint32]bool),
	}

	for _, spec := range specs {
		if spec.SwitchNr < 0 || spec.SwitchNr >= slotCount {
			return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, spec.SwitchNr)
		}
		if d.outputs[spec.SwitchNr] != nil {
			return nil, fmt.Errorf("%w: s%d on device %d", ErrSlotOccupied, spec.SwitchNr+1, deviceID)
		}

		var out Output
		if spec.Dimmable {
			out = NewDimmableLight(deviceID, spec.SwitchNr, spec.EntityID, spec.Name, d.sendCommand, logger)
		} else {
			out = NewSwitch(deviceID, spec.SwitchNr, spec.EntityID, spec.Name, d.sendCommand, logger)
		}
		d.outputs[spec.SwitchNr] = out
	}

	d.buildRoutes()
	return d, nil
}

// buildRoutes unions every output's matchers with the device-level
// heartbeat and command-echo matchers into the pattern index. All
// matchers use a full 32-bit mask, so the index is an exact-ID map.
func (d *Bloc9) buildRoutes() {
	for _, out := range d.outputs {
		if out == nil {
			continue
		}
		for _, m := range out.Matchers() {
			d.routes[m.Pattern] = append(d.routes[m.Pattern], out)
		}
	}

	// Bound to no output: heartbeat touches availability only, echoes
	// are recognised and dropped.
	if _, ok := d.routes[d.heartbeatID]; !ok {
		d.routes[d.heartbeatID] = nil
	}
	if _, ok := d.routes[d.commandID]; !ok {
		d.routes[d.commandID] = nil
	}
}

// DeviceType returns "bloc9".
func (d *Bloc9) DeviceType() string { return DeviceTypeBloc9 }

// DeviceID returns the bus id.
func (d *Bloc9) DeviceID() int { return d.deviceID }

// StateKey returns the persistence key, e.g. "bloc9_7".
func (d *Bloc9) StateKey() string {
	return fmt.Sprintf("%s_%d", DeviceTypeBloc9, d.deviceID)
}

// Matchers returns every matcher in the routing index.
func (d *Bloc9) Matchers() []Matcher {
	matchers := make([]Matcher, 0, len(d.routes))
	for pattern := range d.routes {
		matchers = append(matchers, Matcher{Pattern: pattern, Mask: 0xFFFFFFFF})
	}
	return matchers
}

// Outputs returns the configured outputs in slot order.
func (d *Bloc9) Outputs() []Output {
	outs := make([]Output, 0, slotCount)
	for _, out := range d.outputs {
		if out != nil {
			outs = append(outs, out)
		}
	}
	return outs
}

// Lights returns the configured dimmable lights in slot order.
func (d *Bloc9) Lights() []*DimmableLight {
	var lights []*DimmableLight
	for _, out := range d.outputs {
		if light, ok := out.(*DimmableLight); ok {
			lights = append(lights, light)
		}
	}
	return lights
}

// Switches returns the configured switches in slot order.
func (d *Bloc9) Switches() []*Switch {
	var switches []*Switch
	for _, out := range d.outputs {
		if sw, ok := out.(*Switch); ok {
			switches = append(switches, sw)
		}
	}
	return switches
}

// Route dispatches one inbound frame.
//
// Returns true when the frame belongs to this device (including
// heartbeats and command echoes), false when it should be tried against
// other devices.
func (d *Bloc9) Route(frame canbus.Frame) bool {
	outs, ok := d.routes[frame.ID]
	if !ok {
		return false
	}

	switch frame.ID {
	case d.heartbeatID:
		d.touchHeartbeat()
		return true
	case d.commandID:
		// Our own command echoed back; dropping it here keeps the MQTT
		// layer from double-applying state it already wrote.
		d.availMu.Lock()
		d.echoesDropped++
		d.availMu.Unlock()
		return true
	}

	if len(frame.Data) < pairStateLength {
		d.logMalformedOnce(frame)
		return true
	}

	for _, out := range outs {
		out.ApplyFrame(frame.Data)
	}
	return true
}

// touchHeartbeat refreshes the online marker and notifies device-level
// subscribers. Outputs are never mutated on heartbeat.
func (d *Bloc9) touchHeartbeat() {
	now := time.Now()

	d.availMu.Lock()
	d.lastSeen = now
	subs := make([]func(time.Time), len(d.heartbeatSubs))
	copy(subs, d.heartbeatSubs)
	d.availMu.Unlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logError("heartbeat observer panic", fmt.Errorf("%v", r))
				}
			}()
			sub(now)
		}()
	}
}

// SubscribeHeartbeat registers a device-level observer invoked on every
// heartbeat frame with the observation time.
func (d *Bloc9) SubscribeHeartbeat(cb func(seen time.Time)) {
	d.availMu.Lock()
	d.heartbeatSubs = append(d.heartbeatSubs, cb)
	d.availMu.Unlock()
}

// LastSeen returns the time of the last heartbeat, zero if none yet.
func (d *Bloc9) LastSeen() time.Time {
	d.availMu.Lock()
	defer d.availMu.Unlock()
	return d.lastSeen
}

// logMalformedOnce logs a short pair-state frame once per arbitration ID.
func (d *Bloc9) logMalformedOnce(frame canbus.Frame) {
	d.availMu.Lock()
	seen := d.malformedSeen[frame.ID]
	d.malformedSeen[frame.ID] = true
	d.availMu.Unlock()

	if !seen && d.logger != nil {
		d.logger.Warn("malformed pair-state frame",
			"id", fmt.Sprintf("0x%08X", frame.ID),
			"length", len(frame.Data),
		)
	}
}

// sendCommand synthesizes and transmits a command frame for one slot.
// This is the sendFunc handed to every output.
func (d *Bloc9) sendCommand(switchNr int, state bool, brightness uint8) error {
	frame := canbus.Frame{
		ID:   d.commandID,
		Data: encodeCommand(switchNr, state, brightness),
	}
	if err := d.sender.Send(frame); err != nil {
		d.logError("command send failed", err)
		return err
	}
	return nil
}

// StoreState collects the persisted state of all configured outputs,
// keyed by entity id. Renaming an entity id is a breaking (migration
// required) operation; renumbering slots is not.
func (d *Bloc9) StoreState() map[string]OutputState {
	state := make(map[string]OutputState)
	for _, out := range d.outputs {
		if out == nil {
			continue
		}
		snap := out.State()
		entry := OutputState{State: snap.State}
		if out.Dimmable() {
			brightness := snap.Brightness
			entry.Brightness = &brightness
		}
		state[out.EntityID()] = entry
	}
	return state
}

// RestoreState applies persisted state, keyed by entity id. Outputs are
// restored silently: no commands are sent and no observers fire; the bus
// syncs the real state on the first matched frame.
func (d *Bloc9) RestoreState(state map[string]OutputState) {
	for _, out := range d.outputs {
		if out == nil {
			continue
		}
		entry, ok := state[out.EntityID()]
		if !ok {
			continue
		}
		snap := Snapshot{State: entry.State}
		if entry.Brightness != nil {
			snap.Brightness = *entry.Brightness
		} else if entry.State {
			snap.Brightness = 255
		}
		out.Restore(snap)
	}
}

// String returns a human-readable representation.
func (d *Bloc9) String() string {
	return fmt.Sprintf("Bloc9(device_id=%d, outputs=%d)", d.deviceID, len(d.Outputs()))
}

func (d *Bloc9) logError(msg string, err error) {
	if d.logger != nil {
		d.logger.Error(msg, "device_id", d.deviceID, "error", err)
	}
}
