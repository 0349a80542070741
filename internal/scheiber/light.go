package scheiber

import (
	"fmt"
	"sync"
	"time"
)

// Command is the composite light command carried by the Home Assistant
// JSON grammar. Precedence when executing: flash > transition >
// brightness > state.
type Command struct {
	// On is the desired state.
	On bool

	// Brightness is the target brightness, if given.
	Brightness *uint8

	// Transition is the fade duration, if given.
	Transition *time.Duration

	// Effect names an easing. It is stored as the light's default easing
	// for subsequent fades; a command that changes only the easing does
	// not touch the light.
	Effect EasingKind

	// Flash is the flash duration, if given. Overrides everything else.
	Flash *time.Duration
}

// DimmableLight is an output with a brightness channel, fades and flash.
//
// At most one transition (fade or flash) is in flight per light; any
// mutating call cancels the running one. An OFF command stops a climbing
// fade essentially immediately: the OFF frame goes out before the old
// transition goroutine is joined.
//
// Thread Safety: all methods are safe for concurrent use. A single mutex
// guards (state, brightness, transition handle).
type DimmableLight struct {
	deviceID int
	switchNr int
	entityID string
	name     string
	send     sendFunc
	logger   Logger

	mu            sync.Mutex
	state         bool
	brightness    uint8
	defaultEasing EasingKind // "" until an effect is stored; then used for fades
	transition    *transitionHandle

	obs observerList
}

// Ensure DimmableLight implements Output.
var _ Output = (*DimmableLight)(nil)

// NewDimmableLight creates a dimmable light output.
func NewDimmableLight(deviceID, switchNr int, entityID, name string, send sendFunc, logger Logger) *DimmableLight {
	return &DimmableLight{
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
func (l *DimmableLight) EntityID() string { return l.entityID }

// DisplayName implements Output.
func (l *DimmableLight) DisplayName() string { return l.name }

// SwitchNr implements Output.
func (l *DimmableLight) SwitchNr() int { return l.switchNr }

// Dimmable implements Output.
func (l *DimmableLight) Dimmable() bool { return true }

// Matchers implements Output.
func (l *DimmableLight) Matchers() []Matcher {
	return []Matcher{{Pattern: pairStateID(l.deviceID, l.switchNr), Mask: 0xFFFFFFFF}}
}

// Subscribe implements Output.
func (l *DimmableLight) Subscribe(obs Observer) { l.obs.add(obs) }

// State implements Output.
func (l *DimmableLight) State() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{State: l.state, Brightness: l.brightness}
}

// Restore implements Output.
func (l *DimmableLight) Restore(snap Snapshot) {
	l.mu.Lock()
	l.state = snap.State && snap.Brightness > 0
	if l.state {
		l.brightness = snap.Brightness
	} else {
		l.brightness = 0
	}
	l.mu.Unlock()
}

// DefaultEasing returns the stored default easing, or the package
// default when none has been stored yet.
func (l *DimmableLight) DefaultEasing() EasingKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.defaultEasing == "" {
		return DefaultEasing
	}
	return l.defaultEasing
}

// SetBrightness sets the brightness immediately.
//
// Any running transition is cancelled: the new frame is sent before the
// old transition goroutine is joined, so an OFF command stops a climbing
// fade within one tick cadence. Observers are notified once with the new
// snapshot.
//
// The stored pair follows the command-synthesis rule: brightness at or
// below the dimming threshold means OFF with brightness 0.
func (l *DimmableLight) SetBrightness(brightness uint8) error {
	l.mu.Lock()
	prev := l.takeTransitionLocked()

	state := brightness > DimmingThreshold
	if state {
		l.state = true
		l.brightness = brightness
	} else {
		l.state = false
		l.brightness = 0
	}
	snap := Snapshot{State: l.state, Brightness: l.brightness}
	l.mu.Unlock()

	// The frame goes out before the predecessor is joined, so OFF takes
	// effect on the wire ahead of any straggling fade tick.
	err := l.send(l.switchNr, snap.State, brightness)

	if prev != nil {
		prev.Wait()
	}

	l.obs.notify(snap)
	return err
}

// FadeTo fades the brightness to target over the given duration.
//
// An empty easing uses the stored default easing when one has been
// stored. Otherwise it selects automatically: fading up from dark uses
// ease_out_cubic, down to dark ease_in_cubic, and any other fade
// ease_in_out_sine. A fade to the current brightness returns immediately.
func (l *DimmableLight) FadeTo(target uint8, duration time.Duration, easing EasingKind) error {
	l.mu.Lock()
	prev := l.takeTransitionLocked()
	start := l.brightness

	if start == target {
		l.mu.Unlock()
		if prev != nil {
			prev.Wait()
		}
		return nil
	}

	if easing == "" {
		easing = l.defaultEasing
	}
	if easing == "" {
		easing = autoEasing(start, target)
	}
	fn, err := easingFunction(easing)
	if err != nil {
		l.mu.Unlock()
		if prev != nil {
			prev.Wait()
		}
		return err
	}

	handle := newTransitionHandle()
	l.transition = handle
	l.mu.Unlock()

	if prev != nil {
		prev.Wait()
	}

	l.logDebug("fade started", "from", start, "to", target, "duration", duration.String(), "easing", string(easing))
	go l.runTransition(handle, start, target, duration, fn)
	return nil
}

// Flash turns the light fully on, waits, then restores the previous
// state. A command arriving during the flash cancels it; the command
// wins and the snapshot is not restored.
func (l *DimmableLight) Flash(duration time.Duration) error {
	l.mu.Lock()
	prev := l.takeTransitionLocked()
	restore := Snapshot{State: l.state, Brightness: l.brightness}

	handle := newTransitionHandle()
	l.transition = handle
	l.state = true
	l.brightness = 255
	l.mu.Unlock()

	if prev != nil {
		prev.Wait()
	}

	err := l.send(l.switchNr, true, 255)
	l.obs.notify(Snapshot{State: true, Brightness: 255})

	go l.runFlash(handle, restore, duration)
	return err
}

// Set executes the Home Assistant composite command.
// Precedence: flash > transition > brightness > state.
func (l *DimmableLight) Set(cmd Command) error {
	if cmd.Effect != "" {
		if !ValidEasing(cmd.Effect) {
			return fmt.Errorf("%w: %q", ErrUnknownEasing, cmd.Effect)
		}
		l.mu.Lock()
		l.defaultEasing = cmd.Effect
		l.mu.Unlock()
		l.logDebug("default easing stored", "easing", string(cmd.Effect))
	}

	switch {
	case cmd.Flash != nil:
		return l.Flash(*cmd.Flash)

	case cmd.Transition != nil:
		return l.FadeTo(l.targetBrightness(cmd), *cmd.Transition, cmd.Effect)

	case cmd.Brightness != nil:
		return l.SetBrightness(*cmd.Brightness)

	case cmd.Effect != "" && cmd.On:
		// Easing-only update ({"state":"ON","effect":...}): remember the
		// easing, leave the light alone.
		return nil

	case cmd.On:
		return l.SetBrightness(l.turnOnBrightness())

	default:
		return l.SetBrightness(0)
	}
}

// targetBrightness resolves the fade target from a composite command.
func (l *DimmableLight) targetBrightness(cmd Command) uint8 {
	if !cmd.On {
		return 0
	}
	if cmd.Brightness != nil {
		return *cmd.Brightness
	}
	return 255
}

// turnOnBrightness picks the brightness for a bare ON: the previous
// level if there is one, full otherwise.
func (l *DimmableLight) turnOnBrightness() uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.brightness > 0 {
		return l.brightness
	}
	return 255
}

// ApplyFrame implements Output.
func (l *DimmableLight) ApplyFrame(data []byte) {
	stateBit, reported, ok := decodeHalf(data, l.switchNr)
	if !ok {
		return
	}
	state, brightness := deriveState(stateBit, reported)

	l.mu.Lock()
	changed := l.state != state || l.brightness != brightness
	l.state = state
	l.brightness = brightness
	snap := Snapshot{State: state, Brightness: brightness}
	l.mu.Unlock()

	if changed {
		l.logDebug("state updated from bus", "state", state, "brightness", brightness)
		l.obs.notify(snap)
	}
}

// takeTransitionLocked cancels and detaches the running transition, if
// any. Caller holds l.mu and is responsible for Wait()ing on the
// returned handle after releasing the lock.
func (l *DimmableLight) takeTransitionLocked() *transitionHandle {
	handle := l.transition
	l.transition = nil
	if handle != nil {
		handle.Cancel()
	}
	return handle
}

// String returns a human-readable representation.
func (l *DimmableLight) String() string {
	snap := l.State()
	onOff := "OFF"
	if snap.State {
		onOff = "ON"
	}
	return fmt.Sprintf("DimmableLight(%s, state=%s, brightness=%d)", l.entityID, onOff, snap.Brightness)
}

func (l *DimmableLight) logDebug(msg string, keysAndValues ...any) {
	if l.logger != nil {
		args := append([]any{"entity_id", l.entityID, "slot", l.switchNr}, keysAndValues...)
		l.logger.Debug(msg, args...)
	}
}
