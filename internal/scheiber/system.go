package scheiber

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/scheiber-bridge/internal/canbus"
)

// defaultSaveInterval is the state persistence cadence.
const defaultSaveInterval = 30 * time.Second

// System owns the devices and the CAN endpoint and routes every inbound
// frame to the device claiming it.
//
// Thread Safety: all methods are safe for concurrent use. Dispatch runs
// on the CAN receive goroutine; the persistence loop runs on its own.
type System struct {
	bus     canbus.Connector
	devices []*Bloc9
	logger  Logger

	statePath    string
	saveInterval time.Duration

	mu         sync.Mutex
	started    bool
	dirty      bool
	unknownIDs map[uint32]bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// SystemOptions configures a System.
type SystemOptions struct {
	// Bus is the CAN endpoint shared by all devices.
	Bus canbus.Connector

	// Devices is the ordered device list.
	Devices []*Bloc9

	// StatePath is the JSON state file. Empty disables persistence.
	StatePath string

	// SaveInterval overrides the 30 s persistence cadence.
	SaveInterval time.Duration

	// Logger is an optional structured logger.
	Logger Logger
}

// NewSystem creates a System.
//
// Returns:
//   - *System: ready to Start
//   - error: on a duplicate (device_type, device_id) pair
func NewSystem(opts SystemOptions) (*System, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("scheiber: bus is required")
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = defaultSaveInterval
	}

	seen := make(map[string]bool)
	for _, dev := range opts.Devices {
		key := dev.StateKey()
		if seen[key] {
			return nil, fmt.Errorf("scheiber: duplicate device %s", key)
		}
		seen[key] = true
	}

	return &System{
		bus:          opts.Bus,
		devices:      opts.Devices,
		logger:       opts.Logger,
		statePath:    opts.StatePath,
		saveInterval: opts.SaveInterval,
		unknownIDs:   make(map[uint32]bool),
		done:         make(chan struct{}),
	}, nil
}

// Devices returns the registered devices.
func (s *System) Devices() []*Bloc9 {
	out := make([]*Bloc9, len(s.devices))
	copy(out, s.devices)
	return out
}

// Device returns the device with the given type and id, or nil.
func (s *System) Device(deviceType string, deviceID int) *Bloc9 {
	for _, dev := range s.devices {
		if dev.DeviceType() == deviceType && dev.DeviceID() == deviceID {
			return dev
		}
	}
	return nil
}

// Start loads persisted state, hooks the dispatch loop to the bus and
// starts the periodic state persistence.
//
// Returns:
//   - error: ErrAlreadyStarted on a second call
func (s *System) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if s.statePath != "" {
		s.loadState()
	}

	s.bus.SetOnFrame(s.dispatch)

	if s.statePath != "" {
		s.wg.Add(1)
		go s.saveLoop()
	}

	s.logInfo("system started", "devices", len(s.devices))
	return nil
}

// Stop halts dispatch and persistence and writes the state one last time.
func (s *System) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.bus.SetOnFrame(nil)
		s.wg.Wait()

		if s.statePath != "" {
			s.saveState()
		}
		s.logInfo("system stopped")
	})
}

// dispatch routes one inbound frame across the devices.
//
// Frames not claimed by any device are counted as unknown and logged
// once per distinct arbitration ID.
func (s *System) dispatch(frame canbus.Frame) {
	matched := false
	for _, dev := range s.devices {
		if dev.Route(frame) {
			matched = true
		}
	}

	if matched {
		s.markDirty()
		return
	}

	s.mu.Lock()
	seen := s.unknownIDs[frame.ID]
	s.unknownIDs[frame.ID] = true
	s.mu.Unlock()

	if !seen {
		s.logWarn("unknown arbitration id",
			"id", fmt.Sprintf("0x%08X", frame.ID),
			"data", fmt.Sprintf("%X", frame.Data),
		)
	}
}

// markDirty flags the state for the next persistence tick.
func (s *System) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// saveLoop persists the state periodically while it is dirty.
func (s *System) saveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			dirty := s.dirty
			s.mu.Unlock()

			if dirty {
				s.saveState()
			}
		}
	}
}

// saveState collects and writes the state file. I/O errors are logged
// and swallowed: in-memory state is unchanged and the next tick retries.
func (s *System) saveState() {
	state := StateFile{}
	for _, dev := range s.devices {
		state[dev.StateKey()] = dev.StoreState()
	}

	if err := saveStateFile(s.statePath, state); err != nil {
		s.logError("state save failed", err)
		return
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	s.logDebug("state saved", "path", s.statePath)
}

// loadState restores persisted state into the devices. Read or parse
// failures are logged and ignored; the bridge starts from defaults.
func (s *System) loadState() {
	state, err := loadStateFile(s.statePath)
	if err != nil {
		s.logError("state load failed", err)
		return
	}
	if len(state) == 0 {
		s.logInfo("no persisted state", "path", s.statePath)
		return
	}

	for _, dev := range s.devices {
		if devState, ok := state[dev.StateKey()]; ok {
			dev.RestoreState(devState)
			s.logInfo("restored state", "device", dev.StateKey())
		}
	}
}

func (s *System) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}

func (s *System) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *System) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}

func (s *System) logError(msg string, err error) {
	if s.logger != nil {
		s.logger.Error(msg, "error", err)
	}
}
