package scheiber

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/scheiber-bridge/internal/canbus"
)

func newTestSystem(t *testing.T, statePath string) (*System, *fakeBus, *Bloc9) {
	t.Helper()

	bus := &fakeBus{}
	device, err := NewBloc9(7, []OutputSpec{
		{SwitchNr: 0, Dimmable: true, EntityID: "saloon_main", Name: "Saloon Main"},
		{SwitchNr: 2, Dimmable: false, EntityID: "nav_light", Name: "Navigation Light"},
	}, bus, nil)
	if err != nil {
		t.Fatalf("NewBloc9: %v", err)
	}

	system, err := NewSystem(SystemOptions{
		Bus:          bus,
		Devices:      []*Bloc9{device},
		StatePath:    statePath,
		SaveInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	return system, bus, device
}

func TestNewSystem_DuplicateDevice(t *testing.T) {
	bus := &fakeBus{}
	a, _ := NewBloc9(3, nil, bus, nil)
	b, _ := NewBloc9(3, nil, bus, nil)

	if _, err := NewSystem(SystemOptions{Bus: bus, Devices: []*Bloc9{a, b}}); err == nil {
		t.Error("expected error for duplicate device")
	}
}

func TestSystem_StartTwice(t *testing.T) {
	system, _, _ := newTestSystem(t, "")
	if err := system.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer system.Stop()

	if err := system.Start(); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestSystem_RoutesFrames(t *testing.T) {
	system, bus, device := newTestSystem(t, "")
	if err := system.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer system.Stop()

	bus.inject(canbus.Frame{
		ID:   0x021606B8,
		Data: []byte{0x64, 0x00, 0x11, 0x01, 0x00, 0x00, 0x00, 0x00},
	})

	if snap := device.Lights()[0].State(); !snap.State || snap.Brightness != 100 {
		t.Errorf("light = %+v, want {true 100}", snap)
	}
}

func TestSystem_Device(t *testing.T) {
	system, _, device := newTestSystem(t, "")

	if got := system.Device("bloc9", 7); got != device {
		t.Error("Device(bloc9, 7) did not return the device")
	}
	if got := system.Device("bloc9", 3); got != nil {
		t.Error("Device(bloc9, 3) should be nil")
	}
}

func TestSystem_UnknownFramesIgnored(t *testing.T) {
	system, bus, device := newTestSystem(t, "")
	if err := system.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer system.Stop()

	// Unknown device id and a completely foreign frame.
	bus.inject(canbus.Frame{ID: 0x021606C0, Data: make([]byte, 8)})
	bus.inject(canbus.Frame{ID: 0x1FFFFFFF, Data: []byte{1, 2}})
	bus.inject(canbus.Frame{ID: 0x1FFFFFFF, Data: []byte{1, 2}})

	if snap := device.Lights()[0].State(); snap.State {
		t.Error("unknown frame mutated an output")
	}

	system.mu.Lock()
	unknown := len(system.unknownIDs)
	system.mu.Unlock()
	if unknown != 2 {
		t.Errorf("unknown id count = %d, want 2", unknown)
	}
}

func TestSystem_PersistsStateOnDirty(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	system, bus, _ := newTestSystem(t, statePath)
	if err := system.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer system.Stop()

	bus.inject(canbus.Frame{
		ID:   0x021606B8,
		Data: []byte{0x64, 0x00, 0x11, 0x01, 0x00, 0x00, 0x00, 0x00},
	})

	// The 50ms save interval should flush the dirty state promptly.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(statePath); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	data, err := os.ReadFile(statePath)
	if err != nil {
		t.Fatalf("state file not written: %v", err)
	}

	var state StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("state file not valid JSON: %v", err)
	}
	entry, ok := state["bloc9_7"]["saloon_main"]
	if !ok {
		t.Fatalf("state file missing bloc9_7/saloon_main: %s", data)
	}
	if !entry.State || entry.Brightness == nil || *entry.Brightness != 100 {
		t.Errorf("persisted entry = %+v, want state=true brightness=100", entry)
	}
}

func TestSystem_SavesOnStop(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	system, bus, _ := newTestSystem(t, statePath)
	if err := system.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bus.inject(canbus.Frame{
		ID:   0x021606B8,
		Data: []byte{0x32, 0x00, 0x11, 0x01, 0x00, 0x00, 0x00, 0x00},
	})
	system.Stop()

	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("state file not written on stop: %v", err)
	}
}

func TestSystem_RestoresStateAtStart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	brightness := uint8(42)
	seed := StateFile{
		"bloc9_7": {
			"saloon_main": {State: true, Brightness: &brightness},
			"nav_light":   {State: true},
		},
	}
	if err := saveStateFile(statePath, seed); err != nil {
		t.Fatalf("seeding state: %v", err)
	}

	system, bus, device := newTestSystem(t, statePath)
	if err := system.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer system.Stop()

	if snap := device.Lights()[0].State(); !snap.State || snap.Brightness != 42 {
		t.Errorf("restored light = %+v, want {true 42}", snap)
	}
	if snap := device.Switches()[0].State(); !snap.State {
		t.Errorf("restored switch = %+v, want on", snap)
	}
	// Restore must not have sent anything.
	if bus.count() != 0 {
		t.Errorf("restore sent %d frames", bus.count())
	}
}

func TestLoadStateFile_Missing(t *testing.T) {
	state, err := loadStateFile(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(state) != 0 {
		t.Errorf("expected empty state, got %v", state)
	}
}

func TestLoadStateFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadStateFile(path); err == nil {
		t.Error("expected error for corrupt state file")
	}
}
