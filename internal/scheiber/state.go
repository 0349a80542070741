package scheiber

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// OutputState is the persisted form of one output, keyed by entity id in
// the state file. Switches carry only the state bit; lights add the
// brightness.
type OutputState struct {
	State      bool   `json:"state"`
	Brightness *uint8 `json:"brightness,omitempty"`
}

// StateFile is the on-disk shape:
//
//	{ "<device_type>_<device_id>": { "<entity_id>": {state, brightness?} } }
//
// A previous shape keyed by s1..s6 is not read here; a one-shot external
// migration maps it to entity-id keys.
type StateFile map[string]map[string]OutputState

// loadStateFile reads the persisted state. A missing file is not an
// error: it returns an empty map.
func loadStateFile(path string) (StateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StateFile{}, nil
		}
		return nil, fmt.Errorf("%w: read: %w", ErrStatePersist, err)
	}

	var state StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrStatePersist, err)
	}
	if state == nil {
		state = StateFile{}
	}
	return state, nil
}

// saveStateFile writes the state atomically: the payload goes to a
// temporary file in the same directory which is then renamed over the
// target, so a crash mid-write never leaves a torn file.
func saveStateFile(path string, state StateFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %w", ErrStatePersist, err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrStatePersist, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write: %w", ErrStatePersist, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename: %w", ErrStatePersist, err)
	}
	return nil
}
