package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/scheiber-bridge/internal/scheiber"
)

// Flash durations for the Home Assistant "short"/"long" keywords.
const (
	flashShort = 2 * time.Second
	flashLong  = 10 * time.Second
)

// maxRetainedAge is the replay window for retained commands. Retained
// messages older than this at receive time are discarded and cleared so
// a restart does not re-play stale commands.
const maxRetainedAge = 300 * time.Second

// lightCommand is the wire form of the Home Assistant JSON light
// command grammar:
//
//	{ "state": "ON"|"OFF",
//	  "brightness": 0..255,
//	  "transition": <seconds, float>,
//	  "effect": "<easing name>",
//	  "flash": "short"|"long"|<seconds>,
//	  "timestamp": <unix seconds> }
//
// A plain "ON"/"OFF" string is also accepted. The timestamp field is
// written by automations that want their retained commands age-gated.
type lightCommand struct {
	State      string          `json:"state"`
	Brightness *int            `json:"brightness"`
	Transition *float64        `json:"transition"`
	Effect     string          `json:"effect"`
	Flash      json.RawMessage `json:"flash"`
	Timestamp  *float64        `json:"timestamp"`
}

// parseLightCommand parses a light command payload into the device
// layer's composite command.
func parseLightCommand(payload []byte) (scheiber.Command, *float64, error) {
	raw, timestamp, err := parsePayload(payload)
	if err != nil {
		return scheiber.Command{}, nil, err
	}

	cmd := scheiber.Command{
		On:     !strings.EqualFold(raw.State, "OFF"),
		Effect: scheiber.EasingKind(raw.Effect),
	}

	if raw.Brightness != nil {
		b := clampBrightness(*raw.Brightness)
		cmd.Brightness = &b
	}

	if raw.Transition != nil && *raw.Transition > 0 {
		d := time.Duration(*raw.Transition * float64(time.Second))
		cmd.Transition = &d
	}

	if len(raw.Flash) > 0 {
		flash, err := parseFlash(raw.Flash)
		if err != nil {
			return scheiber.Command{}, nil, err
		}
		if flash > 0 {
			cmd.Flash = &flash
		}
	}

	return cmd, timestamp, nil
}

// parseSwitchCommand parses a switch command payload: plain ON/OFF or
// the JSON envelope carrying state (and optionally a timestamp).
func parseSwitchCommand(payload []byte) (bool, *float64, error) {
	raw, timestamp, err := parsePayload(payload)
	if err != nil {
		return false, nil, err
	}
	return strings.EqualFold(raw.State, "ON"), timestamp, nil
}

// parsePayload decodes JSON payloads and promotes bare ON/OFF strings
// into the JSON envelope.
func parsePayload(payload []byte) (lightCommand, *float64, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return lightCommand{}, nil, fmt.Errorf("%w: empty payload", ErrParseFailed)
	}

	if !strings.HasPrefix(trimmed, "{") {
		// Plain ON/OFF command.
		state := strings.ToUpper(strings.Trim(trimmed, `"`))
		if state != "ON" && state != "OFF" {
			return lightCommand{}, nil, fmt.Errorf("%w: %q", ErrParseFailed, trimmed)
		}
		return lightCommand{State: state}, nil, nil
	}

	var raw lightCommand
	if err := json.Unmarshal(payload, &raw); err != nil {
		return lightCommand{}, nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	if raw.State == "" {
		raw.State = "ON"
	}
	return raw, raw.Timestamp, nil
}

// parseFlash decodes the flash field: "short", "long" or a duration in
// seconds.
func parseFlash(raw json.RawMessage) (time.Duration, error) {
	var keyword string
	if err := json.Unmarshal(raw, &keyword); err == nil {
		switch strings.ToLower(keyword) {
		case "short":
			return flashShort, nil
		case "long":
			return flashLong, nil
		default:
			return 0, fmt.Errorf("%w: flash %q", ErrParseFailed, keyword)
		}
	}

	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err != nil {
		return 0, fmt.Errorf("%w: flash %s", ErrParseFailed, raw)
	}
	if seconds <= 0 {
		return 0, nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// clampBrightness bounds a JSON brightness into 0..255.
func clampBrightness(b int) uint8 {
	if b < 0 {
		return 0
	}
	if b > 255 {
		return 255
	}
	return uint8(b)
}

// retainedTooOld reports whether a retained command with the given
// timestamp (Unix seconds) is outside the replay window. Retained
// messages without a timestamp cannot be aged and are processed.
func retainedTooOld(timestamp *float64, now time.Time) bool {
	if timestamp == nil {
		return false
	}
	age := now.Sub(time.Unix(int64(*timestamp), 0))
	return age > maxRetainedAge
}
