package scheiber

import (
	"bytes"
	"testing"
)

func TestDeviceIDByte(t *testing.T) {
	tests := []struct {
		deviceID int
		want     uint32
	}{
		{1, 0x88},
		{7, 0xB8},
		{8, 0xC0},
		{10, 0xD0},
	}

	for _, tt := range tests {
		if got := deviceIDByte(tt.deviceID); got != tt.want {
			t.Errorf("deviceIDByte(%d) = 0x%02X, want 0x%02X", tt.deviceID, got, tt.want)
		}
	}
}

func TestArbitrationIDs(t *testing.T) {
	if got := heartbeatID(7); got != 0x000006B8 {
		t.Errorf("heartbeatID(7) = 0x%08X, want 0x000006B8", got)
	}
	if got := commandID(8); got != 0x023606C0 {
		t.Errorf("commandID(8) = 0x%08X, want 0x023606C0", got)
	}

	pairTests := []struct {
		deviceID int
		switchNr int
		want     uint32
	}{
		{7, 0, 0x021606B8}, // S1
		{7, 1, 0x021606B8}, // S2 shares the S1/S2 frame
		{10, 2, 0x021806D0}, // S3
		{10, 3, 0x021806D0}, // S4
		{8, 4, 0x021A06C0}, // S5
		{8, 5, 0x021A06C0}, // S6
	}
	for _, tt := range pairTests {
		if got := pairStateID(tt.deviceID, tt.switchNr); got != tt.want {
			t.Errorf("pairStateID(%d, %d) = 0x%08X, want 0x%08X", tt.deviceID, tt.switchNr, got, tt.want)
		}
	}
}

func TestDecodeHalf(t *testing.T) {
	payload := []byte{0x05, 0x00, 0x11, 0x01, 0x6B, 0x00, 0x11, 0x01}

	stateBit, brightness, ok := decodeHalf(payload, 0)
	if !ok || !stateBit || brightness != 5 {
		t.Errorf("low half = (%v, %d, %v), want (true, 5, true)", stateBit, brightness, ok)
	}

	stateBit, brightness, ok = decodeHalf(payload, 1)
	if !ok || !stateBit || brightness != 107 {
		t.Errorf("high half = (%v, %d, %v), want (true, 107, true)", stateBit, brightness, ok)
	}
}

func TestDecodeHalf_Short(t *testing.T) {
	if _, _, ok := decodeHalf([]byte{0x01, 0x02, 0x03}, 0); ok {
		t.Error("expected ok=false for short payload")
	}
}

func TestDeriveState(t *testing.T) {
	tests := []struct {
		name       string
		stateBit   bool
		brightness uint8
		wantState  bool
		wantBright uint8
	}{
		{"off", false, 0, false, 0},
		{"full-brightness quirk", true, 0, true, 255},
		{"low dimming level with state bit", true, 5, true, 5},
		{"state bit wins at threshold", true, 2, true, 2},
		{"brightness above threshold without bit", false, 107, true, 107},
		{"below threshold without bit clamps to off", false, 1, false, 0},
		{"at threshold without bit is off", false, 2, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, brightness := deriveState(tt.stateBit, tt.brightness)
			if state != tt.wantState || brightness != tt.wantBright {
				t.Errorf("deriveState(%v, %d) = (%v, %d), want (%v, %d)",
					tt.stateBit, tt.brightness, state, brightness, tt.wantState, tt.wantBright)
			}
			// The external invariant: brightness 0 iff off.
			if (brightness == 0) != !state {
				t.Errorf("invariant violated: state=%v brightness=%d", state, brightness)
			}
		})
	}
}

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name       string
		switchNr   int
		state      bool
		brightness uint8
		want       []byte
	}{
		{"off", 4, false, 0, []byte{4, 0x00, 0, 0}},
		{"zero brightness", 4, true, 0, []byte{4, 0x00, 0, 0}},
		{"at dimming threshold", 4, true, 2, []byte{4, 0x00, 0, 0}},
		{"pwm", 4, true, 150, []byte{4, 0x11, 0, 150}},
		{"just above threshold", 0, true, 3, []byte{0, 0x11, 0, 3}},
		{"just below full", 0, true, 252, []byte{0, 0x11, 0, 252}},
		{"near full", 4, true, 254, []byte{4, 0x01, 0, 0}},
		{"full", 5, true, 255, []byte{5, 0x01, 0, 0}},
		{"off overrides brightness", 3, false, 200, []byte{3, 0x00, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encodeCommand(tt.switchNr, tt.state, tt.brightness)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("encodeCommand(%d, %v, %d) = %v, want %v",
					tt.switchNr, tt.state, tt.brightness, got, tt.want)
			}
		})
	}
}

// TestCommandEchoRoundTrip checks the round-trip law: a synthesized
// command, echoed back by the device as a pair-state frame, decodes to
// the commanded (state, brightness) — modulo the full-brightness quirk.
func TestCommandEchoRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		state      bool
		brightness uint8
		wantState  bool
		wantBright uint8
	}{
		{"off", false, 0, false, 0},
		{"dim low", true, 10, true, 10},
		{"dim mid", true, 128, true, 128},
		{"dim high", true, 252, true, 252},
		{"full on reports via quirk", true, 255, true, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := encodeCommand(0, tt.state, tt.brightness)

			// The device reflects the command in its next pair-state
			// frame: OFF reports bit 0/brightness 0; FULL ON reports
			// bit 1/brightness 0 (the quirk); PWM reports bit 1 plus
			// the commanded brightness byte.
			var reported [8]byte
			switch cmd[1] {
			case modeOff:
				// all zero
			case modeFullOn:
				reported[3] = 0x01
			case modeDimming:
				reported[0] = cmd[3]
				reported[3] = 0x01
			}

			stateBit, brightness, ok := decodeHalf(reported[:], 0)
			if !ok {
				t.Fatal("decodeHalf failed")
			}
			state, effective := deriveState(stateBit, brightness)
			if state != tt.wantState || effective != tt.wantBright {
				t.Errorf("round trip (%v, %d) → (%v, %d), want (%v, %d)",
					tt.state, tt.brightness, state, effective, tt.wantState, tt.wantBright)
			}
		})
	}
}
