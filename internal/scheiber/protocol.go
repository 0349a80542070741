package scheiber

// Bloc9 wire protocol.
//
// A Bloc9 with DIP-configured device id d participates in three frame
// kinds, all extended (29-bit) identifiers whose low byte is
// (d << 3) | 0x80:
//
//   - heartbeat / low-priority status: 0x00000600 | B(d)
//   - pair-state frames, one arbitration ID per output pair:
//     0x02160600 | B(d) → S1/S2, 0x02180600 | B(d) → S3/S4,
//     0x021A0600 | B(d) → S5/S6
//   - command frames (sent by this bridge, echoed by the device):
//     0x02360600 | B(d), payload [switch_nr, mode, 0x00, brightness]
const (
	heartbeatBase uint32 = 0x00000600
	pairS1S2Base  uint32 = 0x02160600
	pairS3S4Base  uint32 = 0x02180600
	pairS5S6Base  uint32 = 0x021A0600
	commandBase   uint32 = 0x02360600
)

// Command mode bytes.
const (
	modeOff     byte = 0x00
	modeFullOn  byte = 0x01
	modeDimming byte = 0x11
)

// DimmingThreshold is the brightness below which the hardware does not
// PWM: commands at or below it switch the output fully off, and reported
// brightness at or below it does not by itself mean the output is on.
const DimmingThreshold = 2

// pairStateLength is the payload size of a pair-state frame.
const pairStateLength = 8

// deviceIDByte computes the low address byte for a device id.
func deviceIDByte(deviceID int) uint32 {
	return uint32((deviceID<<3)|0x80) & 0xFF
}

// heartbeatID returns the heartbeat arbitration ID for a device.
func heartbeatID(deviceID int) uint32 {
	return heartbeatBase | deviceIDByte(deviceID)
}

// commandID returns the command arbitration ID for a device.
func commandID(deviceID int) uint32 {
	return commandBase | deviceIDByte(deviceID)
}

// pairStateID returns the pair-state arbitration ID covering the given
// zero-based switch number.
func pairStateID(deviceID, switchNr int) uint32 {
	var base uint32
	switch switchNr / 2 {
	case 0:
		base = pairS1S2Base
	case 1:
		base = pairS3S4Base
	default:
		base = pairS5S6Base
	}
	return base | deviceIDByte(deviceID)
}

// decodeHalf extracts the reported state bit and brightness for one
// output from an 8-byte pair-state payload.
//
// Even switch numbers (S1/S3/S5) occupy bytes 0..3: byte 0 is the
// brightness, byte 3 bit 0 the state bit. Odd numbers (S2/S4/S6) occupy
// bytes 4..7 the same way. Byte 2 of each half is a mode indicator
// (0x11 during active PWM) and is not part of state extraction.
func decodeHalf(data []byte, switchNr int) (stateBit bool, brightness uint8, ok bool) {
	if len(data) < pairStateLength {
		return false, 0, false
	}
	if switchNr%2 == 0 {
		return data[3]&0x01 == 0x01, data[0], true
	}
	return data[7]&0x01 == 0x01, data[4], true
}

// deriveState applies the state-derivation rule to a decoded half.
//
// The hardware reports full-on-without-PWM as state=1, brightness=0;
// that is surfaced as brightness 255. When the derived state is off the
// brightness is clamped to 0 so that callers always observe
// brightness == 0 ⇔ state == false.
func deriveState(stateBit bool, brightness uint8) (bool, uint8) {
	state := stateBit || brightness > DimmingThreshold
	if !state {
		return false, 0
	}
	if brightness == 0 {
		return true, 255
	}
	return true, brightness
}

// encodeCommand synthesizes the 4-byte command payload for a target
// state and brightness.
//
//	off or brightness ≤ 2   → mode 0x00, brightness byte 0
//	brightness ≥ 253        → mode 0x01, brightness byte 0
//	otherwise               → mode 0x11, brightness byte as-is
func encodeCommand(switchNr int, state bool, brightness uint8) []byte {
	switch {
	case !state || brightness <= DimmingThreshold:
		return []byte{byte(switchNr), modeOff, 0x00, 0x00}
	case brightness >= 255-DimmingThreshold:
		return []byte{byte(switchNr), modeFullOn, 0x00, 0x00}
	default:
		return []byte{byte(switchNr), modeDimming, 0x00, brightness}
	}
}
