package codec

// AckSize is the length of a liveness acknowledgement.
const AckSize = 5

var ackTemplate = [AckSize]byte{0x4E, 0x4F, 0x00, 0x52, 0x0A}

// ackSlotAt is the position of the reporting slot inside an acknowledgement.
const ackSlotAt = 2

// EncodeAck builds the liveness acknowledgement sent by the node in slot.
func EncodeAck(slot uint8) []byte {
	b := ackTemplate
	b[ackSlotAt] = slot
	return b[:]
}

// ParseAck validates data as a liveness acknowledgement and returns the
// reporting slot. The length and all four fixed bytes must match.
func ParseAck(data []byte) (uint8, bool) {
	if len(data) != AckSize {
		return 0, false
	}
	for i, b := range ackTemplate {
		if i == ackSlotAt {
			continue
		}
		if data[i] != b {
			return 0, false
		}
	}
	return data[ackSlotAt], true
}

// IsAck reports whether data has the shape of a liveness acknowledgement.
func IsAck(data []byte) bool {
	_, ok := ParseAck(data)
	return ok
}
