package codec

// CRC-16 parameters: reflected polynomial 0xA001, seed 0xFFFF, no final XOR.
const (
	crcPoly = 0xA001
	crcSeed = 0xFFFF
)

// CRC16 computes the frame checksum with a table-free bit loop.
func CRC16(data []byte) uint16 {
	crc := uint16(crcSeed)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ crcPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
