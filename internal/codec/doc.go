// Package codec implements the lightmesh wire format.
//
// Every command travels as one self-describing frame:
//
//	Offset  Size  Description
//	------  ----  -----------
//	0       2     Nonce (big-endian, plaintext, random per frame)
//	2       2     Magic 0x4645 (obfuscated)
//	4       1     Command length = 1 + payload size (obfuscated)
//	5       1     Discriminant (obfuscated)
//	6       …     Payload, fixed size per discriminant (obfuscated)
//	N-2     2     CRC-16 over bytes [0, N-2) (big-endian, plaintext)
//
// Payload layouts:
//
//	0x00 ClearStrip           delayToClear(1) clearType(1)
//	0x01 RestartNode          reserved, empty
//	0x02 PingRequest          reqType(1)
//	0x03 FillStrip            r(1) g(1) b(1) delayToStart(1) fillType(1) pattern(1)
//	0x04 PerformPattern       reserved, empty
//	0x05 PerformSelfComplete  reserved, empty
//
// The obfuscated range is XORed with a two byte key taken from the nonce
// (low byte first, then high byte, repeating). It hides identical commands
// from each other on air; it is not encryption. The CRC is always computed
// over the obfuscated bytes.
//
// Liveness acknowledgements are not frames: a node answers a PingRequest with
// the raw five bytes {0x4E, 0x4F, slot, 0x52, 0x0A}, see EncodeAck/ParseAck.
package codec
