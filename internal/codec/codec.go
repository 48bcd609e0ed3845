package codec

import (
	"encoding/binary"
	"fmt"
)

const (
	// Magic marks a frame as lightmesh traffic once de-obfuscated.
	Magic uint16 = 0x4645

	NonceSize  = 2
	MagicSize  = 2
	LengthSize = 1
	KindSize   = 1
	CRCSize    = 2

	// HeaderSize is everything before the payload.
	HeaderSize = NonceSize + MagicSize + LengthSize + KindSize

	// MaxPayloadSize is the largest payload of any variant (FillStrip).
	MaxPayloadSize = 6

	// MinFrameSize is a frame carrying an empty payload.
	MinFrameSize = HeaderSize + CRCSize
	// MaxFrameSize is a frame carrying the largest payload.
	MaxFrameSize = HeaderSize + MaxPayloadSize + CRCSize

	// obfuscation starts right after the nonce
	obfuscateFrom = NonceSize
)

// Encode serialises cmd into a frame under a fresh random nonce.
func Encode(cmd Command) []byte {
	return EncodeWithNonce(cmd, NewNonce())
}

// EncodeWithNonce serialises cmd under the given nonce. Frames are always
// built into a fresh buffer owned by the caller.
func EncodeWithNonce(cmd Command, nonce uint16) []byte {
	buf := make([]byte, 0, MaxFrameSize)
	buf = binary.BigEndian.AppendUint16(buf, nonce)
	buf = binary.BigEndian.AppendUint16(buf, Magic)

	lengthAt := len(buf)
	buf = append(buf, 0, byte(cmd.Kind()))
	buf = cmd.appendPayload(buf)
	buf[lengthAt] = byte(len(buf) - lengthAt - LengthSize)

	// Exactly the bytes after the nonce, nothing past the logical frame.
	obfuscate(buf[obfuscateFrom:], nonce)

	crc := CRC16(buf)
	return binary.BigEndian.AppendUint16(buf, crc)
}

// Decode parses one frame. data is never modified and never read past its
// length; every failure is one of ErrBadMagic, ErrCrcMismatch,
// ErrUnknownCommand or ErrTruncated (wrapped with detail).
func Decode(data []byte) (Command, error) {
	n := len(data)
	if n < MinFrameSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrTruncated, n, MinFrameSize)
	}
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds frame size %d", ErrTruncated, n, MaxFrameSize)
	}

	nonce := binary.BigEndian.Uint16(data[0:NonceSize])
	computed := CRC16(data[:n-CRCSize])

	var plain [MaxFrameSize]byte
	copy(plain[:], data)
	obfuscate(plain[obfuscateFrom:n-CRCSize], nonce)

	c := &cursor{buf: plain[:n-CRCSize], off: NonceSize}

	magic, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: got 0x%04X, want 0x%04X", ErrBadMagic, magic, Magic)
	}

	length, err := c.readByte()
	if err != nil {
		return nil, err
	}
	k, err := c.readByte()
	if err != nil {
		return nil, err
	}
	kind := Kind(k)

	size, ok := PayloadSize(kind)
	if !ok {
		return nil, fmt.Errorf("%w: discriminant 0x%02X", ErrUnknownCommand, k)
	}
	if int(length) != KindSize+size {
		return nil, fmt.Errorf("%w: command length %d does not match %s (%d)", ErrTruncated, length, kind, KindSize+size)
	}

	cmd, err := decodePayload(kind, c)
	if err != nil {
		return nil, err
	}

	crcAt := int(length) + HeaderSize - KindSize
	if crcAt+CRCSize > n {
		return nil, fmt.Errorf("%w: crc at offset %d beyond %d bytes", ErrTruncated, crcAt, n)
	}
	received := binary.BigEndian.Uint16(data[crcAt : crcAt+CRCSize])
	if received != computed {
		return nil, fmt.Errorf("%w: got 0x%04X, computed 0x%04X", ErrCrcMismatch, received, computed)
	}

	return cmd, nil
}
