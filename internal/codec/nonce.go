package codec

import (
	crand "crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"time"
)

// NewNonce returns a uniformly random 16-bit nonce.
// If crypto/rand fails it falls back to math/rand.
func NewNonce() uint16 {
	var b [2]byte
	if _, err := crand.Read(b[:]); err == nil {
		return binary.BigEndian.Uint16(b[:])
	}
	src := mrand.NewSource(time.Now().UnixNano())
	return uint16(mrand.New(src).Uint32())
}

// obfuscate XORs b in place with the key {low(nonce), high(nonce)}, the key
// position counted from the start of b. Applying it twice restores b.
func obfuscate(b []byte, nonce uint16) {
	key := [2]byte{byte(nonce), byte(nonce >> 8)}
	for i := range b {
		b[i] ^= key[i&1]
	}
}
