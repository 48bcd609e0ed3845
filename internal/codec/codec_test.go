package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"
)

var allCommands = []Command{
	ClearStrip{DelayToClear: 3, ClearType: 1},
	RestartNode{},
	PingRequest{ReqType: 7},
	FillStrip{Colour: Colour{R: 0xFF, G: 0x80, B: 0x01}, DelayToStart: 2, FillType: 1, Pattern: 9},
	PerformPattern{},
	PerformSelfComplete{},
}

func TestFrameLayout(t *testing.T) {
	frame := EncodeWithNonce(FillStrip{Colour: Colour{R: 0xFF}}, 0x1234)

	if len(frame) != MaxFrameSize {
		t.Fatalf("frame size = %d, want %d", len(frame), MaxFrameSize)
	}
	if frame[0] != 0x12 || frame[1] != 0x34 {
		t.Errorf("nonce = %X, want 1234 in plaintext", frame[0:2])
	}

	// key is {0x34, 0x12}, starting at the magic
	want := []byte{
		0x46 ^ 0x34, 0x45 ^ 0x12, // magic
		0x07 ^ 0x34,              // length = 1 + 6
		0x03 ^ 0x12,              // FillStrip
		0xFF ^ 0x34, 0x00 ^ 0x12, 0x00 ^ 0x34, 0x00 ^ 0x12, 0x00 ^ 0x34, 0x00 ^ 0x12,
	}
	if got := frame[2 : len(frame)-CRCSize]; !bytes.Equal(got, want) {
		t.Errorf("obfuscated body = % X, want % X", got, want)
	}

	crc := binary.BigEndian.Uint16(frame[len(frame)-CRCSize:])
	if want := CRC16(frame[:len(frame)-CRCSize]); crc != want {
		t.Errorf("crc = 0x%04X, want 0x%04X", crc, want)
	}
}

// Frames as deployed nodes produce them, nonce fixed.
func TestGoldenFrames(t *testing.T) {
	tests := []struct {
		name  string
		cmd   Command
		nonce uint16
		frame []byte
	}{
		{
			name:  "clear",
			cmd:   ClearStrip{},
			nonce: 0x1234,
			frame: []byte{0x12, 0x34, 0x72, 0x57, 0x37, 0x12, 0x34, 0x12, 0xBF, 0xF2},
		},
		{
			name:  "ping",
			cmd:   PingRequest{},
			nonce: 0xBEEF,
			frame: []byte{0xBE, 0xEF, 0xA9, 0xFB, 0xED, 0xBC, 0xEF, 0xD1, 0x9F},
		},
		{
			name:  "fill red plaintext key",
			cmd:   NewFill(Colour{R: 0xFF}),
			nonce: 0x0000,
			frame: []byte{0x00, 0x00, 0x46, 0x45, 0x07, 0x03, 0xFF, 0x00, 0x00, 0x00, 0xFF, 0xAA, 0x3C, 0x2F},
		},
		{
			name:  "fill blue",
			cmd:   NewFill(Colour{B: 0xFF}),
			nonce: 0xA55A,
			frame: []byte{0xA5, 0x5A, 0x1C, 0xE0, 0x5D, 0xA6, 0x5A, 0xA5, 0xA5, 0xA5, 0xA5, 0x0F, 0x8F, 0x88},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeWithNonce(tt.cmd, tt.nonce); !bytes.Equal(got, tt.frame) {
				t.Errorf("EncodeWithNonce() = % X, want % X", got, tt.frame)
			}
			got, err := Decode(tt.frame)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != tt.cmd {
				t.Errorf("Decode() = %#v, want %#v", got, tt.cmd)
			}
		})
	}
}

func TestNewFillDefaults(t *testing.T) {
	f := NewFill(Colour{G: 0x80})
	if f.DelayToStart != 0x00 || f.FillType != 0xFF || f.Pattern != 0xAA {
		t.Errorf("NewFill() = %#v, want delay 0x00 type 0xFF pattern 0xAA", f)
	}
}

func TestFrameSizes(t *testing.T) {
	tests := []struct {
		cmd  Command
		size int
	}{
		{ClearStrip{}, MinFrameSize + 2},
		{RestartNode{}, MinFrameSize},
		{PingRequest{}, MinFrameSize + 1},
		{FillStrip{}, MinFrameSize + 6},
		{PerformPattern{}, MinFrameSize},
		{PerformSelfComplete{}, MinFrameSize},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Kind().String(), func(t *testing.T) {
			frame := Encode(tt.cmd)
			if len(frame) != tt.size {
				t.Errorf("len = %d, want %d", len(frame), tt.size)
			}
		})
	}
}

func TestRoundTripAllNonces(t *testing.T) {
	for _, cmd := range allCommands {
		t.Run(cmd.Kind().String(), func(t *testing.T) {
			for n := 0; n <= 0xFFFF; n++ {
				got, err := Decode(EncodeWithNonce(cmd, uint16(n)))
				if err != nil {
					t.Fatalf("nonce 0x%04X: Decode() error = %v", n, err)
				}
				if got != cmd {
					t.Fatalf("nonce 0x%04X: Decode() = %#v, want %#v", n, got, cmd)
				}
			}
		})
	}
}

func TestRoundTripRandomFill(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		cmd := FillStrip{
			Colour:       Colour{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256))},
			DelayToStart: uint8(rng.Intn(256)),
			FillType:     uint8(rng.Intn(256)),
			Pattern:      uint8(rng.Intn(256)),
		}
		got, err := Decode(Encode(cmd))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if got != cmd {
			t.Fatalf("Decode() = %#v, want %#v", got, cmd)
		}
	}
}

func TestEncodeVariesNonce(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		seen[string(Encode(ClearStrip{}))] = struct{}{}
	}
	if len(seen) < 2 {
		t.Error("identical commands produced identical frames every time")
	}
}

func TestDecodeTamperedPayloadAndCRC(t *testing.T) {
	for _, cmd := range allCommands {
		frame := EncodeWithNonce(cmd, 0xBEEF)
		start := HeaderSize
		for i := start; i < len(frame); i++ {
			for bit := 0; bit < 8; bit++ {
				tampered := append([]byte(nil), frame...)
				tampered[i] ^= 1 << bit
				_, err := Decode(tampered)
				if !errors.Is(err, ErrCrcMismatch) {
					t.Fatalf("%s: flip byte %d bit %d: err = %v, want ErrCrcMismatch", cmd.Kind(), i, bit, err)
				}
			}
		}
	}
}

// reseal rewrites the plaintext of frame with mutate and recomputes the CRC,
// producing a frame whose checksum is valid.
func reseal(frame []byte, mutate func(plain []byte)) []byte {
	out := append([]byte(nil), frame...)
	nonce := binary.BigEndian.Uint16(out[0:2])
	body := out[2 : len(out)-CRCSize]
	obfuscate(body, nonce)
	mutate(out)
	obfuscate(body, nonce)
	binary.BigEndian.PutUint16(out[len(out)-CRCSize:], CRC16(out[:len(out)-CRCSize]))
	return out
}

func TestDecodeBadMagic(t *testing.T) {
	frame := reseal(EncodeWithNonce(PingRequest{}, 0x0102), func(p []byte) {
		p[2], p[3] = 0xDE, 0xAD
	})
	_, err := Decode(frame)
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	frame := reseal(EncodeWithNonce(PingRequest{}, 0x0102), func(p []byte) {
		p[5] = 0x7F
	})
	_, err := Decode(frame)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	frame := reseal(EncodeWithNonce(FillStrip{}, 0x0102), func(p []byte) {
		p[4] = 9
	})
	_, err := Decode(frame)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestDecodeShortInput(t *testing.T) {
	full := EncodeWithNonce(FillStrip{Colour: Colour{G: 1}}, 0x4242)
	for n := 0; n < len(full); n++ {
		_, err := Decode(full[:n])
		if err == nil {
			t.Fatalf("Decode(%d bytes) succeeded", n)
		}
		if n < MinFrameSize && !errors.Is(err, ErrTruncated) {
			t.Errorf("Decode(%d bytes) err = %v, want ErrTruncated", n, err)
		}
	}
}

func TestDecodeOversized(t *testing.T) {
	frame := append(EncodeWithNonce(FillStrip{}, 1), 0, 0)
	if _, err := Decode(frame); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestDecodeDoesNotModifyInput(t *testing.T) {
	frame := EncodeWithNonce(FillStrip{Colour: Colour{B: 9}}, 0x5555)
	orig := append([]byte(nil), frame...)
	if _, err := Decode(frame); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(frame, orig) {
		t.Errorf("Decode modified its input: % X -> % X", orig, frame)
	}
}

func TestDecodeRandomGarbage(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20000; i++ {
		b := make([]byte, rng.Intn(MaxFrameSize+4))
		rng.Read(b)
		_, _ = Decode(b)
	}
}

func TestReason(t *testing.T) {
	tests := map[error]string{
		ErrBadMagic:       "bad_magic",
		ErrCrcMismatch:    "crc_mismatch",
		ErrUnknownCommand: "unknown_command",
		ErrTruncated:      "truncated",
		errors.New("x"):   "other",
	}
	for err, want := range tests {
		if got := Reason(err); got != want {
			t.Errorf("Reason(%v) = %q, want %q", err, got, want)
		}
	}
}

func FuzzDecode(f *testing.F) {
	for _, cmd := range allCommands {
		f.Add(EncodeWithNonce(cmd, 0xA5A5))
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		cmd, err := Decode(data)
		if err == nil {
			if _, ok := PayloadSize(cmd.Kind()); !ok {
				t.Fatalf("decoded unknown kind %v", cmd.Kind())
			}
		}
	})
}
