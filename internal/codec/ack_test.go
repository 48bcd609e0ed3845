package codec

import "testing"

func TestAckRoundTrip(t *testing.T) {
	for slot := 0; slot < 17; slot++ {
		got, ok := ParseAck(EncodeAck(uint8(slot)))
		if !ok || got != uint8(slot) {
			t.Fatalf("ParseAck(EncodeAck(%d)) = %d, %v", slot, got, ok)
		}
	}
}

func TestAckLayout(t *testing.T) {
	want := []byte{0x4E, 0x4F, 0x03, 0x52, 0x0A}
	got := EncodeAck(3)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("EncodeAck(3) = % X, want % X", got, want)
		}
	}
}

func TestParseAckRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{0x4E, 0x4F, 0x01, 0x52}},
		{"long", []byte{0x4E, 0x4F, 0x01, 0x52, 0x0A, 0x00}},
		{"bad first", []byte{0x4D, 0x4F, 0x01, 0x52, 0x0A}},
		{"bad second", []byte{0x4E, 0x00, 0x01, 0x52, 0x0A}},
		{"bad fourth", []byte{0x4E, 0x4F, 0x01, 0x53, 0x0A}},
		{"bad fifth", []byte{0x4E, 0x4F, 0x01, 0x52, 0x0D}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := ParseAck(tt.data); ok {
				t.Errorf("ParseAck(% X) accepted", tt.data)
			}
		})
	}
}
