package codec

import "fmt"

// Kind is the single byte discriminant identifying a command variant.
type Kind uint8

const (
	KindClearStrip          Kind = 0x00
	KindRestartNode         Kind = 0x01
	KindPingRequest         Kind = 0x02
	KindFillStrip           Kind = 0x03
	KindPerformPattern      Kind = 0x04
	KindPerformSelfComplete Kind = 0x05
)

// FillStrip fields the controller sends when it drives a pattern. Nodes
// currently only act on the colour.
const (
	FillDelayToStartDefault uint8 = 0x00
	FillTypeDefault         uint8 = 0xFF
	FillPatternDefault      uint8 = 0xAA
)

// NewFill returns a FillStrip for c carrying the default delay, fill type and
// pattern fields.
func NewFill(c Colour) FillStrip {
	return FillStrip{
		Colour:       c,
		DelayToStart: FillDelayToStartDefault,
		FillType:     FillTypeDefault,
		Pattern:      FillPatternDefault,
	}
}

// payloadSizes holds the fixed payload size for every known discriminant.
var payloadSizes = map[Kind]int{
	KindClearStrip:          2,
	KindRestartNode:         0,
	KindPingRequest:         1,
	KindFillStrip:           6,
	KindPerformPattern:      0,
	KindPerformSelfComplete: 0,
}

// PayloadSize returns the payload size implied by k.
func PayloadSize(k Kind) (int, bool) {
	n, ok := payloadSizes[k]
	return n, ok
}

func (k Kind) String() string {
	switch k {
	case KindClearStrip:
		return "ClearStrip"
	case KindRestartNode:
		return "RestartNode"
	case KindPingRequest:
		return "PingRequest"
	case KindFillStrip:
		return "FillStrip"
	case KindPerformPattern:
		return "PerformPattern"
	case KindPerformSelfComplete:
		return "PerformSelfComplete"
	default:
		return fmt.Sprintf("Kind(0x%02X)", uint8(k))
	}
}

// Colour is an 8-bit RGB triplet.
type Colour struct {
	R, G, B uint8
}

// Off is the colour a strip shows when cleared.
var Off = Colour{}

func (c Colour) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Command is one of the wire command variants. The set is closed: only the
// types in this package implement it.
type Command interface {
	Kind() Kind
	appendPayload(b []byte) []byte
}

// ClearStrip turns a strip off.
type ClearStrip struct {
	DelayToClear uint8
	ClearType    uint8
}

// RestartNode is reserved; it carries no payload and no behaviour yet.
type RestartNode struct{}

// PingRequest asks nodes for a liveness acknowledgement.
type PingRequest struct {
	ReqType uint8
}

// FillStrip sets a whole strip to one colour.
type FillStrip struct {
	Colour       Colour
	DelayToStart uint8
	FillType     uint8
	Pattern      uint8
}

// PerformPattern is reserved.
type PerformPattern struct{}

// PerformSelfComplete is reserved.
type PerformSelfComplete struct{}

func (ClearStrip) Kind() Kind          { return KindClearStrip }
func (RestartNode) Kind() Kind         { return KindRestartNode }
func (PingRequest) Kind() Kind         { return KindPingRequest }
func (FillStrip) Kind() Kind           { return KindFillStrip }
func (PerformPattern) Kind() Kind      { return KindPerformPattern }
func (PerformSelfComplete) Kind() Kind { return KindPerformSelfComplete }

func (c ClearStrip) appendPayload(b []byte) []byte {
	return append(b, c.DelayToClear, c.ClearType)
}

func (RestartNode) appendPayload(b []byte) []byte { return b }

func (c PingRequest) appendPayload(b []byte) []byte {
	return append(b, c.ReqType)
}

func (c FillStrip) appendPayload(b []byte) []byte {
	return append(b, c.Colour.R, c.Colour.G, c.Colour.B, c.DelayToStart, c.FillType, c.Pattern)
}

func (PerformPattern) appendPayload(b []byte) []byte      { return b }
func (PerformSelfComplete) appendPayload(b []byte) []byte { return b }

// decodePayload reads the fixed payload of kind k from c.
func decodePayload(k Kind, c *cursor) (Command, error) {
	switch k {
	case KindClearStrip:
		b, err := c.next(2)
		if err != nil {
			return nil, err
		}
		return ClearStrip{DelayToClear: b[0], ClearType: b[1]}, nil
	case KindRestartNode:
		return RestartNode{}, nil
	case KindPingRequest:
		b, err := c.next(1)
		if err != nil {
			return nil, err
		}
		return PingRequest{ReqType: b[0]}, nil
	case KindFillStrip:
		b, err := c.next(6)
		if err != nil {
			return nil, err
		}
		return FillStrip{
			Colour:       Colour{R: b[0], G: b[1], B: b[2]},
			DelayToStart: b[3],
			FillType:     b[4],
			Pattern:      b[5],
		}, nil
	case KindPerformPattern:
		return PerformPattern{}, nil
	case KindPerformSelfComplete:
		return PerformSelfComplete{}, nil
	default:
		return nil, fmt.Errorf("%w: discriminant 0x%02X", ErrUnknownCommand, uint8(k))
	}
}
