package catalog

import (
	"strings"

	"firestige.xyz/lightmesh/internal/codec"
)

// palette holds the named colours a catalog may use.
var palette = map[string]codec.Colour{
	"red":      {R: 0xFF, G: 0x00, B: 0x00},
	"green":    {R: 0x00, G: 0x80, B: 0x00},
	"blue":     {R: 0x00, G: 0x00, B: 0xFF},
	"yellow":   {R: 0xFF, G: 0xFF, B: 0x00},
	"purple":   {R: 0x80, G: 0x00, B: 0x80},
	"darkblue": {R: 0x00, G: 0x00, B: 0x8B},
	"magenta":  {R: 0xFF, G: 0x00, B: 0xFF},
	"tomato":   {R: 0xFF, G: 0x63, B: 0x47},
}

// ColourByName resolves a palette name case-insensitively. Unknown names
// resolve to black and report false.
func ColourByName(name string) (codec.Colour, bool) {
	c, ok := palette[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}
