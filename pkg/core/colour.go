// pkg/core/colour.go
package core

import (
	"errors"
	"fmt"
	"image"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// ErrUnknownColour is returned when a colour name is not part of the closed vocabulary.
var ErrUnknownColour = errors.New("unknown colour")

// Colour is the closed set of colour classes a detected target can fall into.
type Colour int

const (
	Black Colour = iota + 1
	White
	Grey
	Red
	Yellow
	Green
	Cyan
	Blue
	Magenta
)

// colourNames is the wire vocabulary. It is the only place names are defined;
// ParseColour and String both read from it.
var colourNames = map[Colour]string{
	Black:   "BLACK",
	White:   "WHITE",
	Grey:    "GREY",
	Red:     "RED",
	Yellow:  "YELLOW",
	Green:   "GREEN",
	Cyan:    "CYAN",
	Blue:    "BLUE",
	Magenta: "MAGENTA",
}

// AllColours lists every colour in declaration order.
func AllColours() []Colour {
	return []Colour{Black, White, Grey, Red, Yellow, Green, Cyan, Blue, Magenta}
}

// TrackableColours lists the colours eligible for targeting (everything but BLACK).
func TrackableColours() []Colour {
	out := make([]Colour, 0, len(colourNames)-1)
	for _, c := range AllColours() {
		if c != Black {
			out = append(out, c)
		}
	}
	return out
}

func (c Colour) String() string {
	if name, ok := colourNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Colour(%d)", int(c))
}

// Valid reports whether c is a member of the closed vocabulary.
func (c Colour) Valid() bool {
	_, ok := colourNames[c]
	return ok
}

// ParseColour maps a wire name to a Colour. Matching is exact: names are upper case.
func ParseColour(name string) (Colour, error) {
	for c, n := range colourNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownColour, name)
}

// MarshalText implements encoding.TextMarshaler so colours travel as names.
func (c Colour) MarshalText() ([]byte, error) {
	name, ok := colourNames[c]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownColour, int(c))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names fail the
// whole decode, so a config carrying one is never partially applied.
func (c *Colour) UnmarshalText(text []byte) error {
	parsed, err := ParseColour(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// HSV is a colour sample: hue in degrees [0,360), saturation and value in percent [0,100].
type HSV struct {
	Hue        float64
	Saturation float64
	Value      float64
}

// HSVFromOpenCV converts the 8-bit OpenCV convention (H 0..179, S and V 0..255).
func HSVFromOpenCV(h, s, v uint8) HSV {
	return HSV{
		Hue:        float64(h) / 179 * 360,
		Saturation: float64(s) / 255 * 100,
		Value:      float64(v) / 255 * 100,
	}
}

// ClassifyHSV buckets a sample into a Colour. Dark samples are BLACK, washed
// out samples are WHITE or GREY, everything else goes by 60 degree hue bands
// starting with RED below 30 degrees and wrapping back to RED past 330.
func ClassifyHSV(p HSV) Colour {
	if p.Value < 20 {
		return Black
	}
	if p.Saturation < 25 {
		if p.Value > 80 {
			return White
		}
		return Grey
	}

	switch {
	case p.Hue < 30:
		return Red
	case p.Hue < 90:
		return Yellow
	case p.Hue < 150:
		return Green
	case p.Hue < 210:
		return Cyan
	case p.Hue < 270:
		return Blue
	case p.Hue < 330:
		return Magenta
	}
	return Red
}

// SampleHSV reads the pixel at (x, y) and converts it to HSV.
// Points outside the image bounds are clamped to the nearest edge pixel.
func SampleHSV(img image.Image, x, y int) HSV {
	b := img.Bounds()
	if x < b.Min.X {
		x = b.Min.X
	}
	if x >= b.Max.X {
		x = b.Max.X - 1
	}
	if y < b.Min.Y {
		y = b.Min.Y
	}
	if y >= b.Max.Y {
		y = b.Max.Y - 1
	}

	c, ok := colorful.MakeColor(img.At(x, y))
	if !ok {
		// fully transparent pixel
		return HSV{}
	}
	h, s, v := c.Hsv()
	return HSV{Hue: h, Saturation: s * 100, Value: v * 100}
}

// SampleColour classifies the colour found at (x, y) in img.
func SampleColour(img image.Image, x, y int) Colour {
	return ClassifyHSV(SampleHSV(img, x, y))
}
