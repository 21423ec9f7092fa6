package glbuild

import (
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

var errBadColor = errors.New("bad color")

// ParseColor parses CSS style colors: "#rgb", "#rgba", "#rrggbb", "#rrggbbaa",
// "rgb(r,g,b)", "rgba(r,g,b,a)" with a in 0..1 and SVG color names such as "tomato".
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "#"):
		return parseHexColor(s[1:])
	case strings.HasPrefix(s, "rgb"):
		return parseFuncColor(s)
	}
	c, ok := colornames.Map[s]
	if !ok {
		return color.NRGBA{}, fmt.Errorf("%w: unknown color name %q", errBadColor, s)
	}
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}, nil
}

func parseHexColor(h string) (color.NRGBA, error) {
	switch len(h) {
	case 3, 4:
		// Expand short form.
		var long [8]byte
		for i := 0; i < len(h); i++ {
			long[2*i], long[2*i+1] = h[i], h[i]
		}
		h = string(long[:2*len(h)])
	case 6, 8:
	default:
		return color.NRGBA{}, fmt.Errorf("%w: hex color must have 3, 4, 6 or 8 digits, got %q", errBadColor, h)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %w", errBadColor, err)
	}
	if len(h) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func parseFuncColor(s string) (color.NRGBA, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return color.NRGBA{}, fmt.Errorf("%w: %q", errBadColor, s)
	}
	name := s[:open]
	args := strings.Split(s[open+1:len(s)-1], ",")
	if name == "rgb" && len(args) != 3 || name == "rgba" && len(args) != 4 || name != "rgb" && name != "rgba" {
		return color.NRGBA{}, fmt.Errorf("%w: %q", errBadColor, s)
	}
	c := color.NRGBA{A: 255}
	for i, arg := range args {
		f, err := strconv.ParseFloat(strings.TrimSpace(arg), 32)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("%w: %w", errBadColor, err)
		}
		if i == 3 {
			f *= 255
		}
		f = max(0, min(255, f))
		v := uint8(f + 0.5)
		switch i {
		case 0:
			c.R = v
		case 1:
			c.G = v
		case 2:
			c.B = v
		case 3:
			c.A = v
		}
	}
	return c, nil
}
