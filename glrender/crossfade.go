package glrender

import (
	"fmt"
	"image"
	"image/color"

	math "github.com/chewxy/math32"
	"github.com/soypat/geometry/ms2"
)

// CrossfadeMethod selects how the mixer blends channel A into channel B.
type CrossfadeMethod uint8

const (
	CrossfadeLinear CrossfadeMethod = iota
	// CrossfadeWipeHorizontal reveals B from the left edge.
	CrossfadeWipeHorizontal
	// CrossfadeWipeVertical reveals B from the bottom edge.
	CrossfadeWipeVertical
	// CrossfadeWipeRadial reveals B from the center outwards.
	CrossfadeWipeRadial
	// CrossfadeLuma replaces A's bright areas first.
	CrossfadeLuma
	// CrossfadeInverseLuma replaces A's dark areas first.
	CrossfadeInverseLuma
	// CrossfadeCheckerboard wipes alternating cells of an 8x8 board one half after the other.
	CrossfadeCheckerboard
	// CrossfadeLines is a venetian blind wipe of 16 horizontal bands.
	CrossfadeLines
	numCrossfadeMethods
)

var crossfadeNames = [numCrossfadeMethods]string{
	"linear", "wipe-horizontal", "wipe-vertical", "wipe-radial",
	"luma", "inverse-luma", "checkerboard", "lines",
}

func (m CrossfadeMethod) String() string {
	if m < numCrossfadeMethods {
		return crossfadeNames[m]
	}
	return fmt.Sprintf("CrossfadeMethod(%d)", uint8(m))
}

// ParseCrossfadeMethod returns the method named s as printed by [CrossfadeMethod.String].
func ParseCrossfadeMethod(s string) (CrossfadeMethod, error) {
	for i, name := range crossfadeNames {
		if name == s {
			return CrossfadeMethod(i), nil
		}
	}
	return 0, fmt.Errorf("unknown crossfade method %q", s)
}

// MixPixel blends the straight alpha colors a and b at normalized output
// coordinate uv (origin at bottom left) for mix value t. It is the CPU
// reference of the mixer shader: t <= 0 returns a and t >= 1 returns b exactly,
// as does every pixel a wipe has fully uncovered or not yet reached.
func MixPixel(a, b [4]float32, uv ms2.Vec, t float32, m CrossfadeMethod) [4]float32 {
	if t <= 0 {
		return a
	} else if t >= 1 {
		return b
	}
	w := crossfadeWeight(a, uv, t, m)
	if w <= 0 {
		return a
	} else if w >= 1 {
		return b
	}
	var out [4]float32
	for i := range out {
		out[i] = a[i] + (b[i]-a[i])*w
	}
	return out
}

func crossfadeWeight(a [4]float32, uv ms2.Vec, t float32, m CrossfadeMethod) float32 {
	below := func(v, edge float32) float32 {
		if v < edge {
			return 1
		}
		return 0
	}
	switch m {
	case CrossfadeWipeHorizontal:
		return below(uv.X, t)
	case CrossfadeWipeVertical:
		return below(uv.Y, t)
	case CrossfadeWipeRadial:
		d := ms2.Norm(ms2.Sub(uv, ms2.Vec{X: 0.5, Y: 0.5}))
		return below(d*math.Sqrt2, t)
	case CrossfadeLuma:
		return below(1-luma(a), t)
	case CrossfadeInverseLuma:
		return below(luma(a), t)
	case CrossfadeCheckerboard:
		parity := math.Mod(math.Floor(uv.X*8)+math.Floor(uv.Y*8), 2)
		edge := math.Max(0, math.Min(1, t*2-parity))
		return below(fract(uv.X*8), edge)
	case CrossfadeLines:
		return below(fract(uv.Y*16), t)
	}
	return t
}

func luma(c [4]float32) float32 {
	return 0.299*c[0] + 0.587*c[1] + 0.114*c[2]
}

func fract(v float32) float32 { return v - math.Floor(v) }

// MixImage writes the crossfade of a and b into dst, letterboxing each source
// to dst's aspect ratio the way the mixer does. A nil source is treated as an
// empty channel. If both are nil dst is filled with opaque black.
func MixImage(dst *image.NRGBA, a, b image.Image, t float32, m CrossfadeMethod) {
	bounds := dst.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return
	}
	outAspect := float32(w) / float32(h)
	sa := newChannelSampler(a, outAspect)
	sb := newChannelSampler(b, outAspect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Image rows run top down, GL rows bottom up.
			uv := ms2.Vec{X: (float32(x) + 0.5) / float32(w), Y: 1 - (float32(y)+0.5)/float32(h)}
			c := MixPixel(sa.at(uv), sb.at(uv), uv, t, m)
			dst.SetNRGBA(bounds.Min.X+x, bounds.Min.Y+y, color.NRGBA{
				R: unit8(c[0]), G: unit8(c[1]), B: unit8(c[2]), A: unit8(c[3]),
			})
		}
	}
}

type channelSampler struct {
	img   image.Image
	scale float32
}

func newChannelSampler(img image.Image, outAspect float32) channelSampler {
	if img == nil || img.Bounds().Empty() {
		return channelSampler{}
	}
	sz := img.Bounds().Size()
	return channelSampler{img: img, scale: channelScale(outAspect, sz.X, sz.Y)}
}

// at samples the nearest texel. Points outside the letterboxed source are black.
func (s channelSampler) at(uv ms2.Vec) [4]float32 {
	black := [4]float32{0, 0, 0, 1}
	if s.img == nil {
		return black
	}
	stx := (uv.X-0.5)*s.scale + 0.5
	if stx < 0 || stx > 1 {
		return black
	}
	b := s.img.Bounds()
	x := b.Min.X + min(int(stx*float32(b.Dx())), b.Dx()-1)
	y := b.Min.Y + min(int((1-uv.Y)*float32(b.Dy())), b.Dy()-1)
	n := color.NRGBAModel.Convert(s.img.At(x, y)).(color.NRGBA)
	return [4]float32{float32(n.R) / 255, float32(n.G) / 255, float32(n.B) / 255, float32(n.A) / 255}
}

// channelScale returns the horizontal texture coordinate scale letterboxing a
// width x height channel into an output of the given aspect ratio.
func channelScale(outAspect float32, width, height int) float32 {
	if width <= 0 || height <= 0 {
		return 1
	}
	return outAspect / (float32(width) / float32(height))
}

func unit8(v float32) uint8 {
	return uint8(math.Max(0, math.Min(1, v))*255 + 0.5)
}
