package glsllib

import (
	_ "embed"

	"github.com/soypat/glpatch/glbuild"
)

//go:embed hsv2rgb.glsl
var hsv2rgbSrc []byte

// HSV2RGB converts hue, saturation and value in 0..1 to RGB:
//
//	vec3 hsv2rgb(vec3 c)
func HSV2RGB() glbuild.Snippet {
	return mustSnippet(hsv2rgbSrc)
}

//go:embed rgb2hsv.glsl
var rgb2hsvSrc []byte

// RGB2HSV is the inverse of [HSV2RGB]:
//
//	vec3 rgb2hsv(vec3 c)
func RGB2HSV() glbuild.Snippet {
	return mustSnippet(rgb2hsvSrc)
}

//go:embed palette.glsl
var paletteSrc []byte

// Palette is a cosine gradient palette:
//
//	vec3 palette(float t, vec3 a, vec3 b, vec3 c, vec3 d)
func Palette() glbuild.Snippet {
	return mustSnippet(paletteSrc)
}
