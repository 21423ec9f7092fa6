package glsllib

import (
	_ "embed"

	"github.com/soypat/glpatch/glbuild"
)

//go:embed rotate2d.glsl
var rotate2dSrc []byte

// Rotate2D rotates p counter clockwise by angle radians:
//
//	vec2 rotate2d(vec2 p, float angle)
func Rotate2D() glbuild.Snippet {
	return mustSnippet(rotate2dSrc)
}

//go:embed hash12.glsl
var hash12Src []byte

// Hash12 is a sine-free pseudo random hash in 0..1:
//
//	float hash12(vec2 p)
func Hash12() glbuild.Snippet {
	return mustSnippet(hash12Src)
}

//go:embed valuenoise.glsl
var valueNoiseSrc []byte

// ValueNoise returns smooth value noise in 0..1. It depends on [Hash12]
// which must be required before it:
//
//	float valueNoise(vec2 p)
func ValueNoise() [2]glbuild.Snippet {
	return [2]glbuild.Snippet{Hash12(), mustSnippet(valueNoiseSrc)}
}

func mustSnippet(src []byte) glbuild.Snippet {
	s, err := glbuild.MakeSnippet(src)
	if err != nil {
		panic(err)
	}
	return s
}
