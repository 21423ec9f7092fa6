// Package textnode implements a node drawing a line of text. Text is
// rasterized on the CPU with freetype and reaches the shader as a texture.
package textnode

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	"github.com/soypat/glpatch"
	"github.com/soypat/glpatch/glbuild"
)

func init() {
	glpatch.RegisterKind("text", func() glbuild.Node { return New("", nil) })
}

const (
	// rasterSize is the font size in pixels text is rasterized at.
	rasterSize = 96
	margin     = rasterSize / 8
)

var defaultFont = sync.OnceValues(func() (*truetype.Font, error) {
	return truetype.Parse(goregular.TTF)
})

// Text draws a centered line of text. Scale is the text height relative to the frame height.
type Text struct {
	Color *glbuild.Control
	Scale *glbuild.Control

	mu      sync.Mutex
	ttf     *truetype.Font
	text    string
	img     *image.Alpha
	dirty   bool
	version uint64
}

// New returns a text node drawing s with ttf. A nil font selects Go Regular.
func New(s string, ttf *truetype.Font) *Text {
	return &Text{
		Color: glbuild.NewColorControl(color.White),
		Scale: glbuild.NewFloatControl(0.2, 0.01, 2, 0.01),
		ttf:   ttf,
		text:  s,
		dirty: true,
	}
}

func (*Text) Kind() string { return "text" }

func (t *Text) Inputs() []glbuild.InputPort {
	return []glbuild.InputPort{
		{Name: "color", Type: glbuild.Color, Control: t.Color},
		{Name: "scale", Type: glbuild.Float, Control: t.Scale},
	}
}

func (*Text) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{{Name: "out", Type: glbuild.Color}}
}

func (t *Text) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	col, err := ctx.Input("color")
	if err != nil {
		return dst, err
	}
	scale, err := ctx.Input("scale")
	if err != nil {
		return dst, err
	}
	tex := ctx.Uniform(glbuild.UniformSampler2D, "glyphs")
	aspect := ctx.Uniform(glbuild.UniformFloat, "aspect")
	dst = glbuild.AppendFuncHeader(dst, glbuild.Color, fnName)
	dst = append(dst, "\tvec2 st = uv / max("+scale.Call("uv")+", 1e-3);\n"...)
	dst = append(dst, "\tst.x /= "+aspect+";\n"...)
	dst = append(dst, "\tif (abs(st.x) > 1.0 || abs(st.y) > 1.0) {\n\t\treturn vec4(0.0, 0.0, 0.0, 1.0);\n\t}\n"...)
	dst = append(dst, "\tfloat cov = texture("+tex+", st*vec2(0.5, -0.5) + 0.5).a;\n"...)
	return glbuild.AppendReturn(dst, "vec4("+col.Call("uv")+".rgb*cov, 1.0)"), nil
}

func (t *Text) UniformUpdate(port, hint string) glbuild.Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dirty {
		t.rasterize()
	}
	switch hint {
	case "glyphs":
		if t.img == nil {
			return glbuild.TextureUpdate(nil, t.version)
		}
		return glbuild.TextureUpdate(t.img, t.version)
	case "aspect":
		aspect := float32(1)
		if t.img != nil {
			sz := t.img.Rect.Size()
			aspect = float32(sz.X) / float32(sz.Y)
		}
		return glbuild.ScalarUpdate(aspect)
	}
	return glbuild.NoUpdate()
}

// SetText replaces the drawn text. The glyphs are rasterized on the next uniform update.
func (t *Text) SetText(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s != t.text {
		t.text = s
		t.dirty = true
	}
}

// Text returns the drawn text.
func (t *Text) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text
}

// SetFontBytes parses and sets a TrueType font.
func (t *Text) SetFontBytes(ttf []byte) error {
	f, err := truetype.Parse(ttf)
	if err != nil {
		return fmt.Errorf("parsing font: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ttf = f
	t.dirty = true
	return nil
}

// rasterize draws the text as coverage in an alpha image. An empty string
// produces a nil image, which renders black.
func (t *Text) rasterize() {
	t.dirty = false
	t.version++
	t.img = nil
	if t.text == "" {
		return
	}
	ttf := t.ttf
	if ttf == nil {
		var err error
		ttf, err = defaultFont()
		if err != nil {
			glpatch.Logger().Error("loading default font", "err", err)
			return
		}
	}
	face := truetype.NewFace(ttf, &truetype.Options{Size: rasterSize, DPI: 72, Hinting: font.HintingFull})
	defer face.Close()
	metrics := face.Metrics()
	width := font.MeasureString(face, t.text).Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()
	img := image.NewAlpha(image.Rect(0, 0, width+2*margin, height+2*margin))

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(ttf)
	c.SetFontSize(rasterSize)
	c.SetHinting(font.HintingFull)
	c.SetClip(img.Bounds())
	c.SetDst(img)
	c.SetSrc(image.Opaque)
	pt := fixed.P(margin, margin)
	pt.Y += metrics.Ascent
	if _, err := c.DrawString(t.text, pt); err != nil {
		glpatch.Logger().Error("rasterizing text", "text", t.text, "err", err)
		return
	}
	t.img = img
}

// Set sets the "text" string, the "font" file path and the "color" and "scale" parameters.
func (t *Text) Set(name string, v any) error {
	switch name {
	case "text":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("text must be a string, got %T", v)
		}
		t.SetText(s)
		return nil
	case "font":
		path, ok := v.(string)
		if !ok {
			return fmt.Errorf("font must be a file path, got %T", v)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return t.SetFontBytes(b)
	case "color":
		return t.Color.SetValue(v)
	case "scale":
		return t.Scale.SetValue(v)
	}
	return fmt.Errorf("unknown parameter %q for text node", name)
}

var (
	_ glbuild.Updater = (*Text)(nil)
	_ glpatch.Setter  = (*Text)(nil)
)
