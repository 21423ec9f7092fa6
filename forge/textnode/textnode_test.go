package textnode

import (
	"image"
	"strings"
	"testing"

	"golang.org/x/image/font/gofont/gomono"

	"github.com/soypat/glpatch"
	"github.com/soypat/glpatch/glbuild"
)

func TestRasterize(t *testing.T) {
	n := New("Hello", nil)
	u := n.UniformUpdate("", "glyphs")
	if u.Kind != glbuild.UpdateTexture {
		t.Fatalf("want texture update, got %s", u.Kind)
	}
	img, ok := u.Image.(*image.Alpha)
	if !ok || img == nil {
		t.Fatalf("want alpha image, got %T", u.Image)
	}
	var covered int
	for _, a := range img.Pix {
		if a > 0 {
			covered++
		}
	}
	if covered == 0 {
		t.Fatal("no glyph coverage rasterized")
	}
	// Margins stay empty.
	for x := 0; x < img.Rect.Dx(); x++ {
		if img.AlphaAt(x, 0).A != 0 {
			t.Fatalf("coverage in top margin at x=%d", x)
		}
	}
	aspect := n.UniformUpdate("", "aspect")
	if aspect.Kind != glbuild.UpdateScalar || aspect.Scalar <= 1 {
		t.Errorf("a line of text should be wider than tall, got %v", aspect.Scalar)
	}

	// Same text does not rasterize again.
	v := u.Version
	n.SetText("Hello")
	if got := n.UniformUpdate("", "glyphs").Version; got != v {
		t.Errorf("version changed without text change: %d != %d", got, v)
	}
	n.SetText("Hello, world")
	u2 := n.UniformUpdate("", "glyphs")
	if u2.Version == v {
		t.Error("version must change with text")
	}
	if u2.Image.Bounds().Dx() <= img.Rect.Dx() {
		t.Error("longer text should rasterize wider")
	}
}

func TestEmptyText(t *testing.T) {
	n := New("", nil)
	u := n.UniformUpdate("", "glyphs")
	if u.Kind != glbuild.UpdateTexture || u.Image != nil {
		t.Fatalf("empty text must update with a nil image, got %#v", u.Image)
	}
	if a := n.UniformUpdate("", "aspect").Scalar; a != 1 {
		t.Errorf("empty text aspect: want 1, got %v", a)
	}
}

func TestSetFont(t *testing.T) {
	n := New("mono", nil)
	v := n.UniformUpdate("", "glyphs").Version
	if err := n.SetFontBytes(gomono.TTF); err != nil {
		t.Fatal(err)
	}
	if n.UniformUpdate("", "glyphs").Version == v {
		t.Error("font change must rasterize again")
	}
	if err := n.SetFontBytes([]byte("not a font")); err == nil {
		t.Error("expected font parse error")
	}
	if err := n.Set("font", "testdata/missing.ttf"); err == nil {
		t.Error("expected missing font file error")
	}
}

func TestTextNode(t *testing.T) {
	node, err := glpatch.NewNode("text")
	if err != nil {
		t.Fatal(err)
	}
	s := node.(glpatch.Setter)
	for name, v := range map[string]any{"text": "glpatch", "color": "tomato", "scale": 0.5} {
		if err := s.Set(name, v); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	if err := s.Set("text", 3); err == nil {
		t.Error("expected error for non string text")
	}
	if got := node.(*Text).Text(); got != "glpatch" {
		t.Errorf("text: got %q", got)
	}

	g := glpatch.NewGraph()
	id := g.AddNode(node)
	o := g.AddNode(&glpatch.Output{})
	if err := g.Connect(glbuild.PortRef{Node: id, Port: "out"}, glbuild.PortRef{Node: o, Port: glpatch.OutputInput}); err != nil {
		t.Fatal(err)
	}
	prog := glpatch.Compile(g)
	if prog == nil {
		t.Fatal("expected program")
	}
	var sampler bool
	for _, b := range prog.Bindings.All() {
		if b.Type == glbuild.UniformSampler2D {
			sampler = true
			if !strings.Contains(prog.Source, "uniform sampler2D "+b.Name+";") {
				t.Errorf("sampler %s not declared\n%s", b.Name, prog.Source)
			}
		}
	}
	if !sampler {
		t.Error("text node must bind a sampler")
	}
}
