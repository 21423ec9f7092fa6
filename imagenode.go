package glpatch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/soypat/glpatch/glbuild"
)

// Image draws a texture centered and letterboxed to the frame height.
// Until an image is set the renderer binds a black texture.
type Image struct {
	Scale *glbuild.Control

	mu      sync.Mutex
	img     image.Image
	version uint64
	path    string
	cancel  context.CancelFunc
	loading sync.WaitGroup
}

// NewImage returns an image node drawing img, which may be nil.
func NewImage(img image.Image) *Image {
	n := &Image{Scale: glbuild.NewFloatControl(1, 0.01, 100, 0.01)}
	if img != nil {
		n.SetImage(img)
	}
	return n
}

func (*Image) Kind() string { return "image" }

func (n *Image) Inputs() []glbuild.InputPort {
	return []glbuild.InputPort{{Name: "scale", Type: glbuild.Float, Control: n.Scale}}
}

func (*Image) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{{Name: "out", Type: glbuild.Color}}
}

func (n *Image) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	scale, err := ctx.Input("scale")
	if err != nil {
		return dst, err
	}
	tex := ctx.Uniform(glbuild.UniformSampler2D, "tex")
	aspect := ctx.Uniform(glbuild.UniformFloat, "aspect")
	dst = glbuild.AppendFuncHeader(dst, glbuild.Color, fnName)
	dst = append(dst, "\tvec2 st = uv / max("+scale.Call("uv")+", 1e-3);\n"...)
	dst = append(dst, "\tst.x /= "+aspect+";\n"...)
	dst = append(dst, "\tif (abs(st.x) > 1.0 || abs(st.y) > 1.0) {\n\t\treturn vec4(0.0, 0.0, 0.0, 1.0);\n\t}\n"...)
	return glbuild.AppendReturn(dst, "texture("+tex+", st*vec2(0.5, -0.5) + 0.5)"), nil
}

func (n *Image) UniformUpdate(port, hint string) glbuild.Update {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch hint {
	case "tex":
		return glbuild.TextureUpdate(n.img, n.version)
	case "aspect":
		aspect := float32(1)
		if n.img != nil {
			sz := n.img.Bounds().Size()
			if sz.X > 0 && sz.Y > 0 {
				aspect = float32(sz.X) / float32(sz.Y)
			}
		}
		return glbuild.ScalarUpdate(aspect)
	}
	return glbuild.NoUpdate()
}

// SetImage replaces the drawn image.
func (n *Image) SetImage(img image.Image) {
	n.mu.Lock()
	n.img = img
	n.version++
	n.mu.Unlock()
}

// Load decodes the image file at path in the background. A load in progress is canceled.
// Decoding errors are logged and leave the current image in place.
func (n *Image) Load(path string) {
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.path = path
	n.mu.Unlock()

	n.loading.Add(1)
	go func() {
		defer n.loading.Done()
		img, err := decodeFile(path)
		if ctx.Err() != nil {
			return
		} else if err != nil {
			Logger().Error("loading image", "path", path, "err", err)
			return
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		if ctx.Err() == nil {
			n.img = img
			n.version++
		}
	}()
}

// Path returns the file last passed to [Image.Load].
func (n *Image) Path() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

// Wait blocks until background loads finish.
func (n *Image) Wait() { n.loading.Wait() }

// Close cancels pending loads.
func (n *Image) Close() error {
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
	}
	n.mu.Unlock()
	n.loading.Wait()
	return nil
}

func (n *Image) Set(name string, v any) error {
	if name == "path" {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("image path must be a string, got %T", v)
		}
		n.Load(s)
		return nil
	}
	return setParam(n.Kind(), name, v, map[string]*glbuild.Control{"scale": n.Scale})
}

func decodeFile(path string) (image.Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}
