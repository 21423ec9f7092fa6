package patchaux

import (
	"image"
	"strings"
	"sync"

	"github.com/soypat/glpatch/glrender"
)

// fakeGL accepts every call and counts live objects. Programs whose fragment
// source contains "#error" fail to compile.
type fakeGL struct {
	mu       sync.Mutex
	next     uint32
	programs map[glrender.Program]bool
	textures map[glrender.Texture]bool
	fbs      map[glrender.Framebuffer]bool
	draws    int
	clear    [4]float32
	// uploads holds the size of every image uploaded, in order.
	uploads []image.Point
}

func newFakeGL() *fakeGL {
	return &fakeGL{
		programs: make(map[glrender.Program]bool),
		textures: make(map[glrender.Texture]bool),
		fbs:      make(map[glrender.Framebuffer]bool),
	}
}

func (f *fakeGL) id() uint32 {
	f.next++
	return f.next
}

func (f *fakeGL) ParallelCompile() bool { return false }

func (f *fakeGL) CompileProgram(vertex, fragment string) (glrender.Program, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(fragment, "#error") {
		return 0, &glrender.ProgramError{Stage: "compile", Log: "#error directive"}
	}
	p := glrender.Program(f.id())
	f.programs[p] = true
	return p, nil
}

func (f *fakeGL) BeginProgram(vertex, fragment string) (glrender.Program, error) {
	return f.CompileProgram(vertex, fragment)
}

func (f *fakeGL) ProgramDone(glrender.Program) bool    { return true }
func (f *fakeGL) ProgramStatus(glrender.Program) error { return nil }
func (f *fakeGL) DeleteProgram(p glrender.Program) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.programs, p)
}
func (f *fakeGL) UseProgram(glrender.Program) {}

func (f *fakeGL) UniformLocation(p glrender.Program, name string) glrender.Location { return 0 }
func (f *fakeGL) Uniform1f(glrender.Location, float32)                              {}
func (f *fakeGL) Uniform2f(glrender.Location, float32, float32)                     {}
func (f *fakeGL) Uniform4f(glrender.Location, [4]float32)                           {}
func (f *fakeGL) Uniform1i(glrender.Location, int32)                                {}

func (f *fakeGL) NewTextureArray(width, height, layers int) (glrender.Texture, error) {
	return f.NewTexture2D()
}

func (f *fakeGL) NewFramebufferLayer(glrender.Texture, int) (glrender.Framebuffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fb := glrender.Framebuffer(f.id())
	f.fbs[fb] = true
	return fb, nil
}

func (f *fakeGL) NewRenderTarget(width, height int) (glrender.Texture, glrender.Framebuffer, error) {
	tex, _ := f.NewTexture2D()
	fb, _ := f.NewFramebufferLayer(tex, 0)
	return tex, fb, nil
}

func (f *fakeGL) NewTexture2D() (glrender.Texture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tex := glrender.Texture(f.id())
	f.textures[tex] = true
	return tex, nil
}

func (f *fakeGL) UploadTexture(_ glrender.Texture, img *image.NRGBA) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, img.Rect.Size())
	return nil
}
func (f *fakeGL) DeleteTexture(tex glrender.Texture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.textures, tex)
}
func (f *fakeGL) DeleteFramebuffer(fb glrender.Framebuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fbs, fb)
}
func (f *fakeGL) BindTexture2D(int, glrender.Texture)    {}
func (f *fakeGL) BindTextureArray(int, glrender.Texture) {}
func (f *fakeGL) BindFramebuffer(glrender.Framebuffer)   {}
func (f *fakeGL) Viewport(int, int)                      {}
func (f *fakeGL) Clear(rgba [4]float32)                  { f.clear = rgba }
func (f *fakeGL) DrawQuad()                              { f.draws++ }

func (f *fakeGL) Blit(src, dst glrender.Framebuffer, srcW, srcH, dstW, dstH int) {}

func (f *fakeGL) ReadPixels(fb glrender.Framebuffer, dst *image.NRGBA) error {
	for i := range dst.Pix {
		dst.Pix[i] = 0x80
	}
	return nil
}

func (f *fakeGL) Err() error { return nil }

// live returns the number of allocated GL objects.
func (f *fakeGL) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.programs) + len(f.textures) + len(f.fbs)
}
