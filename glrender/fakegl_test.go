package glrender

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
)

// recorder is a GL that tracks object lifetimes and records the calls rendering makes.
type recorder struct {
	parallel bool
	nextID   uint32

	programs map[Program]*fakeProgram
	inUse    Program
	textures map[Texture]string
	fbs      map[Framebuffer]fakeFB
	bound    Framebuffer
	units    map[int]Texture
	uploads  map[Texture]image.Point

	locNames map[Location]string
	nextLoc  Location
	// uniforms holds the last value set per location.
	uniforms map[Location]any

	draws   []Program
	blits   [][2]Framebuffer
	clears  map[Framebuffer][4]float32
	history []string
}

type fakeProgram struct {
	fragment string
	done     bool
	deleted  bool
	locs     map[string]Location
}

type fakeFB struct {
	tex   Texture
	layer int
}

func newRecorder(parallel bool) *recorder {
	return &recorder{
		parallel: parallel,
		programs: make(map[Program]*fakeProgram),
		textures: make(map[Texture]string),
		fbs:      make(map[Framebuffer]fakeFB),
		units:    make(map[int]Texture),
		uploads:  make(map[Texture]image.Point),
		locNames: make(map[Location]string),
		uniforms: make(map[Location]any),
		clears:   make(map[Framebuffer][4]float32),
	}
}

func (r *recorder) id() uint32 {
	r.nextID++
	return r.nextID
}

func (r *recorder) ParallelCompile() bool { return r.parallel }

func (r *recorder) CompileProgram(vertex, fragment string) (Program, error) {
	if strings.Contains(fragment, "#error") {
		return 0, &ProgramError{Stage: "fragment", Log: "0:1: '#error' : bad shader"}
	}
	p := Program(r.id())
	r.programs[p] = &fakeProgram{fragment: fragment, done: true, locs: make(map[string]Location)}
	return p, nil
}

func (r *recorder) BeginProgram(vertex, fragment string) (Program, error) {
	p := Program(r.id())
	r.programs[p] = &fakeProgram{fragment: fragment, locs: make(map[string]Location)}
	return p, nil
}

// finish marks a program started with BeginProgram as compiled.
func (r *recorder) finish(p Program) { r.programs[p].done = true }

func (r *recorder) ProgramDone(p Program) bool { return r.programs[p].done }

func (r *recorder) ProgramStatus(p Program) error {
	if strings.Contains(r.programs[p].fragment, "#error") {
		return &ProgramError{Stage: "link", Log: "bad shader"}
	}
	return nil
}

func (r *recorder) DeleteProgram(p Program) {
	fp := r.programs[p]
	if fp == nil || fp.deleted {
		panic(fmt.Sprintf("delete of unknown program %d", p))
	}
	fp.deleted = true
}

func (r *recorder) UseProgram(p Program) {
	if r.programs[p].deleted {
		panic("use of deleted program")
	}
	r.inUse = p
}

func (r *recorder) UniformLocation(p Program, name string) Location {
	fp := r.programs[p]
	if !strings.Contains(fp.fragment, name) {
		return NoLocation
	}
	loc, ok := fp.locs[name]
	if !ok {
		loc = r.nextLoc
		r.nextLoc++
		fp.locs[name] = loc
		r.locNames[loc] = name
	}
	return loc
}

func (r *recorder) set(loc Location, v any) {
	if loc != NoLocation {
		r.uniforms[loc] = v
	}
}

func (r *recorder) Uniform1f(loc Location, v float32)    { r.set(loc, v) }
func (r *recorder) Uniform2f(loc Location, x, y float32) { r.set(loc, [2]float32{x, y}) }
func (r *recorder) Uniform4f(loc Location, v [4]float32) { r.set(loc, v) }
func (r *recorder) Uniform1i(loc Location, v int32)      { r.set(loc, v) }

// uniform returns the last value set on the uniform name of the program in use.
func (r *recorder) uniform(name string) any {
	loc, ok := r.programs[r.inUse].locs[name]
	if !ok {
		return nil
	}
	return r.uniforms[loc]
}

func (r *recorder) NewTextureArray(width, height, layers int) (Texture, error) {
	t := Texture(r.id())
	r.textures[t] = fmt.Sprintf("array %dx%dx%d", width, height, layers)
	return t, nil
}

func (r *recorder) NewFramebufferLayer(array Texture, layer int) (Framebuffer, error) {
	if _, ok := r.textures[array]; !ok {
		return 0, errors.New("no such texture")
	}
	fb := Framebuffer(r.id())
	r.fbs[fb] = fakeFB{tex: array, layer: layer}
	return fb, nil
}

func (r *recorder) NewRenderTarget(width, height int) (Texture, Framebuffer, error) {
	t := Texture(r.id())
	r.textures[t] = fmt.Sprintf("target %dx%d", width, height)
	fb := Framebuffer(r.id())
	r.fbs[fb] = fakeFB{tex: t}
	return t, fb, nil
}

func (r *recorder) NewTexture2D() (Texture, error) {
	t := Texture(r.id())
	r.textures[t] = "2d"
	return t, nil
}

func (r *recorder) UploadTexture(tex Texture, img *image.NRGBA) error {
	if _, ok := r.textures[tex]; !ok {
		return errors.New("upload to unknown texture")
	}
	r.uploads[tex] = img.Rect.Size()
	return nil
}

func (r *recorder) DeleteTexture(tex Texture) {
	if _, ok := r.textures[tex]; !ok {
		panic(fmt.Sprintf("delete of unknown texture %d", tex))
	}
	delete(r.textures, tex)
	delete(r.uploads, tex)
}

func (r *recorder) DeleteFramebuffer(fb Framebuffer) {
	if _, ok := r.fbs[fb]; !ok {
		panic(fmt.Sprintf("delete of unknown framebuffer %d", fb))
	}
	delete(r.fbs, fb)
	delete(r.clears, fb)
}

func (r *recorder) BindTexture2D(unit int, tex Texture)    { r.units[unit] = tex }
func (r *recorder) BindTextureArray(unit int, tex Texture) { r.units[unit] = tex }

func (r *recorder) BindFramebuffer(fb Framebuffer) {
	if _, ok := r.fbs[fb]; fb != 0 && !ok {
		panic(fmt.Sprintf("bind of unknown framebuffer %d", fb))
	}
	r.bound = fb
}

func (r *recorder) Viewport(width, height int) {}

func (r *recorder) Clear(rgba [4]float32) {
	r.clears[r.bound] = rgba
	r.history = append(r.history, fmt.Sprintf("clear %d", r.bound))
}

func (r *recorder) DrawQuad() {
	r.draws = append(r.draws, r.inUse)
	r.history = append(r.history, fmt.Sprintf("draw %d", r.inUse))
}

func (r *recorder) Blit(src, dst Framebuffer, srcW, srcH, dstW, dstH int) {
	r.blits = append(r.blits, [2]Framebuffer{src, dst})
	r.history = append(r.history, fmt.Sprintf("blit %d %d", src, dst))
}

// ReadPixels fills dst with the last clear color of fb.
func (r *recorder) ReadPixels(fb Framebuffer, dst *image.NRGBA) error {
	c := r.clears[fb]
	fill := color.NRGBA{R: uint8(c[0] * 255), G: uint8(c[1] * 255), B: uint8(c[2] * 255), A: uint8(c[3] * 255)}
	for y := dst.Rect.Min.Y; y < dst.Rect.Max.Y; y++ {
		for x := dst.Rect.Min.X; x < dst.Rect.Max.X; x++ {
			dst.SetNRGBA(x, y, fill)
		}
	}
	return nil
}

func (r *recorder) Err() error { return nil }

// live counts programs not yet deleted.
func (r *recorder) live() (n int) {
	for _, p := range r.programs {
		if !p.deleted {
			n++
		}
	}
	return n
}
