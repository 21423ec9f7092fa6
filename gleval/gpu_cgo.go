//go:build !tinygo && cgo

package gleval

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/soypat/glgl/v4.6-core/glgl"

	"github.com/soypat/glpatch/glrender"
)

// GPU implements [glrender.GL]. It must only be used from the thread its
// context is current on.
type GPU struct {
	vao, vbo uint32
	parallel bool
	// shaders of programs started with BeginProgram, deleted once the program is done.
	shaders map[glrender.Program][2]uint32
}

// InitHeadless creates a window with a current OpenGL 4.6 context and returns
// a GPU using it. The calling goroutine should be locked to its OS thread.
// terminate must be called when done.
func InitHeadless(cfg HeadlessConfig) (gpu *GPU, terminate func(), err error) {
	if cfg.Title == "" {
		cfg.Title = "glpatch"
	}
	_, terminate, err = glgl.InitWithCurrentWindow33(glgl.WindowConfig{
		Title:   cfg.Title,
		Version: [2]int{4, 6},
		Width:   max(cfg.Width, 1),
		Height:  max(cfg.Height, 1),
	})
	if err != nil {
		return nil, nil, err
	}
	gpu, err = NewGPU()
	if err != nil {
		terminate()
		return nil, nil, err
	}
	return gpu, terminate, nil
}

// NewGPU prepares the full screen quad on the current context, which must
// already be initialized with gl.Init.
func NewGPU() (*GPU, error) {
	g := &GPU{shaders: make(map[glrender.Program][2]uint32)}
	var n int32
	gl.GetIntegerv(gl.NUM_EXTENSIONS, &n)
	for i := int32(0); i < n; i++ {
		ext := gl.GoStr(gl.GetStringi(gl.EXTENSIONS, uint32(i)))
		if ext == extParallelKHR || ext == extParallelARB {
			g.parallel = true
			break
		}
	}
	quad := []float32{
		-1, -1,
		1, -1,
		-1, 1,
		1, 1,
	}
	gl.GenVertexArrays(1, &g.vao)
	gl.BindVertexArray(g.vao)
	gl.GenBuffers(1, &g.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, g.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, 4*len(quad), gl.Ptr(quad), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(0, 2, gl.FLOAT, false, 2*4, gl.PtrOffset(0))
	if err := glgl.Err(); err != nil {
		return nil, fmt.Errorf("creating quad: %w", err)
	}
	return g, nil
}

// Delete releases the quad buffers.
func (g *GPU) Delete() {
	gl.DeleteBuffers(1, &g.vbo)
	gl.DeleteVertexArrays(1, &g.vao)
}

func (g *GPU) ParallelCompile() bool { return g.parallel }

func (g *GPU) CompileProgram(vertex, fragment string) (glrender.Program, error) {
	prog, err := glgl.CompileProgram(glgl.ShaderSource{
		Vertex:   cstr(vertex),
		Fragment: cstr(fragment),
	})
	if err != nil {
		return 0, &glrender.ProgramError{Stage: "compile", Log: err.Error()}
	}
	return glrender.Program(prog.ID()), nil
}

// BeginProgram queues compilation and linking without querying status, which
// lets drivers with parallel compile finish the work in the background.
func (g *GPU) BeginProgram(vertex, fragment string) (glrender.Program, error) {
	vs := startShader(gl.VERTEX_SHADER, vertex)
	fs := startShader(gl.FRAGMENT_SHADER, fragment)
	p := gl.CreateProgram()
	if p == 0 {
		gl.DeleteShader(vs)
		gl.DeleteShader(fs)
		return 0, glErrOrMessage("creating program got zero id")
	}
	gl.AttachShader(p, vs)
	gl.AttachShader(p, fs)
	gl.LinkProgram(p)
	g.shaders[glrender.Program(p)] = [2]uint32{vs, fs}
	return glrender.Program(p), nil
}

func (g *GPU) ProgramDone(p glrender.Program) bool {
	if !g.parallel {
		return true
	}
	var done int32
	gl.GetProgramiv(uint32(p), completionStatus, &done)
	return done != gl.FALSE
}

func (g *GPU) ProgramStatus(p glrender.Program) error {
	var status int32
	gl.GetProgramiv(uint32(p), gl.LINK_STATUS, &status)
	shaders := g.shaders[p]
	var err error
	if status == gl.FALSE {
		var logs []string
		for _, sh := range shaders {
			if log := shaderLog(sh); log != "" {
				logs = append(logs, log)
			}
		}
		logs = append(logs, programLog(uint32(p)))
		err = &glrender.ProgramError{Stage: "link", Log: strings.Join(logs, "\n")}
	}
	g.releaseShaders(p)
	return err
}

func (g *GPU) releaseShaders(p glrender.Program) {
	shaders, ok := g.shaders[p]
	if !ok {
		return
	}
	for _, sh := range shaders {
		gl.DetachShader(uint32(p), sh)
		gl.DeleteShader(sh)
	}
	delete(g.shaders, p)
}

func (g *GPU) DeleteProgram(p glrender.Program) {
	g.releaseShaders(p)
	gl.DeleteProgram(uint32(p))
}

func (g *GPU) UseProgram(p glrender.Program) { gl.UseProgram(uint32(p)) }

func (g *GPU) UniformLocation(p glrender.Program, name string) glrender.Location {
	return glrender.Location(gl.GetUniformLocation(uint32(p), gl.Str(cstr(name))))
}

func (g *GPU) Uniform1f(loc glrender.Location, v float32)    { gl.Uniform1f(int32(loc), v) }
func (g *GPU) Uniform2f(loc glrender.Location, x, y float32) { gl.Uniform2f(int32(loc), x, y) }
func (g *GPU) Uniform4f(loc glrender.Location, v [4]float32) {
	gl.Uniform4f(int32(loc), v[0], v[1], v[2], v[3])
}
func (g *GPU) Uniform1i(loc glrender.Location, v int32) { gl.Uniform1i(int32(loc), v) }

func (g *GPU) NewTextureArray(width, height, layers int) (glrender.Texture, error) {
	var tex uint32
	gl.GenTextures(1, &tex)
	if tex == 0 {
		return 0, glErrOrMessage("creating texture array got zero id")
	}
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, tex)
	setSampling(gl.TEXTURE_2D_ARRAY)
	gl.TexImage3D(gl.TEXTURE_2D_ARRAY, 0, gl.RGBA8, int32(width), int32(height), int32(layers), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, 0)
	if err := glgl.Err(); err != nil {
		gl.DeleteTextures(1, &tex)
		return 0, fmt.Errorf("allocating %dx%dx%d texture array: %w", width, height, layers, err)
	}
	return glrender.Texture(tex), nil
}

func (g *GPU) NewFramebufferLayer(array glrender.Texture, layer int) (glrender.Framebuffer, error) {
	fb, err := newFramebuffer(func() {
		gl.FramebufferTextureLayer(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, uint32(array), 0, int32(layer))
	})
	if err != nil {
		return 0, fmt.Errorf("framebuffer for layer %d: %w", layer, err)
	}
	return fb, nil
}

func (g *GPU) NewRenderTarget(width, height int) (glrender.Texture, glrender.Framebuffer, error) {
	tex, err := g.NewTexture2D()
	if err != nil {
		return 0, 0, err
	}
	gl.BindTexture(gl.TEXTURE_2D, uint32(tex))
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	fb, err := newFramebuffer(func() {
		gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, uint32(tex), 0)
	})
	if err != nil {
		g.DeleteTexture(tex)
		return 0, 0, fmt.Errorf("%dx%d render target: %w", width, height, err)
	}
	return tex, fb, nil
}

func newFramebuffer(attach func()) (glrender.Framebuffer, error) {
	var fb uint32
	gl.GenFramebuffers(1, &fb)
	if fb == 0 {
		return 0, glErrOrMessage("creating framebuffer got zero id")
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb)
	attach()
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		gl.DeleteFramebuffers(1, &fb)
		return 0, fmt.Errorf("framebuffer incomplete: status 0x%x", status)
	}
	return glrender.Framebuffer(fb), nil
}

func (g *GPU) NewTexture2D() (glrender.Texture, error) {
	var tex uint32
	gl.GenTextures(1, &tex)
	if tex == 0 {
		return 0, glErrOrMessage("creating texture got zero id")
	}
	gl.BindTexture(gl.TEXTURE_2D, tex)
	setSampling(gl.TEXTURE_2D)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return glrender.Texture(tex), nil
}

func setSampling(target uint32) {
	gl.TexParameteri(target, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(target, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(target, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(target, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
}

func (g *GPU) UploadTexture(tex glrender.Texture, img *image.NRGBA) error {
	sz := img.Rect.Size()
	if sz.X <= 0 || sz.Y <= 0 {
		return errors.New("upload of empty image")
	}
	gl.BindTexture(gl.TEXTURE_2D, uint32(tex))
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, int32(img.Stride/4))
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(sz.X), int32(sz.Y), 0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(&img.Pix[0]))
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, 0)
	return glgl.Err()
}

func (g *GPU) DeleteTexture(tex glrender.Texture) {
	t := uint32(tex)
	gl.DeleteTextures(1, &t)
}

func (g *GPU) DeleteFramebuffer(fb glrender.Framebuffer) {
	f := uint32(fb)
	gl.DeleteFramebuffers(1, &f)
}

func (g *GPU) BindTexture2D(unit int, tex glrender.Texture) {
	gl.ActiveTexture(gl.TEXTURE0 + uint32(unit))
	gl.BindTexture(gl.TEXTURE_2D, uint32(tex))
}

func (g *GPU) BindTextureArray(unit int, tex glrender.Texture) {
	gl.ActiveTexture(gl.TEXTURE0 + uint32(unit))
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, uint32(tex))
}

func (g *GPU) BindFramebuffer(fb glrender.Framebuffer) {
	gl.BindFramebuffer(gl.FRAMEBUFFER, uint32(fb))
}

func (g *GPU) Viewport(width, height int) { gl.Viewport(0, 0, int32(width), int32(height)) }

func (g *GPU) Clear(rgba [4]float32) {
	gl.ClearColor(rgba[0], rgba[1], rgba[2], rgba[3])
	gl.Clear(gl.COLOR_BUFFER_BIT)
}

func (g *GPU) DrawQuad() {
	gl.BindVertexArray(g.vao)
	gl.DrawArrays(gl.TRIANGLE_STRIP, 0, 4)
}

func (g *GPU) Blit(src, dst glrender.Framebuffer, srcW, srcH, dstW, dstH int) {
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, uint32(src))
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, uint32(dst))
	gl.BlitFramebuffer(0, 0, int32(srcW), int32(srcH), 0, 0, int32(dstW), int32(dstH), gl.COLOR_BUFFER_BIT, gl.LINEAR)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
}

func (g *GPU) ReadPixels(fb glrender.Framebuffer, dst *image.NRGBA) error {
	sz := dst.Rect.Size()
	if sz.X <= 0 || sz.Y <= 0 {
		return nil
	} else if dst.Stride != 4*sz.X {
		return errors.New("ReadPixels destination must be contiguous")
	}
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, uint32(fb))
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(0, 0, int32(sz.X), int32(sz.Y), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(&dst.Pix[0]))
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
	return glgl.Err()
}

func (g *GPU) Err() error { return glgl.Err() }

func startShader(typ uint32, src string) uint32 {
	sh := gl.CreateShader(typ)
	csources, free := gl.Strs(cstr(src))
	gl.ShaderSource(sh, 1, csources, nil)
	free()
	gl.CompileShader(sh)
	return sh
}

func shaderLog(sh uint32) string {
	var status int32
	gl.GetShaderiv(sh, gl.COMPILE_STATUS, &status)
	if status != gl.FALSE {
		return ""
	}
	var logLength int32
	gl.GetShaderiv(sh, gl.INFO_LOG_LENGTH, &logLength)
	msg := strings.Repeat("\x00", int(logLength+1))
	gl.GetShaderInfoLog(sh, logLength, nil, gl.Str(msg))
	return strings.TrimRight(msg, "\x00")
}

func programLog(p uint32) string {
	var logLength int32
	gl.GetProgramiv(p, gl.INFO_LOG_LENGTH, &logLength)
	msg := strings.Repeat("\x00", int(logLength+1))
	gl.GetProgramInfoLog(p, logLength, nil, gl.Str(msg))
	return strings.TrimRight(msg, "\x00")
}

// cstr null terminates s for the GL API.
func cstr(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func glErrOrMessage(defaultMsg string) (err error) {
	err = glgl.Err()
	if err == nil {
		err = errors.New(defaultMsg)
	} else {
		err = fmt.Errorf("%s: %w", defaultMsg, err)
	}
	return err
}
