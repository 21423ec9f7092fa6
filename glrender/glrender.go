// Package glrender executes compiled patch programs every frame against a
// ring buffer of previous frames and composites two channels in the [Mixer].
//
// All GPU access goes through the narrow [GL] interface so that rendering
// logic runs identically against an OpenGL context and against recorders
// in tests. Methods of [Renderer] and [Mixer] must be called from the
// goroutine that owns the GL context.
package glrender

import (
	"image"
	"log/slog"

	"cogentcore.org/core/base/errors"
	"github.com/soypat/glpatch/glbuild"
)

// GPU object handles. The zero value of each is the null object, Framebuffer(0)
// being the default (screen) framebuffer.
type (
	Program     uint32
	Texture     uint32
	Framebuffer uint32
	Location    int32
)

// NoLocation is returned by [GL.UniformLocation] for uniforms absent from the
// linked program, usually because the compiler optimized them out.
const NoLocation Location = -1

// GL is the subset of OpenGL the renderer and mixer need.
type GL interface {
	// ParallelCompile reports whether program compilation can be polled
	// for completion without blocking (KHR_parallel_shader_compile).
	ParallelCompile() bool
	// CompileProgram compiles and links a program, blocking until done.
	CompileProgram(vertex, fragment string) (Program, error)
	// BeginProgram starts compiling and linking a program and returns immediately.
	BeginProgram(vertex, fragment string) (Program, error)
	// ProgramDone polls whether the driver finished a program started with BeginProgram.
	ProgramDone(p Program) bool
	// ProgramStatus returns a *[ProgramError] if the finished program failed to link.
	ProgramStatus(p Program) error
	DeleteProgram(p Program)
	UseProgram(p Program)

	UniformLocation(p Program, name string) Location
	Uniform1f(loc Location, v float32)
	Uniform2f(loc Location, x, y float32)
	Uniform4f(loc Location, v [4]float32)
	Uniform1i(loc Location, v int32)

	// NewTextureArray allocates an RGBA8 2D texture array.
	NewTextureArray(width, height, layers int) (Texture, error)
	// NewFramebufferLayer creates a framebuffer rendering into one layer of a texture array.
	NewFramebufferLayer(array Texture, layer int) (Framebuffer, error)
	// NewRenderTarget allocates an RGBA8 texture and a framebuffer rendering into it.
	NewRenderTarget(width, height int) (Texture, Framebuffer, error)
	NewTexture2D() (Texture, error)
	UploadTexture(tex Texture, img *image.NRGBA) error
	DeleteTexture(tex Texture)
	DeleteFramebuffer(fb Framebuffer)
	BindTexture2D(unit int, tex Texture)
	BindTextureArray(unit int, tex Texture)

	BindFramebuffer(fb Framebuffer)
	Viewport(width, height int)
	Clear(rgba [4]float32)
	// DrawQuad draws a full-viewport triangle strip of 4 vertices with the
	// vertex attribute at location 0.
	DrawQuad()
	// Blit copies the color contents of src into dst with linear filtering.
	Blit(src, dst Framebuffer, srcW, srcH, dstW, dstH int)
	// ReadPixels reads dst.Bounds() from the bottom left corner of fb.
	ReadPixels(fb Framebuffer, dst *image.NRGBA) error
	// Err returns and clears the pending GL error, if any.
	Err() error
}

// ValueSource supplies the per-frame values of port-sourced uniforms.
// glpatch.Graph implements ValueSource.
type ValueSource interface {
	UniformValue(id glbuild.NodeID, port, hint string) glbuild.Update
}

// ProgramError is returned when the driver rejects a program. Log contains the
// driver's info log.
type ProgramError struct {
	Stage string
	Log   string
}

func (e *ProgramError) Error() string {
	if e.Stage == "" {
		return "glrender: program failed: " + e.Log
	}
	return "glrender: " + e.Stage + " failed: " + e.Log
}

// ProgramState is the lifecycle state of a renderer's program.
type ProgramState uint8

const (
	StateUninitialized ProgramState = iota
	// StateCompiling means a program is compiling in the background. A previously
	// active program, if any, keeps rendering.
	StateCompiling
	StateActive
	// StateFailed means the last compile failed and there was no previous program to fall back on.
	StateFailed
)

func (s ProgramState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCompiling:
		return "compiling"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	}
	return "ProgramState(?)"
}

// Frame history depth limits.
const (
	MinFrameBufferSize     = 1
	MaxFrameBufferSize     = 120
	DefaultFrameBufferSize = 2
)

// Config configures a [Renderer].
type Config struct {
	Width, Height int
	// FrameBufferSize is the number of previous frames kept for history sampling.
	// Zero means DefaultFrameBufferSize.
	FrameBufferSize int
	// Present blits every rendered frame to the default framebuffer.
	Present bool
	// ForceSync disables asynchronous program compilation even when the
	// driver supports it.
	ForceSync bool
	// Logger receives compile failures. Nil means slog.Default().
	Logger *slog.Logger
}

// VertexSource is the vertex shader shared by generated programs and the mixer.
// It expects the full-screen quad at attribute location 0.
const VertexSource = `#version 300 es
layout(location = 0) in vec2 aPos;
out vec2 vUV;
void main() {
	vUV = aPos*0.5 + 0.5;
	gl_Position = vec4(aPos, 0.0, 1.0);
}
`

var (
	errBadSize   = errors.New("glrender: width and height must be positive")
	errDestroyed = errors.New("glrender: use after Destroy")
	errNoTargets = errors.New("glrender: renderer has no render targets")
)

func clampFrameBufferSize(n int) int {
	return min(max(n, MinFrameBufferSize), MaxFrameBufferSize)
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
