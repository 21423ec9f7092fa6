// Package gleval runs glrender against OpenGL 4.6 core contexts.
//
// [GPU] implements [glrender.GL] on the context current on the calling OS thread.
// Builds without cgo (and TinyGo builds) return errors from every constructor.
package gleval

import (
	"errors"

	"github.com/soypat/glpatch/glrender"
)

var _ glrender.GL = (*GPU)(nil)

var errNoCGO = errors.New("OpenGL rendering requires CGo and is not supported on TinyGo")

// Extensions that allow polling program completion.
const (
	extParallelKHR = "GL_KHR_parallel_shader_compile"
	extParallelARB = "GL_ARB_parallel_shader_compile"
	// completionStatus is COMPLETION_STATUS_KHR, equal to COMPLETION_STATUS_ARB.
	completionStatus = 0x91B1
)

// HeadlessConfig configures [InitHeadless].
type HeadlessConfig struct {
	Title         string
	Width, Height int
}
