//go:build tinygo || !cgo

package gleval

import "github.com/soypat/glpatch/glrender"

// GPU is unavailable without cgo. The embedded interface only satisfies the
// type checker; a GPU is never returned.
type GPU struct {
	glrender.GL
}

func InitHeadless(cfg HeadlessConfig) (gpu *GPU, terminate func(), err error) {
	return nil, nil, errNoCGO
}

func NewGPU() (*GPU, error) {
	return nil, errNoCGO
}

func (g *GPU) Delete() {}
