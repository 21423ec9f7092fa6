package glpatch

import (
	"context"
	"errors"

	"github.com/soypat/glpatch/glbuild"
)

// Compile generates the fragment shader program for the graph output.
// It returns nil if the graph has no output, the output is not connected
// or code generation fails. Failures are logged. A nil program must leave
// the renderer's current program untouched.
func Compile(g *Graph) *glbuild.Program {
	g.mu.RLock()
	defer g.mu.RUnlock()
	root, ok := g.rootLocked()
	if !ok {
		Logger().Debug("compile skipped: graph has no output node")
		return nil
	}
	prog, err := glbuild.NewDefaultProgrammer().Build(lockedGraph{g}, root)
	return checkBuild(prog, err)
}

// CompileAsync is the non-blocking variant of [Compile]. The returned channel receives
// one program, nil on failure, and is then closed. The graph read lock is held until
// code generation finishes so graph edits wait for the build to complete.
func CompileAsync(ctx context.Context, g *Graph, progress func(msg string)) <-chan *glbuild.Program {
	out := make(chan *glbuild.Program, 1)
	g.mu.RLock()
	root, ok := g.rootLocked()
	if !ok {
		g.mu.RUnlock()
		Logger().Debug("compile skipped: graph has no output node")
		out <- nil
		close(out)
		return out
	}
	res := glbuild.BuildAsync(ctx, lockedGraph{g}, root, progress)
	go func() {
		defer close(out)
		r := <-res
		g.mu.RUnlock()
		out <- checkBuild(r.Program, r.Err)
	}()
	return out
}

func checkBuild(prog *glbuild.Program, err error) *glbuild.Program {
	log := Logger()
	var cerr *glbuild.CodeGenError
	switch {
	case err == nil:
		log.Debug("shader program generated", "bytes", len(prog.Source), "uniforms", prog.Bindings.Len())
		return prog
	case errors.Is(err, glbuild.ErrNoInputConnected):
		log.Debug("compile skipped: output not connected")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Debug("compile canceled", "err", err)
	case errors.As(err, &cerr):
		log.Error("shader code generation failed", "node", cerr.Node, "kind", cerr.Kind, "port", cerr.Port, "err", cerr.Err)
	default:
		log.Error("shader code generation failed", "err", err)
	}
	return nil
}

func (g *Graph) rootLocked() (glbuild.PortRef, bool) {
	if g.output == 0 {
		return glbuild.PortRef{}, false
	}
	return glbuild.PortRef{Node: g.output, Port: OutputInput}, true
}
