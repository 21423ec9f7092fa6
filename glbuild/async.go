package glbuild

import (
	"context"
)

// Progress messages reported by [BuildAsync].
const (
	ProgressBuilding  = "Building shader graph..."
	ProgressGenerated = "Shader code generated successfully"
)

// BuildResult is the outcome of an asynchronous build.
type BuildResult struct {
	Program *Program
	Err     error
}

// BuildAsync builds the program for root on a new goroutine using a fresh [Programmer].
// The returned channel receives exactly one result and is then closed, so it may be
// polled without blocking from a frame loop. progress, if not nil, is called from the
// build goroutine with human readable phase descriptions.
//
// The caller must guarantee g is not mutated until the result is delivered.
func BuildAsync(ctx context.Context, g Graph, root PortRef, progress func(msg string)) <-chan BuildResult {
	ch := make(chan BuildResult, 1)
	go func() {
		defer close(ch)
		if err := ctx.Err(); err != nil {
			ch <- BuildResult{Err: err}
			return
		}
		if progress != nil {
			progress(ProgressBuilding)
		}
		prog, err := NewDefaultProgrammer().Build(g, root)
		if err == nil {
			// Result is discarded if canceled during the build.
			err = ctx.Err()
		}
		if err != nil {
			ch <- BuildResult{Err: err}
			return
		}
		if progress != nil {
			progress(ProgressGenerated)
		}
		ch <- BuildResult{Program: prog}
	}()
	return ch
}
