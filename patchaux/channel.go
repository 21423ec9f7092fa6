package patchaux

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"cogentcore.org/core/base/errors"

	"github.com/soypat/glpatch"
	"github.com/soypat/glpatch/glbuild"
	"github.com/soypat/glpatch/glrender"
)

// Channel renders one patch graph into its own render target. A channel is a
// [glrender.Target] and can be assigned to the mixer.
//
// Loading a new graph compiles it in the background. The previous graph keeps
// feeding the active program until the new program is linked, so a failed
// reload leaves the channel rendering the last working patch.
type Channel struct {
	name string
	path string
	log  *slog.Logger
	r    *glrender.Renderer

	// graph supplies values to the renderer's active program.
	graph *glpatch.Graph
	// next is being generated. awaiting is being compiled by the driver.
	next      *glpatch.Graph
	awaiting  *glpatch.Graph
	compiling <-chan *glbuild.Program
	cancel    context.CancelFunc
}

// NewChannel returns an empty channel rendering with cfg.
func NewChannel(gl glrender.GL, name string, cfg glrender.Config) (*Channel, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("channel", name)
	r, err := glrender.NewRenderer(gl, cfg)
	if err != nil {
		return nil, err
	}
	return &Channel{name: name, log: cfg.Logger, r: r}, nil
}

func (c *Channel) Name() string { return c.name }

// Path returns the patch file last loaded.
func (c *Channel) Path() string { return c.path }

// Graph returns the graph feeding the active program, which may be nil.
func (c *Channel) Graph() *glpatch.Graph { return c.graph }

func (c *Channel) Renderer() *glrender.Renderer { return c.r }

// Compiling reports whether a graph is waiting for its program.
func (c *Channel) Compiling() bool { return c.next != nil || c.awaiting != nil }

// Load builds the patch file at path and starts compiling it. Problems with
// individual nodes are returned but the rest of the patch is still used.
func (c *Channel) Load(path string) error {
	g, err := glpatch.LoadPatchFile(path)
	if g == nil {
		return err
	}
	c.path = path
	c.SetGraph(g)
	c.log.Info("patch loaded", "path", path, "nodes", g.Len())
	return err
}

// SetGraph starts compiling g. A graph still being generated is discarded.
// The channel owns g from now on and closes it once replaced.
func (c *Channel) SetGraph(g *glpatch.Graph) {
	if c.cancel != nil {
		c.cancel()
	}
	prev := c.next
	c.next = nil
	c.discard(prev)
	ctx, cancel := context.WithCancel(context.Background())
	c.next, c.cancel = g, cancel
	c.compiling = glpatch.CompileAsync(ctx, g, func(msg string) {
		c.log.Debug("generating shader", "stage", msg)
	})
}

// Recompile regenerates the program of the current graph after it was edited.
func (c *Channel) Recompile() {
	if c.graph != nil {
		c.SetGraph(c.graph)
	}
}

// Tick advances the nodes of the current graph.
func (c *Channel) Tick(dt time.Duration) {
	if c.graph != nil {
		c.graph.Tick(dt)
	}
}

// Draw hands finished programs to the renderer and renders a frame at time t in seconds.
func (c *Channel) Draw(t float32) error {
	select {
	case prog := <-c.compiling:
		c.cancel()
		c.compiling, c.cancel = nil, nil
		g := c.next
		c.next = nil
		if prog == nil {
			c.log.Warn("patch not compiled, keeping previous program")
			c.discard(g)
			break
		}
		// A program still compiling in the driver is abandoned by the renderer.
		prev := c.awaiting
		c.awaiting = g
		c.discard(prev)
		c.r.UpdateProgram(prog, func(err error) {
			if c.awaiting != g {
				return
			}
			c.awaiting = nil
			if err != nil {
				c.discard(g)
				return
			}
			c.activate(g)
		})
	default:
	}
	return c.r.Render(t, c)
}

// UniformValue implements [glrender.ValueSource] over the current graph.
func (c *Channel) UniformValue(id glbuild.NodeID, port, hint string) glbuild.Update {
	if c.graph == nil {
		return glbuild.NoUpdate()
	}
	return c.graph.UniformValue(id, port, hint)
}

func (c *Channel) activate(g *glpatch.Graph) {
	old := c.graph
	if old == g {
		return
	}
	c.graph = g
	g.OnRemove(func(id glbuild.NodeID) {
		if c.graph == g {
			c.r.ReleaseNode(id)
		}
	})
	if old != nil {
		// Node IDs of g may collide with those of old.
		c.r.ReleaseTextures()
		errors.Log(old.Close())
	}
}

// discard closes g unless it is in use.
func (c *Channel) discard(g *glpatch.Graph) {
	if g == nil || g == c.graph || g == c.next || g == c.awaiting {
		return
	}
	errors.Log(g.Close())
}

// Destroy releases the GPU resources and closes the graphs of the channel.
func (c *Channel) Destroy() {
	if c.cancel != nil {
		c.cancel()
	}
	graphs := []*glpatch.Graph{c.graph, c.next, c.awaiting}
	c.graph, c.next, c.awaiting, c.compiling = nil, nil, nil, nil
	for i, g := range graphs {
		if g != nil && !slices.Contains(graphs[:i], g) {
			errors.Log(g.Close())
		}
	}
	c.r.Destroy()
}

func (c *Channel) OutputTexture() (glrender.Texture, int, int) { return c.r.OutputTexture() }
func (c *Channel) Rendering() bool                             { return c.r.Rendering() }
func (c *Channel) SetChannelIndicator(ch glrender.Channel, on bool) {
	c.r.SetChannelIndicator(ch, on)
}

var _ glrender.Target = (*Channel)(nil)
