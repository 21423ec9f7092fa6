// Package glpatch implements node graphs that compile into a single GLSL fragment shader.
//
// Nodes are added to a [Graph] arena and referenced by stable [glbuild.NodeID]s.
// Connections are kept as port reference pairs so the graph holds no back-references.
// A graph is compiled with [Compile] or [CompileAsync] and the resulting program is
// handed to a glrender.Renderer which queries the graph for uniform values every frame.
package glpatch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/glpatch/glbuild"
)

// Input port name of the [Output] node which roots compilation.
const OutputInput = "in"

var (
	errNodeNotFound = errors.New("node not found")
	errPortNotFound = errors.New("port not found")
	errPortType     = errors.New("incompatible port types")
)

var loggerPtr atomic.Pointer[slog.Logger]

// SetLogger sets the logger used by the package. Passing nil restores [slog.Default].
func SetLogger(l *slog.Logger) {
	loggerPtr.Store(l)
}

// Logger returns the logger used by the package.
func Logger() *slog.Logger {
	if l := loggerPtr.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// Graph is an arena of nodes and the connections between their ports.
// Graph is safe for concurrent use.
type Graph struct {
	mu     sync.RWMutex
	lastID glbuild.NodeID
	nodes  map[glbuild.NodeID]glbuild.Node
	// order keeps insertion order for deterministic ticking.
	order []glbuild.NodeID
	// conns maps input ports to the output feeding them.
	conns    map[glbuild.PortRef]glbuild.PortRef
	output   glbuild.NodeID
	onRemove []func(glbuild.NodeID)
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[glbuild.NodeID]glbuild.Node),
		conns: make(map[glbuild.PortRef]glbuild.PortRef),
	}
}

// AddNode adds n to the graph and returns its ID. IDs are never reused within a graph.
// The first [Output] node added becomes the graph output.
func (g *Graph) AddNode(n glbuild.Node) glbuild.NodeID {
	if n == nil {
		panic("nil node")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastID++
	id := g.lastID
	g.nodes[id] = n
	g.order = append(g.order, id)
	if _, isOutput := n.(*Output); isOutput && g.output == 0 {
		g.output = id
	}
	return id
}

// SetOutput designates the node whose "in" port roots compilation.
func (g *Graph) SetOutput(id glbuild.NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", errNodeNotFound, id)
	}
	if !hasInput(n, OutputInput) {
		return fmt.Errorf("%s node %d has no %q input", n.Kind(), id, OutputInput)
	}
	g.output = id
	return nil
}

// Output returns the output node's ID. ok is false if the graph has no output.
func (g *Graph) Output() (id glbuild.NodeID, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.output, g.output != 0
}

// OnRemove registers fn to be called with the ID of every node removed from the graph
// after its connections are dropped. It is used to purge renderer bindings and textures.
func (g *Graph) OnRemove(fn func(glbuild.NodeID)) {
	g.mu.Lock()
	g.onRemove = append(g.onRemove, fn)
	g.mu.Unlock()
}

// RemoveNode removes a node and all connections touching it. If the node implements
// [io.Closer] it is closed, releasing timers and goroutines it owns.
func (g *Graph) RemoveNode(id glbuild.NodeID) error {
	g.mu.Lock()
	n, ok := g.nodes[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %d", errNodeNotFound, id)
	}
	delete(g.nodes, id)
	g.order = slices.DeleteFunc(g.order, func(e glbuild.NodeID) bool { return e == id })
	for in, out := range g.conns {
		if in.Node == id || out.Node == id {
			delete(g.conns, in)
		}
	}
	if g.output == id {
		g.output = 0
	}
	hooks := slices.Clone(g.onRemove)
	g.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
	if c, ok := n.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("closing %s node %d: %w", n.Kind(), id, err)
		}
	}
	return nil
}

// Close closes every node implementing [io.Closer]. The graph should not be used after Close.
func (g *Graph) Close() error {
	g.mu.RLock()
	var closers []io.Closer
	for _, id := range g.order {
		if c, ok := g.nodes[id].(io.Closer); ok {
			closers = append(closers, c)
		}
	}
	g.mu.RUnlock()
	var errs []error
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Connect connects output port from to input port to, replacing any connection to
// the input. Action ports only connect to action ports. Float and color ports
// connect freely and are converted in generated code.
func (g *Graph) Connect(from, to glbuild.PortRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	src, ok := g.nodes[from.Node]
	if !ok {
		return fmt.Errorf("connect from %s: %w", from, errNodeNotFound)
	}
	dst, ok := g.nodes[to.Node]
	if !ok {
		return fmt.Errorf("connect to %s: %w", to, errNodeNotFound)
	}
	var out *glbuild.OutputPort
	for _, o := range src.Outputs() {
		if o.Name == from.Port {
			out = &o
			break
		}
	}
	var in *glbuild.InputPort
	for _, i := range dst.Inputs() {
		if i.Name == to.Port {
			in = &i
			break
		}
	}
	switch {
	case out == nil:
		return fmt.Errorf("%w: %s node has no output %q", errPortNotFound, src.Kind(), from.Port)
	case in == nil:
		return fmt.Errorf("%w: %s node has no input %q", errPortNotFound, dst.Kind(), to.Port)
	case (out.Type == glbuild.Action) != (in.Type == glbuild.Action):
		return fmt.Errorf("%w: %s %s to %s %s", errPortType, from, out.Type, to, in.Type)
	case from.Node == to.Node:
		return fmt.Errorf("can not connect %s node %d to itself", src.Kind(), from.Node)
	}
	g.conns[to] = from
	return nil
}

// Disconnect removes the connection feeding input port to and reports whether there was one.
func (g *Graph) Disconnect(to glbuild.PortRef) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.conns[to]
	delete(g.conns, to)
	return ok
}

// Node returns the node with the given ID.
func (g *Graph) Node(id glbuild.NodeID) (glbuild.Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Source returns the output port connected to input port in.
func (g *Graph) Source(in glbuild.PortRef) (glbuild.PortRef, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out, ok := g.conns[in]
	return out, ok
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// UniformValue returns the current value of a port uniform registered by node id.
// Removed nodes and nodes that do not implement [glbuild.Updater] yield [glbuild.UpdateNone].
func (g *Graph) UniformValue(id glbuild.NodeID, port, hint string) glbuild.Update {
	g.mu.RLock()
	n, ok := g.nodes[id]
	g.mu.RUnlock()
	if !ok {
		return glbuild.NoUpdate()
	}
	u, ok := n.(glbuild.Updater)
	if !ok {
		return glbuild.NoUpdate()
	}
	return u.UniformUpdate(port, hint)
}

// Tick advances every node implementing [Ticker] in insertion order.
func (g *Graph) Tick(dt time.Duration) {
	g.mu.RLock()
	tickers := make([]Ticker, 0, len(g.order))
	for _, id := range g.order {
		if t, ok := g.nodes[id].(Ticker); ok {
			tickers = append(tickers, t)
		}
	}
	g.mu.RUnlock()
	for _, t := range tickers {
		t.Tick(dt)
	}
}

// lockedGraph exposes a graph whose read lock is held by the caller to the compiler.
type lockedGraph struct{ g *Graph }

func (lg lockedGraph) Node(id glbuild.NodeID) (glbuild.Node, bool) {
	n, ok := lg.g.nodes[id]
	return n, ok
}

func (lg lockedGraph) Source(in glbuild.PortRef) (glbuild.PortRef, bool) {
	out, ok := lg.g.conns[in]
	return out, ok
}

func hasInput(n glbuild.Node, name string) bool {
	for _, in := range n.Inputs() {
		if in.Name == name {
			return true
		}
	}
	return false
}
