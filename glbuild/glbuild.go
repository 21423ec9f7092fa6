package glbuild

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// VersionStr is the GLSL version directive every generated fragment shader starts with.
const VersionStr = "#version 300 es\n"

// Fixed uniforms present in every generated program.
const (
	UniformResolution   = "u_resolution"
	UniformTime         = "u_time"
	UniformFrameHistory = "u_frame_history"
	UniformFrameIndex   = "u_current_frame_index"
	UniformFrameBufSize = "u_frame_buffer_size"
)

var (
	// ErrNoInputConnected is returned by [Programmer.Build] when the root input port
	// has no incoming connection. No program is produced and callers should keep whatever
	// program they were rendering.
	ErrNoInputConnected = errors.New("glbuild: no input connected")
	// ErrCycle is returned when traversal finds an output that depends on itself.
	ErrCycle = errors.New("glbuild: cycle in graph")
)

// NodeID identifies a node within a graph. IDs are stable for the lifetime of the node.
type NodeID uint32

// PortRef references a named port on a node. Whether it is an input or output
// depends on where it is used.
type PortRef struct {
	Node NodeID
	Port string
}

// String returns the "id.port" notation also used by patch files.
func (p PortRef) String() string {
	return strconv.FormatUint(uint64(p.Node), 10) + "." + p.Port
}

// PortType is the value type carried by a port.
type PortType uint8

const (
	Float PortType = iota
	Color
	// Action ports carry triggers. In generated code they are floats in 0..1.
	Action
)

func (t PortType) String() string {
	switch t {
	case Float:
		return "float"
	case Color:
		return "color"
	case Action:
		return "action"
	}
	return "PortType(" + strconv.Itoa(int(t)) + ")"
}

// GLSL returns the GLSL type a generated function for this port returns.
func (t PortType) GLSL() string {
	if t == Color {
		return "vec4"
	}
	return "float"
}

// InputPort describes a node input. Unconnected inputs with a non-nil Control
// read the control's value through a uniform, otherwise a zero default is used.
type InputPort struct {
	Name    string
	Type    PortType
	Control *Control
}

// OutputPort describes a node output.
type OutputPort struct {
	Name string
	Type PortType
}

// Node is a graph vertex able to generate GLSL for each of its outputs.
type Node interface {
	// Kind returns the registered kind name of the node, i.e: "oscillator".
	Kind() string
	Inputs() []InputPort
	Outputs() []OutputPort
	// AppendCode appends the complete GLSL definition of a function named fnName
	// computing the output port to dst and returns the result. The function has the signature
	//
	//	<type> fnName(vec2 uv)
	//
	// where <type> is the output port's [PortType.GLSL]. Inputs are resolved with ctx.Input
	// and per-frame values are registered with ctx.Uniform.
	AppendCode(dst []byte, ctx *Context, port, fnName string) ([]byte, error)
}

// Updater is implemented by nodes that registered port uniforms with [Context.Uniform].
// UniformUpdate is called once per frame per binding with the binding's port and hint.
type Updater interface {
	UniformUpdate(port, hint string) Update
}

// Graph resolves nodes and connections during code generation.
type Graph interface {
	Node(id NodeID) (Node, bool)
	// Source returns the output port connected to the input port in.
	Source(in PortRef) (out PortRef, connected bool)
}

// CodeGenError is returned when a node fails or panics during code generation.
type CodeGenError struct {
	Node NodeID
	Kind string
	Port string
	Err  error
}

func (e *CodeGenError) Error() string {
	return fmt.Sprintf("generating %s node %d output %q: %s", e.Kind, e.Node, e.Port, e.Err)
}

func (e *CodeGenError) Unwrap() error { return e.Err }

// Program is the result of a successful compilation.
type Program struct {
	// Source is the complete fragment shader source.
	Source string
	// Root is the name of the function main() evaluates.
	Root string
	// Bindings lists the uniforms the renderer must push every frame, in declaration order.
	Bindings *BindingTable
}

//go:embed standard.glsl
var standardSrc []byte

// Programmer implements fragment shader generation for node graphs.
// A Programmer must not be used concurrently.
type Programmer struct {
	version []byte
	scratch []byte
	// names maps snippet name hashes to body hashes for checking duplicates.
	names map[uint64]uint64
}

// NewDefaultProgrammer returns a Programmer generating GLSL ES 3.0 fragment shaders.
func NewDefaultProgrammer() *Programmer {
	return &Programmer{
		version: []byte(VersionStr),
		scratch: make([]byte, 0, 1024),
		names:   make(map[uint64]uint64),
	}
}

// SetVersion overrides the version directive written at the start of the program, i.e: "#version 300 es\n".
func (p *Programmer) SetVersion(directive string) {
	p.version = []byte(directive)
}

// Build compiles the graph upstream of the root input port into a fragment shader program.
func (p *Programmer) Build(g Graph, root PortRef) (*Program, error) {
	var buf bytes.Buffer
	n, bindings, rootName, err := p.writeProgram(&buf, g, root)
	if err != nil {
		return nil, err
	} else if n != buf.Len() {
		return nil, fmt.Errorf("wrote %d bytes but counted %d", buf.Len(), n)
	}
	return &Program{
		Source:   buf.String(),
		Root:     rootName,
		Bindings: bindings,
	}, nil
}

// WriteProgram writes the fragment shader for the graph upstream of root to w.
// Nothing is written if code generation fails.
func (p *Programmer) WriteProgram(w io.Writer, g Graph, root PortRef) (int, *BindingTable, error) {
	n, bindings, _, err := p.writeProgram(w, g, root)
	return n, bindings, err
}

func (p *Programmer) writeProgram(w io.Writer, g Graph, root PortRef) (n int, bindings *BindingTable, rootName string, err error) {
	if g == nil {
		return 0, nil, "", errors.New("nil graph")
	}
	rootNode, ok := g.Node(root.Node)
	if !ok {
		return 0, nil, "", fmt.Errorf("root node %d not found", root.Node)
	} else if _, ok := findInput(rootNode, root.Port); !ok {
		return 0, nil, "", fmt.Errorf("root node %d has no input %q", root.Node, root.Port)
	}
	src, connected := g.Source(root)
	if !connected {
		return 0, nil, "", ErrNoInputConnected
	}
	ctx := newContext(g)
	rootName, rootType, err := ctx.generateSafe(src)
	if err != nil {
		return 0, nil, "", err
	}
	call := convertExpr(rootName+"(uv)", rootType, Color)

	// All code generated, assemble program.
	b := p.scratch[:0]
	b = append(b, p.version...)
	b = append(b, "precision highp float;\nprecision highp int;\nprecision highp sampler2DArray;\n\n"...)
	b = appendUniformDecl(b, "vec2", UniformResolution)
	b = appendUniformDecl(b, "float", UniformTime)
	b = appendUniformDecl(b, "sampler2DArray", UniformFrameHistory)
	b = appendUniformDecl(b, "int", UniformFrameIndex)
	b = appendUniformDecl(b, "int", UniformFrameBufSize)
	for i := 0; i < ctx.uniforms.Len(); i++ {
		u := ctx.uniforms.ValueByIndex(i)
		b = appendUniformDecl(b, u.Type.GLSL(), u.Name)
	}
	b = append(b, "\nout vec4 fragColor;\n\n"...)
	b = append(b, bytes.TrimSpace(standardSrc)...)
	b = append(b, '\n')
	b, err = p.appendSnippets(b, ctx.snippets)
	if err != nil {
		return 0, nil, "", err
	}
	b = append(b, '\n')
	b = append(b, ctx.code...)
	b = append(b, "\nvoid main() {\n\tvec2 uv = (2.0*gl_FragCoord.xy - "...)
	b = append(b, UniformResolution...)
	b = append(b, ") / "...)
	b = append(b, UniformResolution...)
	b = append(b, ".y;\n\tfragColor = "...)
	b = append(b, call...)
	b = append(b, ";\n}\n"...)
	p.scratch = b

	n, err = w.Write(b)
	if err != nil {
		return n, nil, "", err
	}
	return n, &BindingTable{m: ctx.uniforms}, rootName, nil
}

func (p *Programmer) appendSnippets(b []byte, snippets []Snippet) ([]byte, error) {
	clear(p.names)
	for _, s := range snippets {
		nameHash := hash(s.Name, 0)
		bodyHash := hash(s.source, nameHash) // Body hash mixes name as well.
		got, conflict := p.names[nameHash]
		if conflict {
			if got == bodyHash {
				continue // Identical snippet already written.
			}
			return b, fmt.Errorf("utility function name conflict for %q with distinct bodies", s.Name)
		}
		p.names[nameHash] = bodyHash
		b = append(b, '\n')
		b = append(b, s.source...)
		b = append(b, '\n')
	}
	return b, nil
}

func appendUniformDecl(b []byte, typename, name string) []byte {
	b = append(b, "uniform "...)
	b = append(b, typename...)
	b = append(b, ' ')
	b = append(b, name...)
	b = append(b, ";\n"...)
	return b
}

func findInput(n Node, name string) (InputPort, bool) {
	for _, in := range n.Inputs() {
		if in.Name == name {
			return in, true
		}
	}
	return InputPort{}, false
}

func findOutput(n Node, name string) (OutputPort, bool) {
	for _, out := range n.Outputs() {
		if out.Name == name {
			return out, true
		}
	}
	return OutputPort{}, false
}

// Snippet is a utility GLSL function shared by several node kinds. Snippets
// are written once per program no matter how many nodes require them.
type Snippet struct {
	Name   []byte
	source []byte
}

// MakeSnippet parses the function name out of a GLSL function definition.
func MakeSnippet(def []byte) (Snippet, error) {
	def = bytes.TrimSpace(def)
	fnNameEnd := bytes.IndexByte(def, '(')
	fnNameStart := bytes.IndexByte(def, ' ')
	if fnNameEnd < 0 || fnNameStart < 0 || fnNameStart > fnNameEnd {
		return Snippet{}, errors.New("unable to parse function name")
	}
	name := bytes.TrimSpace(def[fnNameStart:fnNameEnd])
	if len(name) == 0 {
		return Snippet{}, errors.New("empty function name")
	}
	return Snippet{Name: name, source: def}, nil
}

// Source returns the GLSL definition of the snippet.
func (s Snippet) Source() []byte { return s.source }

func hash(b []byte, in uint64) uint64 {
	x := in
	for len(b) >= 8 {
		x ^= binary.LittleEndian.Uint64(b)
		x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
		x = (x ^ (x >> 27)) * 0x94d049bb133111eb
		x ^= x >> 31
		b = b[8:]
	}
	if len(b) > 0 {
		var buf [8]byte
		copy(buf[:], b)
		x ^= binary.LittleEndian.Uint64(buf[:])
		x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
		x = (x ^ (x >> 27)) * 0x94d049bb133111eb
		x ^= x >> 31
	}
	return x
}
