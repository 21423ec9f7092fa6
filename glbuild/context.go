package glbuild

import (
	"errors"
	"fmt"
	"strconv"

	"cogentcore.org/core/base/ordmap"
)

// Context coordinates a single graph-to-GLSL compilation. It is created by
// [Programmer.Build] and handed to every [Node.AppendCode] call; it is discarded
// once the program is assembled.
type Context struct {
	g Graph
	// funcs maps already generated outputs to their function name.
	funcs map[PortRef]string
	// visiting marks outputs currently being generated for cycle detection.
	visiting map[PortRef]bool
	// stack holds the outputs being generated, innermost last.
	stack    []frame
	code     []byte
	snippets []Snippet
	uniforms *ordmap.Map[string, Binding]
	// counter makes uniform names unique by construction.
	counter int
}

type frame struct {
	ref  PortRef
	node Node
}

func newContext(g Graph) *Context {
	return &Context{
		g:        g,
		funcs:    make(map[PortRef]string),
		visiting: make(map[PortRef]bool),
		uniforms: ordmap.New[string, Binding](),
	}
}

// Expr is a resolved input. Call it with a GLSL vec2 expression to obtain the
// input's value at that coordinate, converted to the input port's type.
type Expr struct {
	fn    string
	ident string
	from  PortType
	to    PortType
}

// Call returns the GLSL expression evaluating the input at coordinate uv.
// Inputs that are not connected ignore uv.
func (e Expr) Call(uv string) string {
	v := e.ident
	if e.fn != "" {
		v = e.fn + "(" + uv + ")"
	}
	return convertExpr(v, e.from, e.to)
}

// Connected reports whether the input is fed by an upstream output.
func (e Expr) Connected() bool { return e.fn != "" }

// Func returns the upstream function name, or the empty string if the input is not connected.
func (e Expr) Func() string { return e.fn }

// Input resolves the named input of the node currently generating code.
// Connected inputs generate their upstream output first (at most once per compilation),
// unconnected inputs with a control register a control uniform.
func (ctx *Context) Input(port string) (Expr, error) {
	cur, err := ctx.current()
	if err != nil {
		return Expr{}, err
	}
	in, ok := findInput(cur.node, port)
	if !ok {
		return Expr{}, fmt.Errorf("%s node %d has no input %q", cur.node.Kind(), cur.ref.Node, port)
	}
	src, connected := ctx.g.Source(PortRef{Node: cur.ref.Node, Port: port})
	if connected {
		name, typ, err := ctx.generate(src)
		if err != nil {
			return Expr{}, err
		}
		return Expr{fn: name, from: typ, to: in.Type}, nil
	}
	if in.Control != nil {
		name := ctx.ControlUniform(port, in.Control)
		from := Float
		switch in.Control.Kind {
		case ControlColor:
			from = Color
		case ControlInt, ControlBool:
			name = "float(" + name + ")"
		case ControlVec2:
			return Expr{}, fmt.Errorf("vec2 control can not feed %s input %q", in.Type, port)
		}
		return Expr{ident: name, from: from, to: in.Type}, nil
	}
	lit := FloatLiteral(0)
	if in.Type == Color {
		lit = string(AppendVec4Literal(nil, [4]float32{0, 0, 0, 1}))
	}
	return Expr{ident: lit, from: in.Type, to: in.Type}, nil
}

// Uniform registers a uniform fed every frame by the current output port through
// [Updater.UniformUpdate] and returns its generated name. hint distinguishes several
// uniforms of the same output and is passed back to UniformUpdate.
func (ctx *Context) Uniform(typ UniformType, hint string) string {
	cur, err := ctx.current()
	if err != nil {
		panic(err)
	}
	return ctx.addBinding(Binding{
		Type:   typ,
		Origin: cur.ref.Node,
		Port:   cur.ref.Port,
		Hint:   hint,
	})
}

// ControlUniform registers a uniform whose value is read from c every frame and returns its name.
func (ctx *Context) ControlUniform(hint string, c *Control) string {
	cur, err := ctx.current()
	if err != nil {
		panic(err)
	} else if c == nil {
		panic("nil control")
	}
	return ctx.addBinding(Binding{
		Type:    c.UniformType(),
		Origin:  cur.ref.Node,
		Port:    cur.ref.Port,
		Hint:    hint,
		Control: c,
	})
}

// Require adds utility functions to the program. Each distinct snippet is written once.
func (ctx *Context) Require(snippets ...Snippet) {
	for _, s := range snippets {
		dup := false
		for _, got := range ctx.snippets {
			if string(got.Name) == string(s.Name) && string(got.source) == string(s.source) {
				dup = true
				break
			}
		}
		if !dup {
			ctx.snippets = append(ctx.snippets, s)
		}
	}
}

// Node returns the ID of the node currently generating code.
func (ctx *Context) Node() NodeID {
	cur, err := ctx.current()
	if err != nil {
		return 0
	}
	return cur.ref.Node
}

func (ctx *Context) addBinding(b Binding) string {
	name := make([]byte, 0, 32)
	name = append(name, 'u')
	name = strconv.AppendInt(name, int64(ctx.counter), 10)
	name = append(name, "_n"...)
	name = strconv.AppendUint(name, uint64(b.Origin), 10)
	if b.Hint != "" {
		name = append(name, '_')
		name = appendIdent(name, b.Hint)
	}
	ctx.counter++
	b.Name = string(name)
	if _, exists := ctx.uniforms.ValueByKeyTry(b.Name); exists {
		panic("duplicate uniform name " + b.Name) // Unreachable, counter is monotonic.
	}
	ctx.uniforms.Add(b.Name, b)
	return b.Name
}

func (ctx *Context) current() (frame, error) {
	if len(ctx.stack) == 0 {
		return frame{}, errors.New("no node generating code")
	}
	return ctx.stack[len(ctx.stack)-1], nil
}

// generateSafe generates src converting panics raised by nodes into errors.
func (ctx *Context) generateSafe(src PortRef) (name string, typ PortType, err error) {
	defer func() {
		if a := recover(); a != nil {
			perr, ok := a.(error)
			if !ok {
				perr = fmt.Errorf("panic: %v", a)
			}
			cerr := &CodeGenError{Node: src.Node, Port: src.Port, Err: perr}
			if len(ctx.stack) > 0 {
				top := ctx.stack[len(ctx.stack)-1]
				cerr.Node, cerr.Port, cerr.Kind = top.ref.Node, top.ref.Port, top.node.Kind()
			}
			name, typ, err = "", 0, cerr
		}
	}()
	return ctx.generate(src)
}

func (ctx *Context) generate(src PortRef) (string, PortType, error) {
	node, ok := ctx.g.Node(src.Node)
	if !ok {
		return "", 0, fmt.Errorf("node %d not found", src.Node)
	}
	out, ok := findOutput(node, src.Port)
	if !ok {
		return "", 0, fmt.Errorf("%s node %d has no output %q", node.Kind(), src.Node, src.Port)
	}
	if name, done := ctx.funcs[src]; done {
		return name, out.Type, nil
	} else if ctx.visiting[src] {
		return "", 0, fmt.Errorf("%w: output %s", ErrCycle, src)
	}
	ctx.visiting[src] = true
	ctx.stack = append(ctx.stack, frame{ref: src, node: node})

	name := funcName(src)
	body, err := node.AppendCode(nil, ctx, src.Port, name)

	ctx.stack = ctx.stack[:len(ctx.stack)-1]
	delete(ctx.visiting, src)
	if err != nil {
		var cerr *CodeGenError
		if errors.As(err, &cerr) || errors.Is(err, ErrCycle) {
			return "", 0, err
		}
		return "", 0, &CodeGenError{Node: src.Node, Kind: node.Kind(), Port: src.Port, Err: err}
	}
	ctx.code = append(ctx.code, body...)
	ctx.code = append(ctx.code, '\n')
	ctx.funcs[src] = name
	return name, out.Type, nil
}

func funcName(ref PortRef) string {
	b := make([]byte, 0, 16)
	b = append(b, 'n')
	b = strconv.AppendUint(b, uint64(ref.Node), 10)
	b = append(b, '_')
	b = appendIdent(b, ref.Port)
	return string(b)
}

// appendIdent appends s with characters not valid in GLSL identifiers replaced by underscores.
// Double underscores are reserved in GLSL so they are collapsed.
func appendIdent(b []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		valid := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
		if !valid {
			c = '_'
		}
		if c == '_' && len(b) > 0 && b[len(b)-1] == '_' {
			continue
		}
		b = append(b, c)
	}
	return b
}

func convertExpr(v string, from, to PortType) string {
	switch {
	case from == to, from != Color && to != Color:
		return v
	case to == Color:
		return "vec4(vec3(" + v + "),1.0)"
	default:
		return "luma(" + v + ")"
	}
}
