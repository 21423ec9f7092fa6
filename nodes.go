package glpatch

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/soypat/glpatch/glbuild"
	"github.com/soypat/glpatch/glbuild/glsllib"
)

// Setter is implemented by nodes with named parameters that can be set from patch files.
type Setter interface {
	Set(name string, value any) error
}

var errUnknownParam = errors.New("unknown parameter")

func setParam(kind, name string, value any, params map[string]*glbuild.Control) error {
	c, ok := params[name]
	if !ok {
		return fmt.Errorf("%w %q for %s node", errUnknownParam, name, kind)
	}
	if err := c.SetValue(value); err != nil {
		return fmt.Errorf("%s node parameter %q: %w", kind, name, err)
	}
	return nil
}

// Output is the graph sink. The output of the node connected to its "in" port is drawn.
type Output struct{}

func (*Output) Kind() string { return "output" }

func (*Output) Inputs() []glbuild.InputPort {
	return []glbuild.InputPort{{Name: OutputInput, Type: glbuild.Color}}
}

func (*Output) Outputs() []glbuild.OutputPort { return nil }

func (*Output) AppendCode(dst []byte, _ *glbuild.Context, port, _ string) ([]byte, error) {
	return dst, fmt.Errorf("output node has no output %q", port)
}

// ConstantColor outputs a single color. The color is a uniform so edits
// take effect without recompiling.
type ConstantColor struct {
	Color *glbuild.Control
}

func NewConstantColor(c color.Color) *ConstantColor {
	return &ConstantColor{Color: glbuild.NewColorControl(c)}
}

func (*ConstantColor) Kind() string                { return "color" }
func (*ConstantColor) Inputs() []glbuild.InputPort { return nil }
func (*ConstantColor) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{{Name: "out", Type: glbuild.Color}}
}

func (cc *ConstantColor) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	u := ctx.ControlUniform("color", cc.Color)
	dst = glbuild.AppendFuncHeader(dst, glbuild.Color, fnName)
	return glbuild.AppendReturn(dst, u), nil
}

func (cc *ConstantColor) Set(name string, v any) error {
	return setParam(cc.Kind(), name, v, map[string]*glbuild.Control{"color": cc.Color})
}

// PassThrough forwards its input unchanged.
type PassThrough struct{}

func (*PassThrough) Kind() string { return "passthrough" }

func (*PassThrough) Inputs() []glbuild.InputPort {
	return []glbuild.InputPort{{Name: "in", Type: glbuild.Color}}
}

func (*PassThrough) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{{Name: "out", Type: glbuild.Color}}
}

func (*PassThrough) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	in, err := ctx.Input("in")
	if err != nil {
		return dst, err
	}
	dst = glbuild.AppendFuncHeader(dst, glbuild.Color, fnName)
	return glbuild.AppendReturn(dst, in.Call("uv")), nil
}

// Mix linearly interpolates between colors a and b by t.
type Mix struct {
	T *glbuild.Control
}

func NewMix() *Mix {
	return &Mix{T: glbuild.NewFloatControl(0.5, 0, 1, 0.01)}
}

func (*Mix) Kind() string { return "mix" }

func (m *Mix) Inputs() []glbuild.InputPort {
	return []glbuild.InputPort{
		{Name: "a", Type: glbuild.Color},
		{Name: "b", Type: glbuild.Color},
		{Name: "t", Type: glbuild.Float, Control: m.T},
	}
}

func (*Mix) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{{Name: "out", Type: glbuild.Color}}
}

func (m *Mix) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	a, err := ctx.Input("a")
	if err != nil {
		return dst, err
	}
	b, err := ctx.Input("b")
	if err != nil {
		return dst, err
	}
	t, err := ctx.Input("t")
	if err != nil {
		return dst, err
	}
	dst = glbuild.AppendFuncHeader(dst, glbuild.Color, fnName)
	return glbuild.AppendReturn(dst, "mix("+a.Call("uv")+", "+b.Call("uv")+", clamp("+t.Call("uv")+", 0.0, 1.0))"), nil
}

func (m *Mix) Set(name string, v any) error {
	return setParam(m.Kind(), name, v, map[string]*glbuild.Control{"t": m.T})
}

// HSV builds a color from hue, saturation and value inputs in 0..1.
type HSV struct {
	H, S, V *glbuild.Control
}

func NewHSV(h, s, v float32) *HSV {
	return &HSV{
		H: glbuild.NewFloatControl(h, 0, 1, 0.01),
		S: glbuild.NewFloatControl(s, 0, 1, 0.01),
		V: glbuild.NewFloatControl(v, 0, 1, 0.01),
	}
}

func (*HSV) Kind() string { return "hsv" }

func (n *HSV) Inputs() []glbuild.InputPort {
	return []glbuild.InputPort{
		{Name: "h", Type: glbuild.Float, Control: n.H},
		{Name: "s", Type: glbuild.Float, Control: n.S},
		{Name: "v", Type: glbuild.Float, Control: n.V},
	}
}

func (*HSV) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{{Name: "out", Type: glbuild.Color}}
}

func (n *HSV) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	var args [3]string
	for i, name := range [3]string{"h", "s", "v"} {
		in, err := ctx.Input(name)
		if err != nil {
			return dst, err
		}
		args[i] = in.Call("uv")
	}
	ctx.Require(glsllib.HSV2RGB())
	dst = glbuild.AppendFuncHeader(dst, glbuild.Color, fnName)
	return glbuild.AppendReturn(dst, "vec4(hsv2rgb(vec3(fract("+args[0]+"), clamp("+args[1]+", 0.0, 1.0), clamp("+args[2]+", 0.0, 1.0))), 1.0)"), nil
}

func (n *HSV) Set(name string, v any) error {
	return setParam(n.Kind(), name, v, map[string]*glbuild.Control{"h": n.H, "s": n.S, "v": n.V})
}
