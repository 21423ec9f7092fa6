package glpatch

import (
	"github.com/soypat/glpatch/glbuild"
	"github.com/soypat/glpatch/glbuild/glsllib"
)

// Feedback blends its input with a previously rendered frame producing trails.
// The history frame is optionally zoomed and rotated before decaying.
type Feedback struct {
	Decay  *glbuild.Control
	Delay  *glbuild.Control
	Zoom   *glbuild.Control
	Rotate *glbuild.Control
}

func NewFeedback(decay float32) *Feedback {
	return &Feedback{
		Decay:  glbuild.NewFloatControl(decay, 0, 1, 0.01),
		Delay:  glbuild.NewIntControl(1, 1, 119),
		Zoom:   glbuild.NewFloatControl(1, 0.5, 2, 0.01),
		Rotate: glbuild.NewFloatControl(0, -1, 1, 0.001),
	}
}

func (*Feedback) Kind() string { return "feedback" }

func (f *Feedback) Inputs() []glbuild.InputPort {
	return []glbuild.InputPort{
		{Name: "in", Type: glbuild.Color},
		{Name: "decay", Type: glbuild.Float, Control: f.Decay},
		// clear drops the trail while triggered.
		{Name: "clear", Type: glbuild.Action},
	}
}

func (*Feedback) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{{Name: "out", Type: glbuild.Color}}
}

func (f *Feedback) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	in, err := ctx.Input("in")
	if err != nil {
		return dst, err
	}
	decay, err := ctx.Input("decay")
	if err != nil {
		return dst, err
	}
	reset, err := ctx.Input("clear")
	if err != nil {
		return dst, err
	}
	delay := ctx.ControlUniform("delay", f.Delay)
	zoom := ctx.ControlUniform("zoom", f.Zoom)
	rot := ctx.ControlUniform("rotate", f.Rotate)
	ctx.Require(glsllib.Rotate2D())

	dst = glbuild.AppendFuncHeader(dst, glbuild.Color, fnName)
	dst = append(dst, "\tvec4 cur = "+in.Call("uv")+";\n"...)
	if reset.Connected() {
		dst = append(dst, "\tif ("+reset.Call("uv")+" > 0.5) {\n\t\treturn cur;\n\t}\n"...)
	}
	dst = append(dst, "\tvec2 st = rotate2d(uv, "+rot+") / max("+zoom+", 1e-3);\n"...)
	dst = append(dst, "\tvec4 prev = historyFrame("+delay+", st) * clamp("+decay.Call("uv")+", 0.0, 1.0);\n"...)
	return glbuild.AppendReturn(dst, "max(cur, prev)"), nil
}

func (f *Feedback) Set(name string, v any) error {
	return setParam(f.Kind(), name, v, map[string]*glbuild.Control{
		"decay":  f.Decay,
		"delay":  f.Delay,
		"zoom":   f.Zoom,
		"rotate": f.Rotate,
	})
}

// HueShift rotates the hue of its input. A shift of 1 is a full turn.
type HueShift struct {
	Shift *glbuild.Control
}

func NewHueShift(shift float32) *HueShift {
	return &HueShift{Shift: glbuild.NewFloatControl(shift, -1, 1, 0.01)}
}

func (*HueShift) Kind() string { return "hueshift" }

func (h *HueShift) Inputs() []glbuild.InputPort {
	return []glbuild.InputPort{
		{Name: "in", Type: glbuild.Color},
		{Name: "shift", Type: glbuild.Float, Control: h.Shift},
	}
}

func (*HueShift) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{{Name: "out", Type: glbuild.Color}}
}

func (h *HueShift) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	in, err := ctx.Input("in")
	if err != nil {
		return dst, err
	}
	shift, err := ctx.Input("shift")
	if err != nil {
		return dst, err
	}
	ctx.Require(glsllib.RGB2HSV(), glsllib.HSV2RGB())
	dst = glbuild.AppendFuncHeader(dst, glbuild.Color, fnName)
	dst = append(dst, "\tvec4 c = "+in.Call("uv")+";\n"...)
	dst = append(dst, "\tvec3 hsv = rgb2hsv(c.rgb);\n"...)
	dst = append(dst, "\thsv.x = fract(hsv.x + "+shift.Call("uv")+");\n"...)
	return glbuild.AppendReturn(dst, "vec4(hsv2rgb(hsv), c.a)"), nil
}

func (h *HueShift) Set(name string, v any) error {
	return setParam(h.Kind(), name, v, map[string]*glbuild.Control{"shift": h.Shift})
}
