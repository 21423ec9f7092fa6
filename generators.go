package glpatch

import (
	"fmt"
	"image/color"
	"strings"
	"sync"
	"time"

	math "github.com/chewxy/math32"
	"github.com/soypat/geometry/ms2"
	"github.com/soypat/glpatch/glbuild"
	"github.com/soypat/glpatch/glbuild/glsllib"
)

// Waveform is the shape of an [Oscillator] cycle.
type Waveform uint8

const (
	Sine Waveform = iota
	Square
	Saw
	Triangle
)

var waveformNames = [...]string{Sine: "sine", Square: "square", Saw: "saw", Triangle: "triangle"}

func (w Waveform) String() string {
	if int(w) < len(waveformNames) {
		return waveformNames[w]
	}
	return fmt.Sprintf("Waveform(%d)", w)
}

// ParseWaveform parses a waveform name as returned by [Waveform.String].
func ParseWaveform(s string) (Waveform, error) {
	for i, name := range waveformNames {
		if strings.EqualFold(s, name) {
			return Waveform(i), nil
		}
	}
	return 0, fmt.Errorf("unknown waveform %q", s)
}

// eval returns the waveform value in 0..1 at phase in 0..1.
func (w Waveform) eval(phase float32) float32 {
	switch w {
	case Square:
		if phase < 0.5 {
			return 1
		}
		return 0
	case Saw:
		return phase
	case Triangle:
		return 1 - math.Abs(2*phase-1)
	}
	return 0.5 + 0.5*math.Sin(2*math.Pi*phase)
}

// Oscillator is a CPU side low frequency oscillator. Its "out" port carries
// offset + amplitude*wave(phase) and its "beat" action port pulses every cycle.
type Oscillator struct {
	// Frequency is in Hz.
	Frequency *glbuild.Control
	Amplitude *glbuild.Control
	Offset    *glbuild.Control

	mu    sync.Mutex
	wave  Waveform
	phase float32
	value float32
	beat  float32
}

func NewOscillator(w Waveform, freqHz float32) *Oscillator {
	osc := &Oscillator{
		Frequency: glbuild.NewFloatControl(freqHz, 0, 60, 0.01),
		Amplitude: glbuild.NewFloatControl(1, -10, 10, 0.01),
		Offset:    glbuild.NewFloatControl(0, -10, 10, 0.01),
		wave:      w,
	}
	osc.value = osc.Offset.Float() + osc.Amplitude.Float()*w.eval(0)
	return osc
}

func (*Oscillator) Kind() string                { return "oscillator" }
func (*Oscillator) Inputs() []glbuild.InputPort { return nil }

func (*Oscillator) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{
		{Name: "out", Type: glbuild.Float},
		{Name: "beat", Type: glbuild.Action},
	}
}

func (osc *Oscillator) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	var u string
	switch port {
	case "out":
		u = ctx.Uniform(glbuild.UniformFloat, "value")
	case "beat":
		u = ctx.Uniform(glbuild.UniformFloat, "beat")
	default:
		return dst, fmt.Errorf("no output %q", port)
	}
	dst = glbuild.AppendFuncHeader(dst, glbuild.Float, fnName)
	return glbuild.AppendReturn(dst, u), nil
}

func (osc *Oscillator) UniformUpdate(port, hint string) glbuild.Update {
	osc.mu.Lock()
	defer osc.mu.Unlock()
	switch hint {
	case "value":
		return glbuild.ScalarUpdate(osc.value)
	case "beat":
		return glbuild.ScalarUpdate(osc.beat)
	}
	return glbuild.NoUpdate()
}

// Tick advances the oscillator phase.
func (osc *Oscillator) Tick(dt time.Duration) {
	secs := float32(dt.Seconds())
	freq := osc.Frequency.Float()
	osc.mu.Lock()
	defer osc.mu.Unlock()
	osc.phase += freq * secs
	if osc.phase >= 1 {
		osc.phase -= math.Floor(osc.phase)
		osc.beat = 1
	} else {
		osc.beat = math.Max(0, osc.beat-4*secs)
	}
	osc.value = osc.Offset.Float() + osc.Amplitude.Float()*osc.wave.eval(osc.phase)
}

// Value returns the current output value.
func (osc *Oscillator) Value() float32 {
	osc.mu.Lock()
	defer osc.mu.Unlock()
	return osc.value
}

func (osc *Oscillator) SetWaveform(w Waveform) {
	osc.mu.Lock()
	osc.wave = w
	osc.mu.Unlock()
}

func (osc *Oscillator) Set(name string, v any) error {
	if name == "waveform" {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("oscillator waveform must be a string, got %T", v)
		}
		w, err := ParseWaveform(s)
		if err != nil {
			return err
		}
		osc.SetWaveform(w)
		return nil
	}
	return setParam(osc.Kind(), name, v, map[string]*glbuild.Control{
		"frequency": osc.Frequency,
		"amplitude": osc.Amplitude,
		"offset":    osc.Offset,
	})
}

// Circle draws a filled circle with a soft edge.
type Circle struct {
	Radius   *glbuild.Control
	Softness *glbuild.Control
	Color    *glbuild.Control
	Center   *glbuild.Control
}

func NewCircle(radius float32, c color.Color) *Circle {
	return &Circle{
		Radius:   glbuild.NewFloatControl(radius, 0, 4, 0.01),
		Softness: glbuild.NewFloatControl(0.01, 0, 1, 0.001),
		Color:    glbuild.NewColorControl(c),
		Center:   glbuild.NewVec2Control(ms2.Vec{}),
	}
}

func (*Circle) Kind() string { return "circle" }

func (c *Circle) Inputs() []glbuild.InputPort {
	return []glbuild.InputPort{
		{Name: "radius", Type: glbuild.Float, Control: c.Radius},
		{Name: "softness", Type: glbuild.Float, Control: c.Softness},
		{Name: "color", Type: glbuild.Color, Control: c.Color},
	}
}

func (*Circle) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{{Name: "out", Type: glbuild.Color}}
}

func (c *Circle) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	radius, err := ctx.Input("radius")
	if err != nil {
		return dst, err
	}
	soft, err := ctx.Input("softness")
	if err != nil {
		return dst, err
	}
	col, err := ctx.Input("color")
	if err != nil {
		return dst, err
	}
	center := ctx.ControlUniform("center", c.Center)
	dst = glbuild.AppendFuncHeader(dst, glbuild.Color, fnName)
	dst = append(dst, "\tfloat d = length(uv - "+center+") - "+radius.Call("uv")+";\n"...)
	dst = append(dst, "\tfloat s = max("+soft.Call("uv")+", 1e-4);\n"...)
	dst = append(dst, "\tfloat a = 1.0 - smoothstep(-s, s, d);\n"...)
	dst = append(dst, "\tvec4 c = "+col.Call("uv")+";\n"...)
	return glbuild.AppendReturn(dst, "vec4(c.rgb*a, 1.0)"), nil
}

func (c *Circle) Set(name string, v any) error {
	return setParam(c.Kind(), name, v, map[string]*glbuild.Control{
		"radius":   c.Radius,
		"softness": c.Softness,
		"color":    c.Color,
		"center":   c.Center,
	})
}

// Tunnel draws an endless textured tunnel. Travel speed may change at any time
// without jumps since the travelled distance is accumulated on the CPU.
type Tunnel struct {
	Speed *glbuild.Control
	Color *glbuild.Control

	mu    sync.Mutex
	phase float32
}

func NewTunnel(speed float32, c color.Color) *Tunnel {
	return &Tunnel{
		Speed: glbuild.NewFloatControl(speed, -10, 10, 0.01),
		Color: glbuild.NewColorControl(c),
	}
}

func (*Tunnel) Kind() string { return "tunnel" }

func (t *Tunnel) Inputs() []glbuild.InputPort {
	return []glbuild.InputPort{{Name: "color", Type: glbuild.Color, Control: t.Color}}
}

func (*Tunnel) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{{Name: "out", Type: glbuild.Color}}
}

func (t *Tunnel) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	col, err := ctx.Input("color")
	if err != nil {
		return dst, err
	}
	phase := ctx.Uniform(glbuild.UniformFloat, "phase")
	noise := glsllib.ValueNoise()
	ctx.Require(noise[:]...)
	dst = glbuild.AppendFuncHeader(dst, glbuild.Color, fnName)
	dst = append(dst, "\tfloat r = max(length(uv), 1e-3);\n"...)
	dst = append(dst, "\tvec2 t = vec2(0.25/r + "+phase+", atan(uv.y, uv.x)/6.28318530718);\n"...)
	dst = append(dst, "\tfloat n = valueNoise(t*vec2(6.0, 12.0));\n"...)
	dst = append(dst, "\tfloat stripes = 0.5 + 0.5*sin(25.1327412287*t.x);\n"...)
	dst = append(dst, "\tvec4 c = "+col.Call("uv")+";\n"...)
	return glbuild.AppendReturn(dst, "vec4(c.rgb*mix(stripes, n, 0.5)*min(1.5*r, 1.0), 1.0)"), nil
}

func (t *Tunnel) UniformUpdate(port, hint string) glbuild.Update {
	if hint != "phase" {
		return glbuild.NoUpdate()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return glbuild.ScalarUpdate(t.phase)
}

func (t *Tunnel) Tick(dt time.Duration) {
	speed := t.Speed.Float()
	t.mu.Lock()
	// Keep phase small to preserve float precision in the shader.
	t.phase = math.Mod(t.phase+speed*float32(dt.Seconds()), 1024)
	t.mu.Unlock()
}

func (t *Tunnel) Set(name string, v any) error {
	return setParam(t.Kind(), name, v, map[string]*glbuild.Control{"speed": t.Speed, "color": t.Color})
}

// Palette colors concentric rings with a cosine rainbow gradient. T moves the
// gradient and Spread sets how much of it spans the frame height.
type Palette struct {
	T      *glbuild.Control
	Spread *glbuild.Control
}

func NewPalette() *Palette {
	return &Palette{
		T:      glbuild.NewFloatControl(0, 0, 1, 0.01),
		Spread: glbuild.NewFloatControl(0.5, 0, 4, 0.01),
	}
}

func (*Palette) Kind() string { return "palette" }

func (p *Palette) Inputs() []glbuild.InputPort {
	return []glbuild.InputPort{
		{Name: "t", Type: glbuild.Float, Control: p.T},
		{Name: "spread", Type: glbuild.Float, Control: p.Spread},
	}
}

func (*Palette) Outputs() []glbuild.OutputPort {
	return []glbuild.OutputPort{{Name: "out", Type: glbuild.Color}}
}

func (p *Palette) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	t, err := ctx.Input("t")
	if err != nil {
		return dst, err
	}
	spread, err := ctx.Input("spread")
	if err != nil {
		return dst, err
	}
	ctx.Require(glsllib.Palette())
	dst = glbuild.AppendFuncHeader(dst, glbuild.Color, fnName)
	dst = append(dst, "\tfloat x = "+t.Call("uv")+" + "+spread.Call("uv")+"*length(uv);\n"...)
	return glbuild.AppendReturn(dst, "vec4(palette(x, vec3(0.5), vec3(0.5), vec3(1.0), vec3(0.0, 0.33, 0.67)), 1.0)"), nil
}

func (p *Palette) Set(name string, v any) error {
	return setParam(p.Kind(), name, v, map[string]*glbuild.Control{"t": p.T, "spread": p.Spread})
}
