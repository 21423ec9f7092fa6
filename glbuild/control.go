package glbuild

import (
	"errors"
	"fmt"
	"image/color"
	"sync"

	math "github.com/chewxy/math32"
	"github.com/soypat/geometry/ms2"
)

// ControlKind is the kind of value a [Control] holds.
type ControlKind uint8

const (
	ControlFloat ControlKind = iota
	ControlVec2
	ControlColor
	ControlInt
	ControlBool
)

// Control is a user editable value feeding an unconnected input. Controls are
// read by the renderer every frame and may be set concurrently from other goroutines.
type Control struct {
	Kind ControlKind
	// Min, Max and Step bound float and int controls. Bounds are ignored when Max <= Min.
	Min, Max, Step float32

	mu  sync.Mutex
	vec [4]float32
	i   int
	b   bool
}

// NewFloatControl returns a float control with initial value v clamped to [min,max].
func NewFloatControl(v, min, max, step float32) *Control {
	c := &Control{Kind: ControlFloat, Min: min, Max: max, Step: step}
	c.SetFloat(v)
	return c
}

// NewVec2Control returns a vec2 control.
func NewVec2Control(v ms2.Vec) *Control {
	c := &Control{Kind: ControlVec2}
	c.SetVec2(v)
	return c
}

// NewColorControl returns a color control.
func NewColorControl(col color.Color) *Control {
	c := &Control{Kind: ControlColor}
	c.SetColor(col)
	return c
}

// NewIntControl returns an integer control.
func NewIntControl(v, min, max int) *Control {
	c := &Control{Kind: ControlInt, Min: float32(min), Max: float32(max), Step: 1}
	c.SetInt(v)
	return c
}

// NewBoolControl returns a boolean control.
func NewBoolControl(v bool) *Control {
	c := &Control{Kind: ControlBool}
	c.SetBool(v)
	return c
}

// UniformType returns the type of the uniform generated for the control.
func (c *Control) UniformType() UniformType {
	switch c.Kind {
	case ControlVec2:
		return UniformVec2
	case ControlColor:
		return UniformVec4
	case ControlInt:
		return UniformInt
	case ControlBool:
		return UniformBool
	}
	return UniformFloat
}

func (c *Control) Float() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vec[0]
}

func (c *Control) SetFloat(v float32) {
	if c.Max > c.Min {
		v = math.Max(c.Min, math.Min(c.Max, v))
	}
	c.mu.Lock()
	c.vec[0] = v
	c.mu.Unlock()
}

func (c *Control) Vec2() ms2.Vec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ms2.Vec{X: c.vec[0], Y: c.vec[1]}
}

func (c *Control) SetVec2(v ms2.Vec) {
	c.mu.Lock()
	c.vec[0], c.vec[1] = v.X, v.Y
	c.mu.Unlock()
}

// Color returns the straight alpha RGBA components in 0..1.
func (c *Control) Color() [4]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vec
}

func (c *Control) SetColor(col color.Color) {
	v := ColorVec4(col)
	c.mu.Lock()
	c.vec = v
	c.mu.Unlock()
}

func (c *Control) Int() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.i
}

func (c *Control) SetInt(v int) {
	if c.Max > c.Min {
		v = max(int(c.Min), min(int(c.Max), v))
	}
	c.mu.Lock()
	c.i = v
	c.mu.Unlock()
}

func (c *Control) Bool() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b
}

func (c *Control) SetBool(v bool) {
	c.mu.Lock()
	c.b = v
	c.mu.Unlock()
}

var errControlValue = errors.New("invalid control value")

// SetValue sets the control from a dynamically typed value as found in decoded
// patch files. Numbers, strings (colors), two element lists (vec2) and booleans are accepted.
func (c *Control) SetValue(v any) error {
	switch c.Kind {
	case ControlFloat, ControlInt:
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("%w: want number, got %T", errControlValue, v)
		}
		if c.Kind == ControlInt {
			c.SetInt(int(math.Round(f)))
		} else {
			c.SetFloat(f)
		}
	case ControlBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: want bool, got %T", errControlValue, v)
		}
		c.SetBool(b)
	case ControlColor:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: want color string, got %T", errControlValue, v)
		}
		col, err := ParseColor(s)
		if err != nil {
			return err
		}
		c.SetColor(col)
	case ControlVec2:
		list, ok := v.([]any)
		if !ok || len(list) != 2 {
			return fmt.Errorf("%w: want [x, y], got %v", errControlValue, v)
		}
		x, okx := toFloat(list[0])
		y, oky := toFloat(list[1])
		if !okx || !oky {
			return fmt.Errorf("%w: want numeric [x, y], got %v", errControlValue, v)
		}
		c.SetVec2(ms2.Vec{X: x, Y: y})
	default:
		return fmt.Errorf("unknown control kind %d", c.Kind)
	}
	return nil
}

func toFloat(v any) (float32, bool) {
	switch n := v.(type) {
	case float64:
		return float32(n), true
	case float32:
		return n, true
	case int:
		return float32(n), true
	case int64:
		return float32(n), true
	case uint64:
		return float32(n), true
	}
	return 0, false
}
