package glbuild

import (
	"image"
	"image/color"
	"iter"
	"strconv"

	"cogentcore.org/core/base/ordmap"
)

// UniformType is the GLSL type of a registered uniform.
type UniformType uint8

const (
	UniformFloat UniformType = iota
	UniformVec2
	UniformVec4
	UniformInt
	UniformBool
	UniformSampler2D
)

// GLSL returns the GLSL type name.
func (t UniformType) GLSL() string {
	switch t {
	case UniformFloat:
		return "float"
	case UniformVec2:
		return "vec2"
	case UniformVec4:
		return "vec4"
	case UniformInt:
		return "int"
	case UniformBool:
		return "bool"
	case UniformSampler2D:
		return "sampler2D"
	}
	return "UniformType(" + strconv.Itoa(int(t)) + ")"
}

func (t UniformType) String() string { return t.GLSL() }

// Binding associates a generated uniform with its source of values. Bindings
// with a nil Control are sourced from the Origin node's [Updater] with Port and Hint.
type Binding struct {
	Name    string
	Type    UniformType
	Origin  NodeID
	Port    string
	Hint    string
	Control *Control
}

// IsControl reports whether the binding reads its value from a [Control].
func (b Binding) IsControl() bool { return b.Control != nil }

// TextureKey returns the key under which the texture of a sampler binding is cached.
func (b Binding) TextureKey() TextureKey {
	return TextureKey{Node: b.Origin, Name: b.Port + "/" + b.Hint}
}

// TextureKey identifies a texture owned by a node in a renderer's texture cache.
type TextureKey struct {
	Node NodeID
	Name string
}

// BindingTable is the ordered list of uniforms a compiled program expects every frame.
// Iteration order is the order in which uniforms were registered during compilation
// which is also the order of texture unit assignment.
type BindingTable struct {
	m *ordmap.Map[string, Binding]
}

// Len returns the number of bindings. It is safe to call on a nil table.
func (bt *BindingTable) Len() int {
	if bt == nil {
		return 0
	}
	return bt.m.Len()
}

// At returns the i'th binding in registration order.
func (bt *BindingTable) At(i int) Binding {
	return bt.m.ValueByIndex(i)
}

// Lookup returns the binding with the uniform name.
func (bt *BindingTable) Lookup(name string) (Binding, bool) {
	if bt.Len() == 0 {
		return Binding{}, false
	}
	return bt.m.ValueByKeyTry(name)
}

// All iterates over bindings in registration order.
func (bt *BindingTable) All() iter.Seq2[int, Binding] {
	return func(yield func(int, Binding) bool) {
		for i := 0; i < bt.Len(); i++ {
			if !yield(i, bt.m.ValueByIndex(i)) {
				return
			}
		}
	}
}

// Names returns the uniform names in registration order.
func (bt *BindingTable) Names() []string {
	if bt.Len() == 0 {
		return nil
	}
	return bt.m.Keys()
}

// RemoveNode removes all bindings originating from node id and returns how many were removed.
func (bt *BindingTable) RemoveNode(id NodeID) (removed int) {
	for i := bt.Len() - 1; i >= 0; i-- {
		if bt.m.ValueByIndex(i).Origin == id {
			bt.m.DeleteIndex(i, i+1)
			removed++
		}
	}
	return removed
}

// Reset removes all bindings.
func (bt *BindingTable) Reset() {
	if bt != nil && bt.m != nil {
		bt.m.Reset()
	}
}

// Clone returns a copy of the table. Controls are shared between the copies.
func (bt *BindingTable) Clone() *BindingTable {
	m := ordmap.New[string, Binding]()
	for _, b := range bt.All() {
		m.Add(b.Name, b)
	}
	return &BindingTable{m: m}
}

// UpdateKind discriminates [Update] values.
type UpdateKind uint8

const (
	// UpdateNone leaves the uniform's previous value in place.
	UpdateNone UpdateKind = iota
	UpdateScalar
	UpdateColor
	// UpdateTexture binds a texture to the next free texture unit.
	UpdateTexture
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateNone:
		return "none"
	case UpdateScalar:
		return "scalar"
	case UpdateColor:
		return "color"
	case UpdateTexture:
		return "texture"
	}
	return "UpdateKind(" + strconv.Itoa(int(k)) + ")"
}

// Update is the per-frame value of a port-sourced uniform. Only the fields
// corresponding to Kind are meaningful.
type Update struct {
	Kind   UpdateKind
	Scalar float32
	// Color holds straight alpha RGBA components in 0..1.
	Color [4]float32
	// Image is the texture source. A nil or empty image is uploaded as
	// a single opaque black pixel.
	Image image.Image
	// Version changes every time Image contents change. The renderer re-uploads
	// the texture only when the version differs from the cached one.
	Version uint64
}

// NoUpdate returns an update that leaves the uniform untouched.
func NoUpdate() Update { return Update{} }

// ScalarUpdate returns an update setting a float or int uniform.
func ScalarUpdate(v float32) Update {
	return Update{Kind: UpdateScalar, Scalar: v}
}

// ColorUpdate returns an update setting a vec4 uniform from c.
func ColorUpdate(c color.Color) Update {
	return Update{Kind: UpdateColor, Color: ColorVec4(c)}
}

// TextureUpdate returns an update binding img to a sampler uniform.
func TextureUpdate(img image.Image, version uint64) Update {
	return Update{Kind: UpdateTexture, Image: img, Version: version}
}

// ColorVec4 converts c to straight alpha RGBA components in 0..1.
func ColorVec4(c color.Color) [4]float32 {
	if c == nil {
		return [4]float32{0, 0, 0, 1}
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return [4]float32{float32(n.R) / 255, float32(n.G) / 255, float32(n.B) / 255, float32(n.A) / 255}
}
