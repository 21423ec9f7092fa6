package glpatch

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/soypat/glpatch/glbuild"
)

// Patch is the serialized form of a graph. Patch files are YAML, JSON documents
// are accepted as well:
//
//	nodes:
//	  - {id: 1, kind: oscillator, values: {frequency: 0.25}}
//	  - {id: 2, kind: hsv}
//	  - {id: 3, kind: output}
//	connections:
//	  - {from: 1.out, to: 2.h}
//	  - {from: 2.out, to: 3.in}
//	output: 3
//
// IDs are local to the file and are remapped to graph IDs when built.
type Patch struct {
	Nodes       []PatchNode       `yaml:"nodes"`
	Connections []PatchConnection `yaml:"connections"`
	Output      int               `yaml:"output"`
}

type PatchNode struct {
	ID     int            `yaml:"id"`
	Kind   string         `yaml:"kind"`
	Values map[string]any `yaml:"values,omitempty"`
}

type PatchConnection struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

var kinds = struct {
	sync.RWMutex
	m map[string]func() glbuild.Node
}{m: make(map[string]func() glbuild.Node)}

// RegisterKind registers a node constructor under a kind name for use in patch files.
// It panics if the kind is already registered.
func RegisterKind(kind string, newNode func() glbuild.Node) {
	kinds.Lock()
	defer kinds.Unlock()
	if _, dup := kinds.m[kind]; dup {
		panic("node kind registered twice: " + kind)
	}
	kinds.m[kind] = newNode
}

// Kinds returns the sorted registered node kind names.
func Kinds() []string {
	kinds.RLock()
	defer kinds.RUnlock()
	names := make([]string, 0, len(kinds.m))
	for k := range kinds.m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// NewNode creates a node of a registered kind.
func NewNode(kind string) (glbuild.Node, error) {
	kinds.RLock()
	fn, ok := kinds.m[kind]
	kinds.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}
	return fn(), nil
}

func init() {
	RegisterKind("output", func() glbuild.Node { return &Output{} })
	RegisterKind("color", func() glbuild.Node { return NewConstantColor(color.White) })
	RegisterKind("passthrough", func() glbuild.Node { return &PassThrough{} })
	RegisterKind("mix", func() glbuild.Node { return NewMix() })
	RegisterKind("hsv", func() glbuild.Node { return NewHSV(0, 1, 1) })
	RegisterKind("oscillator", func() glbuild.Node { return NewOscillator(Sine, 1) })
	RegisterKind("circle", func() glbuild.Node { return NewCircle(0.5, color.White) })
	RegisterKind("tunnel", func() glbuild.Node { return NewTunnel(0.5, color.White) })
	RegisterKind("feedback", func() glbuild.Node { return NewFeedback(0.9) })
	RegisterKind("image", func() glbuild.Node { return NewImage(nil) })
	RegisterKind("hueshift", func() glbuild.Node { return NewHueShift(0) })
	RegisterKind("palette", func() glbuild.Node { return NewPalette() })
}

// DecodePatch reads a YAML or JSON patch.
func DecodePatch(r io.Reader) (*Patch, error) {
	var p Patch
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding patch: %w", err)
	}
	return &p, nil
}

// LoadPatchFile decodes and builds the patch file at path.
func LoadPatchFile(path string) (*Graph, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	p, err := DecodePatch(fp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	g, err := p.Build()
	if err != nil {
		return g, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Build creates a graph from the patch. Problems with individual nodes, values
// and connections are accumulated; the returned graph contains everything that
// could be built and is non-nil even when the error is not.
func (p *Patch) Build() (*Graph, error) {
	var errs []error
	g := NewGraph()
	ids := make(map[int]glbuild.NodeID, len(p.Nodes))
	for _, pn := range p.Nodes {
		if _, dup := ids[pn.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate node id %d", pn.ID))
			continue
		}
		n, err := NewNode(pn.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", pn.ID, err))
			continue
		}
		errs = append(errs, setValues(pn, n)...)
		ids[pn.ID] = g.AddNode(n)
	}
	for _, c := range p.Connections {
		from, err := resolvePortRef(c.From, ids)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		to, err := resolvePortRef(c.To, ids)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := g.Connect(from, to); err != nil {
			errs = append(errs, fmt.Errorf("connection %s -> %s: %w", c.From, c.To, err))
		}
	}
	if p.Output != 0 {
		if id, ok := ids[p.Output]; !ok {
			errs = append(errs, fmt.Errorf("output node %d not found", p.Output))
		} else if err := g.SetOutput(id); err != nil {
			errs = append(errs, err)
		}
	}
	return g, errors.Join(errs...)
}

func setValues(pn PatchNode, n glbuild.Node) (errs []error) {
	if len(pn.Values) == 0 {
		return nil
	}
	setter, ok := n.(Setter)
	if !ok {
		return []error{fmt.Errorf("node %d: %s node has no parameters", pn.ID, pn.Kind)}
	}
	names := make([]string, 0, len(pn.Values))
	for name := range pn.Values {
		names = append(names, name)
	}
	sort.Strings(names) // Deterministic error order.
	for _, name := range names {
		if err := setter.Set(name, pn.Values[name]); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", pn.ID, err))
		}
	}
	return errs
}

// ParsePortRef parses the "id.port" notation.
func ParsePortRef(s string) (id int, port string, err error) {
	idstr, port, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || port == "" {
		return 0, "", fmt.Errorf("port reference %q not in id.port form", s)
	}
	id, err = strconv.Atoi(idstr)
	if err != nil {
		return 0, "", fmt.Errorf("port reference %q: %w", s, err)
	}
	return id, port, nil
}

func resolvePortRef(s string, ids map[int]glbuild.NodeID) (glbuild.PortRef, error) {
	id, port, err := ParsePortRef(s)
	if err != nil {
		return glbuild.PortRef{}, err
	}
	nid, ok := ids[id]
	if !ok {
		return glbuild.PortRef{}, fmt.Errorf("port reference %q: node %d not in patch", s, id)
	}
	return glbuild.PortRef{Node: nid, Port: port}, nil
}
