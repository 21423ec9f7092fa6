// Package audionode implements an audio analyzer node. Samples written by an
// audio source are windowed and reduced to band levels once per frame, which
// reach the shader as float uniforms.
package audionode

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/buffer"
	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/spectrum"
	"github.com/cwbudde/algo-dsp/dsp/window"

	"github.com/soypat/glpatch"
	"github.com/soypat/glpatch/glbuild"
)

func init() {
	glpatch.RegisterKind("audio", func() glbuild.Node {
		a, err := NewAnalyzer()
		if err != nil {
			panic(err) // Default configuration is always valid.
		}
		return a
	})
}

// Band is a named set of probe frequencies. The band level is the largest
// amplitude found at any of its frequencies.
type Band struct {
	Name string
	Freq []float64
}

// DefaultBands are the analyzer output ports.
var DefaultBands = []Band{
	{Name: "bass", Freq: []float64{50, 80, 120, 180}},
	{Name: "mid", Freq: []float64{300, 500, 800, 1200, 2000}},
	{Name: "high", Freq: []float64{3000, 5000, 8000, 12000}},
}

// LevelPort carries the RMS level of the analyzed block.
const LevelPort = "level"

// Analyzer is an audio reactive node. Its outputs are band amplitudes scaled
// by Gain and clamped to 0..1.
type Analyzer struct {
	Gain      *glbuild.Control
	Smoothing *glbuild.Control

	cfg    core.ProcessorConfig
	bands  []Band
	spans  []int // Index of each band's first analyzer. len(bands)+1 entries.
	goertz *spectrum.MultiGoertzel
	win    []float64
	norm   float64

	mu     sync.Mutex
	ring   *buffer.Buffer
	head   int
	filled int
	block  []float64
	levels []float32
	rms    float32
}

// NewAnalyzer returns an analyzer of [DefaultBands]. Sample rate and block size
// default to those of [core.DefaultProcessorConfig].
func NewAnalyzer(opts ...core.ProcessorOption) (*Analyzer, error) {
	return NewAnalyzerBands(DefaultBands, opts...)
}

// NewAnalyzerBands returns an analyzer with custom bands. Frequencies above
// the Nyquist frequency are ignored.
func NewAnalyzerBands(bands []Band, opts ...core.ProcessorOption) (*Analyzer, error) {
	cfg := core.ApplyProcessorOptions(opts...)
	if len(bands) == 0 {
		return nil, fmt.Errorf("audio analyzer needs at least one band")
	}
	a := &Analyzer{
		Gain:      glbuild.NewFloatControl(1, 0, 100, 0.1),
		Smoothing: glbuild.NewFloatControl(0.5, 0, 0.99, 0.01),
		cfg:       cfg,
		bands:     bands,
		spans:     make([]int, 0, len(bands)+1),
		ring:      buffer.New(cfg.BlockSize),
		block:     make([]float64, cfg.BlockSize),
		levels:    make([]float32, len(bands)),
	}
	var freqs []float64
	for _, b := range bands {
		if b.Name == "" || b.Name == LevelPort {
			return nil, fmt.Errorf("invalid audio band name %q", b.Name)
		}
		a.spans = append(a.spans, len(freqs))
		for _, f := range b.Freq {
			if f > 0 && f < cfg.SampleRate/2 {
				freqs = append(freqs, f)
			}
		}
	}
	a.spans = append(a.spans, len(freqs))
	g, err := spectrum.NewMultiGoertzel(freqs, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	a.goertz = g
	a.win = window.Generate(window.TypeHann, cfg.BlockSize, window.WithPeriodic())
	for _, w := range a.win {
		a.norm += w
	}
	return a, nil
}

func (*Analyzer) Kind() string                { return "audio" }
func (*Analyzer) Inputs() []glbuild.InputPort { return nil }

func (a *Analyzer) Outputs() []glbuild.OutputPort {
	ports := make([]glbuild.OutputPort, 0, len(a.bands)+1)
	for _, b := range a.bands {
		ports = append(ports, glbuild.OutputPort{Name: b.Name, Type: glbuild.Float})
	}
	return append(ports, glbuild.OutputPort{Name: LevelPort, Type: glbuild.Float})
}

func (a *Analyzer) AppendCode(dst []byte, ctx *glbuild.Context, port, fnName string) ([]byte, error) {
	if a.bandIndex(port) < 0 && port != LevelPort {
		return dst, fmt.Errorf("no output %q", port)
	}
	u := ctx.Uniform(glbuild.UniformFloat, port)
	dst = glbuild.AppendFuncHeader(dst, glbuild.Float, fnName)
	return glbuild.AppendReturn(dst, u), nil
}

func (a *Analyzer) UniformUpdate(port, hint string) glbuild.Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	if hint == LevelPort {
		return glbuild.ScalarUpdate(a.rms)
	}
	i := a.bandIndex(hint)
	if i < 0 {
		return glbuild.NoUpdate()
	}
	return glbuild.ScalarUpdate(a.levels[i])
}

// Level returns the current level of the named band or of [LevelPort].
func (a *Analyzer) Level(name string) (float32, bool) {
	u := a.UniformUpdate(name, name)
	return u.Scalar, u.Kind == glbuild.UpdateScalar
}

// SampleRate returns the configured sample rate in Hz.
func (a *Analyzer) SampleRate() float64 { return a.cfg.SampleRate }

// Write appends mono samples in -1..1. It is safe to call from an audio callback goroutine.
func (a *Analyzer) Write(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ring := a.ring.Samples()
	for _, s := range samples {
		ring[a.head] = s
		a.head = (a.head + 1) % len(ring)
	}
	a.filled = min(a.filled+len(samples), len(ring))
}

// WritePCM16 appends little endian signed 16 bit mono samples. A trailing odd byte is ignored.
func (a *Analyzer) WritePCM16(b []byte) {
	samples := make([]float64, len(b)/2)
	for i := range samples {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(b[2*i:]))) / 32768
	}
	a.Write(samples)
}

// Reset discards buffered samples and zeroes the levels.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ring.Zero()
	a.head, a.filled = 0, 0
	clear(a.levels)
	a.rms = 0
}

// Tick analyzes the most recent block of samples.
func (a *Analyzer) Tick(dt time.Duration) {
	gain := float64(a.Gain.Float())
	smooth := a.Smoothing.Float()
	a.mu.Lock()
	defer a.mu.Unlock()
	// Oldest sample first, zero padded when fewer than a block was written.
	ring := a.ring.Samples()
	n := len(ring)
	clear(a.block)
	var sumsq float64
	for i := 0; i < a.filled; i++ {
		s := ring[(a.head-a.filled+i+n)%n]
		sumsq += s * s
		j := n - a.filled + i
		a.block[j] = s * a.win[j]
	}
	rms := 0.0
	if a.filled > 0 {
		rms = math.Sqrt(sumsq / float64(a.filled))
	}
	a.goertz.Reset()
	a.goertz.ProcessBlock(a.block)
	powers := a.goertz.Powers()
	for i := range a.bands {
		var peak float64
		for _, p := range powers[a.spans[i]:a.spans[i+1]] {
			peak = max(peak, p)
		}
		// Amplitude of a sinusoid from its windowed DFT magnitude.
		amp := 2 * math.Sqrt(peak) / a.norm
		a.levels[i] = smoothLevel(a.levels[i], amp*gain, smooth)
	}
	a.rms = smoothLevel(a.rms, rms*gain, smooth)
}

func smoothLevel(prev float32, v float64, smooth float32) float32 {
	next := float32(math.Min(math.Max(v, 0), 1))
	return smooth*prev + (1-smooth)*next
}

func (a *Analyzer) bandIndex(name string) int {
	for i, b := range a.bands {
		if b.Name == name {
			return i
		}
	}
	return -1
}

// Set sets the "gain" and "smoothing" parameters.
func (a *Analyzer) Set(name string, v any) error {
	var c *glbuild.Control
	switch name {
	case "gain":
		c = a.Gain
	case "smoothing":
		c = a.Smoothing
	default:
		return fmt.Errorf("unknown parameter %q for audio node", name)
	}
	if err := c.SetValue(v); err != nil {
		return fmt.Errorf("audio node parameter %q: %w", name, err)
	}
	return nil
}

var (
	_ glbuild.Updater = (*Analyzer)(nil)
	_ glpatch.Ticker  = (*Analyzer)(nil)
	_ glpatch.Setter  = (*Analyzer)(nil)
)
