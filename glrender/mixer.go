package glrender

import (
	_ "embed"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cogentcore.org/core/base/errors"
)

//go:embed mixer.glsl
var mixerSource string

// Channel identifies one of the two mixer inputs.
type Channel uint8

const (
	ChannelA Channel = iota
	ChannelB
)

func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	}
	return "Channel(" + strconv.Itoa(int(c)) + ")"
}

// Target is a render output the mixer can sample. [Renderer] implements Target.
type Target interface {
	// OutputTexture returns the texture holding the target's latest frame and its size.
	OutputTexture() (tex Texture, width, height int)
	// Rendering reports whether the texture holds frames worth showing.
	Rendering() bool
	// SetChannelIndicator is called when the target is assigned to (on=true)
	// or removed from a mixer channel.
	SetChannelIndicator(ch Channel, on bool)
}

// MixerConfig configures a [Mixer].
type MixerConfig struct {
	// Width and Height set a fixed output resolution. If zero the output tracks
	// the viewport size given by ViewportWidth and ViewportHeight.
	Width, Height                 int
	ViewportWidth, ViewportHeight int
	// FPS is the capture stream frame rate. Zero means DefaultStreamFPS.
	FPS int
	// Present blits the mixer output to the default framebuffer at viewport size.
	Present bool
	Logger  *slog.Logger
}

// Mixer composites two channels into one output through a static crossfade
// shader and exposes the result as a capture [Stream].
type Mixer struct {
	gl      GL
	log     *slog.Logger
	prog    Program
	locs    mixerLocations
	present bool
	fps     int

	slots  [2]Target
	mix    float32
	method CrossfadeMethod

	fixed         bool
	width, height int
	viewW, viewH  int
	tex           Texture
	fb            Framebuffer

	stream     *Stream
	projectors []Projector
	destroyed  bool
}

type mixerLocations struct {
	resolution, texA, texB, hasA, hasB, scaleA, scaleB, mix, method Location
}

// NewMixer compiles the crossfade shader and allocates the mixer output.
func NewMixer(gl GL, cfg MixerConfig) (*Mixer, error) {
	m := &Mixer{
		gl:      gl,
		log:     loggerOrDefault(cfg.Logger),
		present: cfg.Present,
		fps:     cfg.FPS,
		fixed:   cfg.Width > 0 && cfg.Height > 0,
		viewW:   cfg.ViewportWidth,
		viewH:   cfg.ViewportHeight,
	}
	if m.fps <= 0 {
		m.fps = DefaultStreamFPS
	}
	w, h := cfg.Width, cfg.Height
	if !m.fixed {
		w, h = cfg.ViewportWidth, cfg.ViewportHeight
	}
	if w <= 0 || h <= 0 {
		return nil, errBadSize
	}
	prog, err := gl.CompileProgram(VertexSource, mixerSource)
	if err != nil {
		return nil, fmt.Errorf("compiling mixer shader: %w", err)
	}
	m.prog = prog
	m.locs = mixerLocations{
		resolution: gl.UniformLocation(prog, "u_resolution"),
		texA:       gl.UniformLocation(prog, "u_texA"),
		texB:       gl.UniformLocation(prog, "u_texB"),
		hasA:       gl.UniformLocation(prog, "u_hasA"),
		hasB:       gl.UniformLocation(prog, "u_hasB"),
		scaleA:     gl.UniformLocation(prog, "u_scaleA"),
		scaleB:     gl.UniformLocation(prog, "u_scaleB"),
		mix:        gl.UniformLocation(prog, "u_mix"),
		method:     gl.UniformLocation(prog, "u_method"),
	}
	err = m.rebuild(w, h)
	if err != nil {
		gl.DeleteProgram(prog)
		return nil, err
	}
	return m, nil
}

// AssignToChannelA shows t on channel A.
func (m *Mixer) AssignToChannelA(t Target) { m.assign(ChannelA, t) }

// AssignToChannelB shows t on channel B.
func (m *Mixer) AssignToChannelB(t Target) { m.assign(ChannelB, t) }

func (m *Mixer) assign(ch Channel, t Target) {
	prev := m.slots[ch]
	if prev == t {
		return
	}
	if prev != nil {
		prev.SetChannelIndicator(ch, false)
	}
	m.slots[ch] = t
	if t != nil {
		t.SetChannelIndicator(ch, true)
	}
	m.log.Debug("mixer channel assigned", slog.String("channel", ch.String()), slog.Bool("empty", t == nil))
}

// ClearChannel removes t from every channel it is assigned to.
func (m *Mixer) ClearChannel(t Target) {
	if t == nil {
		return
	}
	for ch := range m.slots {
		if m.slots[ch] == t {
			m.assign(Channel(ch), nil)
		}
	}
}

// ChannelTarget returns the target assigned to ch or nil.
func (m *Mixer) ChannelTarget(ch Channel) Target {
	if int(ch) >= len(m.slots) {
		return nil
	}
	return m.slots[ch]
}

// SetMixValue sets the crossfade position, clamped to [0,1]. 0 shows channel A
// only and 1 channel B only.
func (m *Mixer) SetMixValue(v float32) {
	m.mix = min(max(v, 0), 1)
}

func (m *Mixer) MixValue() float32 { return m.mix }

// SetCrossfadeMethod selects the crossfade algorithm.
func (m *Mixer) SetCrossfadeMethod(method CrossfadeMethod) error {
	if method >= numCrossfadeMethods {
		return fmt.Errorf("crossfade method %d out of range [0,%d]", method, numCrossfadeMethods-1)
	}
	m.method = method
	return nil
}

func (m *Mixer) CrossfadeMethod() CrossfadeMethod { return m.method }

// SetResolution fixes the output resolution given as "WIDTHxHEIGHT", i.e: "1280x720".
func (m *Mixer) SetResolution(s string) error {
	w, h, err := ParseResolution(s)
	if err != nil {
		return err
	}
	m.fixed = true
	if w == m.width && h == m.height {
		return nil
	}
	return m.rebuild(w, h)
}

// SetViewportResolution makes the output track the viewport, currently width x height.
func (m *Mixer) SetViewportResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return errBadSize
	}
	m.fixed = false
	m.viewW, m.viewH = width, height
	if width == m.width && height == m.height {
		return nil
	}
	return m.rebuild(width, height)
}

// ViewportResized informs the mixer of a new viewport size. The output is
// rebuilt only when it tracks the viewport.
func (m *Mixer) ViewportResized(width, height int) error {
	if width <= 0 || height <= 0 {
		return errBadSize
	}
	m.viewW, m.viewH = width, height
	if m.fixed || (width == m.width && height == m.height) {
		return nil
	}
	return m.rebuild(width, height)
}

// Resolution returns the output size.
func (m *Mixer) Resolution() (width, height int) { return m.width, m.height }

// Stream returns the current capture stream. It is replaced on every resolution change.
func (m *Mixer) Stream() *Stream { return m.stream }

// ConnectProjector connects p to the capture stream now and after every resolution change.
func (m *Mixer) ConnectProjector(p Projector) {
	m.projectors = append(m.projectors, p)
	p.Connect(m.stream)
}

// rebuild reallocates the output target and replaces the capture stream,
// reconnecting every projector to the new one.
func (m *Mixer) rebuild(width, height int) error {
	if m.destroyed {
		return errDestroyed
	}
	if m.fb != 0 {
		m.gl.DeleteFramebuffer(m.fb)
		m.gl.DeleteTexture(m.tex)
		m.tex, m.fb = 0, 0
	}
	tex, fb, err := m.gl.NewRenderTarget(width, height)
	if err != nil {
		return errors.Log(fmt.Errorf("mixer output %dx%d: %w", width, height, err))
	}
	m.tex, m.fb = tex, fb
	m.width, m.height = width, height
	if m.stream != nil {
		m.stream.Close()
	}
	m.stream = NewStream(width, height, m.fps)
	for _, p := range m.projectors {
		p.Connect(m.stream)
	}
	m.log.Info("mixer resolution", slog.Int("width", width), slog.Int("height", height), slog.Bool("fixed", m.fixed))
	return nil
}

// Render composites the channels into the mixer output and captures a stream
// frame if one is due at now.
func (m *Mixer) Render(now time.Time) error {
	if m.destroyed {
		return errDestroyed
	}
	gl := m.gl
	gl.BindFramebuffer(m.fb)
	gl.Viewport(m.width, m.height)
	texA, scaleA, hasA := m.channel(ChannelA)
	texB, scaleB, hasB := m.channel(ChannelB)
	if !hasA && !hasB {
		gl.Clear(opaqueBlack)
	} else {
		gl.UseProgram(m.prog)
		gl.Uniform2f(m.locs.resolution, float32(m.width), float32(m.height))
		gl.BindTexture2D(0, texA)
		gl.Uniform1i(m.locs.texA, 0)
		gl.BindTexture2D(1, texB)
		gl.Uniform1i(m.locs.texB, 1)
		gl.Uniform1i(m.locs.hasA, boolInt(hasA))
		gl.Uniform1i(m.locs.hasB, boolInt(hasB))
		gl.Uniform1f(m.locs.scaleA, scaleA)
		gl.Uniform1f(m.locs.scaleB, scaleB)
		gl.Uniform1f(m.locs.mix, m.mix)
		gl.Uniform1i(m.locs.method, int32(m.method))
		gl.DrawQuad()
	}
	if m.present && m.viewW > 0 && m.viewH > 0 {
		gl.Blit(m.fb, 0, m.width, m.height, m.viewW, m.viewH)
	}
	var errs []error
	if m.stream.Due(now) {
		img := image.NewNRGBA(image.Rect(0, 0, m.width, m.height))
		err := gl.ReadPixels(m.fb, img)
		if err != nil {
			errs = append(errs, errors.Log(err))
		} else {
			flipRows(img)
			if dropped := m.stream.Publish(img, now); dropped > 0 {
				m.log.Debug("projector frames dropped", slog.Int("n", dropped))
			}
		}
	}
	if err := gl.Err(); err != nil {
		errs = append(errs, errors.Log(err))
	}
	return errors.Join(errs...)
}

func (m *Mixer) channel(ch Channel) (tex Texture, scale float32, ok bool) {
	t := m.slots[ch]
	if t == nil || !t.Rendering() {
		return 0, 1, false
	}
	tex, w, h := t.OutputTexture()
	if tex == 0 {
		return 0, 1, false
	}
	return tex, channelScale(float32(m.width)/float32(m.height), w, h), true
}

// Destroy releases the mixer's GPU objects and closes its stream.
func (m *Mixer) Destroy() {
	if m.destroyed {
		return
	}
	for ch := range m.slots {
		m.assign(Channel(ch), nil)
	}
	m.gl.DeleteProgram(m.prog)
	if m.fb != 0 {
		m.gl.DeleteFramebuffer(m.fb)
		m.gl.DeleteTexture(m.tex)
	}
	m.stream.Close()
	m.destroyed = true
}

// ParseResolution parses "WIDTHxHEIGHT".
func ParseResolution(s string) (width, height int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q not in WIDTHxHEIGHT form", s)
	}
	width, err = strconv.Atoi(ws)
	if err == nil {
		height, err = strconv.Atoi(hs)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: %w", s, err)
	} else if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: %w", s, errBadSize)
	}
	return width, height, nil
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// flipRows converts GL's bottom-up row order to image order in place.
func flipRows(img *image.NRGBA) {
	h := img.Rect.Dy()
	row := make([]byte, img.Stride)
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bot := img.Pix[(h-1-y)*img.Stride : (h-y)*img.Stride]
		copy(row, top)
		copy(top, bot)
		copy(bot, row)
	}
}
