package glrender

import (
	"log/slog"
	"sync"

	"cogentcore.org/core/base/errors"
	"github.com/soypat/glpatch/glbuild"
)

// Renderer executes one compiled program per frame into a ring buffer of
// frame history textures. Programs are swapped without blanking the output:
// the previous program renders until its replacement is linked.
type Renderer struct {
	gl      GL
	log     *slog.Logger
	async   bool
	present bool

	width, height int
	fbSize        int
	// currentIndex is the history slot the next frame is written to.
	currentIndex int
	targets

	state   ProgramState
	active  *activeProgram
	pending *pendingProgram
	// abandoned programs are deleted once the driver is done with them.
	abandoned []Program
	textures  textureCache

	// mu guards the releases queued by ReleaseNode and ReleaseTextures,
	// which are applied by the next Render.
	mu         sync.Mutex
	released   []glbuild.NodeID
	releaseAll bool

	indicators [2]bool
	destroyed  bool
}

// targets are the GPU objects frames are rendered into.
type targets struct {
	history Texture
	slots   []Framebuffer
	temp    Texture
	tempFB  Framebuffer
	out     Texture
	outFB   Framebuffer
}

type activeProgram struct {
	id       Program
	bindings *glbuild.BindingTable
	locs     map[string]Location
	std      stdLocations
}

type stdLocations struct {
	resolution, time, history, frameIndex, bufSize Location
}

type pendingProgram struct {
	id         Program
	bindings   *glbuild.BindingTable
	onComplete func(error)
}

// NewRenderer allocates the frame history and render targets of a renderer.
// Asynchronous compilation is enabled when gl supports it and cfg.ForceSync is false.
// The choice is fixed for the lifetime of the renderer.
func NewRenderer(gl GL, cfg Config) (*Renderer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errBadSize
	}
	fbSize := cfg.FrameBufferSize
	if fbSize == 0 {
		fbSize = DefaultFrameBufferSize
	}
	r := &Renderer{
		gl:       gl,
		log:      loggerOrDefault(cfg.Logger),
		async:    !cfg.ForceSync && gl.ParallelCompile(),
		present:  cfg.Present,
		width:    cfg.Width,
		height:   cfg.Height,
		fbSize:   clampFrameBufferSize(fbSize),
		textures: newTextureCache(gl),
	}
	t, err := r.newTargets(r.width, r.height, r.fbSize)
	if err != nil {
		r.freeTargets(&t)
		return nil, err
	}
	r.targets = t
	return r, nil
}

// Async reports whether programs are compiled asynchronously.
func (r *Renderer) Async() bool { return r.async }

// State returns the program lifecycle state.
func (r *Renderer) State() ProgramState { return r.state }

// CurrentIndex returns the history slot the next rendered frame is written to.
func (r *Renderer) CurrentIndex() int { return r.currentIndex }

func (r *Renderer) FrameBufferSize() int { return r.fbSize }

func (r *Renderer) Size() (width, height int) { return r.width, r.height }

// Bindings returns the binding table of the active program, or nil.
func (r *Renderer) Bindings() *glbuild.BindingTable {
	if r.active == nil {
		return nil
	}
	return r.active.bindings
}

// UpdateProgram compiles prog and makes it the active program together with its
// binding table. On failure the previous program keeps rendering. onComplete, if
// not nil, is called with the outcome: immediately in synchronous mode, or from
// the [Renderer.Render] call that observes the compile finishing in asynchronous mode.
// A program still compiling when UpdateProgram is called again is abandoned and
// its onComplete is never called.
func (r *Renderer) UpdateProgram(prog *glbuild.Program, onComplete func(error)) {
	done := func(err error) {
		if onComplete != nil {
			onComplete(err)
		}
	}
	if r.destroyed {
		done(errDestroyed)
		return
	} else if prog == nil {
		done(errors.New("glrender: nil program"))
		return
	}
	bindings := prog.Bindings.Clone()
	if !r.async {
		id, err := r.gl.CompileProgram(VertexSource, prog.Source)
		if err != nil {
			r.compileFailed(err)
			done(err)
			return
		}
		r.swap(id, bindings)
		done(nil)
		return
	}
	if r.pending != nil {
		r.abandoned = append(r.abandoned, r.pending.id)
		r.pending = nil
	}
	id, err := r.gl.BeginProgram(VertexSource, prog.Source)
	if err != nil {
		r.compileFailed(err)
		done(err)
		return
	}
	r.pending = &pendingProgram{id: id, bindings: bindings, onComplete: onComplete}
	r.state = StateCompiling
}

func (r *Renderer) compileFailed(err error) {
	attrs := []any{slog.String("err", err.Error())}
	if perr, ok := err.(*ProgramError); ok {
		attrs = append(attrs, slog.String("stage", perr.Stage), slog.String("log", perr.Log))
	}
	r.log.Error("shader program rejected", attrs...)
	if r.active != nil {
		r.state = StateActive
	} else {
		r.state = StateFailed
	}
}

// poll checks on pending and abandoned programs without blocking.
func (r *Renderer) poll() {
	kept := r.abandoned[:0]
	for _, id := range r.abandoned {
		if r.gl.ProgramDone(id) {
			r.gl.DeleteProgram(id)
		} else {
			kept = append(kept, id)
		}
	}
	r.abandoned = kept

	p := r.pending
	if p == nil || !r.gl.ProgramDone(p.id) {
		return
	}
	r.pending = nil
	err := r.gl.ProgramStatus(p.id)
	if err != nil {
		r.gl.DeleteProgram(p.id)
		r.compileFailed(err)
	} else {
		r.swap(p.id, p.bindings)
	}
	if p.onComplete != nil {
		p.onComplete(err)
	}
}

// swap makes a linked program active and deletes the previous one.
func (r *Renderer) swap(id Program, bindings *glbuild.BindingTable) {
	ap := &activeProgram{
		id:       id,
		bindings: bindings,
		locs:     make(map[string]Location, bindings.Len()),
		std: stdLocations{
			resolution: r.gl.UniformLocation(id, glbuild.UniformResolution),
			time:       r.gl.UniformLocation(id, glbuild.UniformTime),
			history:    r.gl.UniformLocation(id, glbuild.UniformFrameHistory),
			frameIndex: r.gl.UniformLocation(id, glbuild.UniformFrameIndex),
			bufSize:    r.gl.UniformLocation(id, glbuild.UniformFrameBufSize),
		},
	}
	used := make(map[glbuild.TextureKey]bool)
	for _, b := range bindings.All() {
		ap.locs[b.Name] = r.gl.UniformLocation(id, b.Name)
		if b.Type == glbuild.UniformSampler2D {
			used[b.TextureKey()] = true
		}
	}
	if n := r.textures.prune(used); n > 0 {
		r.log.Debug("dropped unused textures", slog.Int("textures", n))
	}
	if r.active != nil {
		r.gl.DeleteProgram(r.active.id)
	}
	r.active = ap
	r.state = StateActive
	r.log.Debug("shader program active", slog.Int("uniforms", bindings.Len()), slog.Bool("async", r.async))
}

// ReleaseNode queues the purge of the bindings and cached textures of a
// destroyed node. The purge is applied at the start of the next [Renderer.Render],
// before any value is queried, so ReleaseNode may be called from any goroutine.
func (r *Renderer) ReleaseNode(id glbuild.NodeID) {
	r.mu.Lock()
	r.released = append(r.released, id)
	r.mu.Unlock()
}

// ReleaseTextures queues the deletion of every cached node texture. Call it
// when the node IDs of the value source stop referring to the same nodes,
// such as when a different graph starts feeding the renderer.
func (r *Renderer) ReleaseTextures() {
	r.mu.Lock()
	r.releaseAll = true
	r.mu.Unlock()
}

func (r *Renderer) applyReleases() {
	r.mu.Lock()
	ids, all := r.released, r.releaseAll
	r.released, r.releaseAll = nil, false
	r.mu.Unlock()
	if all {
		r.textures.destroy()
	}
	for _, id := range ids {
		removed := r.textures.removeNode(id)
		if r.active != nil {
			removed += r.active.bindings.RemoveNode(id)
		}
		if r.pending != nil {
			removed += r.pending.bindings.RemoveNode(id)
		}
		r.log.Debug("node released", slog.Int("node", int(id)), slog.Int("removed", removed))
	}
}

// Render draws one frame at time seconds and writes it to the history ring,
// the output target and, when presenting, the screen. Failures while pushing
// uniforms are logged and returned after the frame is complete.
func (r *Renderer) Render(time float32, values ValueSource) error {
	if r.destroyed {
		return errDestroyed
	}
	if len(r.slots) == 0 {
		return errNoTargets
	}
	r.poll()
	r.applyReleases()
	p := r.active
	if p == nil {
		r.gl.BindFramebuffer(r.outFB)
		r.gl.Viewport(r.width, r.height)
		r.gl.Clear(opaqueBlack)
		if r.present {
			r.gl.BindFramebuffer(0)
			r.gl.Clear(opaqueBlack)
		}
		return nil
	}
	gl := r.gl
	gl.BindFramebuffer(r.tempFB)
	gl.Viewport(r.width, r.height)
	gl.UseProgram(p.id)
	gl.Uniform2f(p.std.resolution, float32(r.width), float32(r.height))
	gl.Uniform1f(p.std.time, time)
	gl.Uniform1i(p.std.frameIndex, int32(r.currentIndex))
	gl.Uniform1i(p.std.bufSize, int32(r.fbSize))
	gl.BindTextureArray(0, r.history)
	gl.Uniform1i(p.std.history, 0)

	var errs []error
	unit := 1
	for _, b := range p.bindings.All() {
		loc := p.locs[b.Name]
		if b.IsControl() {
			pushControl(gl, loc, b)
			continue
		}
		u := glbuild.NoUpdate()
		if values != nil {
			u = values.UniformValue(b.Origin, b.Port, b.Hint)
		}
		var err error
		switch u.Kind {
		case glbuild.UpdateNone:
			if b.Type == glbuild.UniformSampler2D {
				// Samplers must never be left pointing at the history array's unit.
				err = r.textures.bindCached(unit, b.TextureKey())
				gl.Uniform1i(loc, int32(unit))
				unit++
			}
		case glbuild.UpdateScalar:
			if b.Type == glbuild.UniformInt || b.Type == glbuild.UniformBool {
				gl.Uniform1i(loc, int32(u.Scalar))
			} else {
				gl.Uniform1f(loc, u.Scalar)
			}
		case glbuild.UpdateColor:
			gl.Uniform4f(loc, u.Color)
		case glbuild.UpdateTexture:
			err = r.textures.bind(unit, b.TextureKey(), u)
			gl.Uniform1i(loc, int32(unit))
			unit++
		default:
			err = errors.New("glrender: unknown update kind " + u.Kind.String())
		}
		if err != nil {
			errs = append(errs, errors.Log(err))
		}
	}
	gl.DrawQuad()

	w, h := r.width, r.height
	gl.Blit(r.tempFB, r.slots[r.currentIndex], w, h, w, h)
	gl.Blit(r.tempFB, r.outFB, w, h, w, h)
	if r.present {
		gl.Blit(r.outFB, 0, w, h, w, h)
	}
	if err := gl.Err(); err != nil {
		errs = append(errs, errors.Log(err))
	}
	r.currentIndex = (r.currentIndex + 1) % r.fbSize
	return errors.Join(errs...)
}

var opaqueBlack = [4]float32{0, 0, 0, 1}

func pushControl(gl GL, loc Location, b glbuild.Binding) {
	c := b.Control
	switch b.Type {
	case glbuild.UniformFloat:
		gl.Uniform1f(loc, c.Float())
	case glbuild.UniformVec2:
		v := c.Vec2()
		gl.Uniform2f(loc, v.X, v.Y)
	case glbuild.UniformVec4:
		gl.Uniform4f(loc, c.Color())
	case glbuild.UniformInt:
		gl.Uniform1i(loc, int32(c.Int()))
	case glbuild.UniformBool:
		var v int32
		if c.Bool() {
			v = 1
		}
		gl.Uniform1i(loc, v)
	}
}

// Resize reallocates the frame history and render targets at the new size.
// History is cleared and the write cursor returns to slot 0. On failure the
// renderer keeps its previous size and targets.
func (r *Renderer) Resize(width, height int) error {
	if r.destroyed {
		return errDestroyed
	} else if width <= 0 || height <= 0 {
		return errBadSize
	}
	return r.realloc(width, height, r.fbSize)
}

// SetFrameBufferSize sets the frame history depth, clamped to
// [MinFrameBufferSize, MaxFrameBufferSize], and returns the depth used.
// History is cleared and the write cursor returns to slot 0.
func (r *Renderer) SetFrameBufferSize(n int) (int, error) {
	if r.destroyed {
		return r.fbSize, errDestroyed
	}
	err := r.realloc(r.width, r.height, clampFrameBufferSize(n))
	return r.fbSize, err
}

// realloc replaces the render targets. The old targets are freed only once
// the new ones are complete.
func (r *Renderer) realloc(width, height, fbSize int) error {
	t, err := r.newTargets(width, height, fbSize)
	if err != nil {
		r.freeTargets(&t)
		return errors.Log(err)
	}
	r.freeTargets(&r.targets)
	r.targets = t
	r.width, r.height, r.fbSize = width, height, fbSize
	r.currentIndex = 0
	return nil
}

// newTargets allocates cleared targets. On error t holds what was allocated
// before the failure.
func (r *Renderer) newTargets(width, height, fbSize int) (t targets, err error) {
	t.history, err = r.gl.NewTextureArray(width, height, fbSize)
	if err != nil {
		return t, err
	}
	for i := 0; i < fbSize; i++ {
		fb, err := r.gl.NewFramebufferLayer(t.history, i)
		if err != nil {
			return t, err
		}
		t.slots = append(t.slots, fb)
		r.gl.BindFramebuffer(fb)
		r.gl.Viewport(width, height)
		r.gl.Clear(opaqueBlack)
	}
	t.temp, t.tempFB, err = r.gl.NewRenderTarget(width, height)
	if err != nil {
		return t, err
	}
	t.out, t.outFB, err = r.gl.NewRenderTarget(width, height)
	if err != nil {
		return t, err
	}
	r.gl.BindFramebuffer(t.outFB)
	r.gl.Clear(opaqueBlack)
	r.gl.BindFramebuffer(0)
	return t, nil
}

func (r *Renderer) freeTargets(t *targets) {
	for _, fb := range t.slots {
		if fb != 0 {
			r.gl.DeleteFramebuffer(fb)
		}
	}
	for _, fb := range []Framebuffer{t.tempFB, t.outFB} {
		if fb != 0 {
			r.gl.DeleteFramebuffer(fb)
		}
	}
	for _, tex := range []Texture{t.history, t.temp, t.out} {
		if tex != 0 {
			r.gl.DeleteTexture(tex)
		}
	}
	*t = targets{}
}

// Destroy releases every GPU object owned by the renderer. A program still
// compiling is deleted without waiting for the driver.
func (r *Renderer) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	if r.active != nil {
		r.gl.DeleteProgram(r.active.id)
		r.active = nil
	}
	if r.pending != nil {
		r.gl.DeleteProgram(r.pending.id)
		r.pending = nil
	}
	for _, id := range r.abandoned {
		r.gl.DeleteProgram(id)
	}
	r.abandoned = nil
	r.textures.destroy()
	r.freeTargets(&r.targets)
	r.state = StateUninitialized
}

// OutputTexture returns the texture holding the last rendered frame.
func (r *Renderer) OutputTexture() (tex Texture, width, height int) {
	return r.out, r.width, r.height
}

// Rendering reports whether the renderer has a program to draw with.
func (r *Renderer) Rendering() bool { return r.active != nil && !r.destroyed }

// SetChannelIndicator records whether the renderer is shown on a mixer channel.
func (r *Renderer) SetChannelIndicator(ch Channel, on bool) {
	if int(ch) < len(r.indicators) {
		r.indicators[ch] = on
	}
}

// OnChannel reports whether the renderer is assigned to mixer channel ch.
func (r *Renderer) OnChannel(ch Channel) bool {
	return int(ch) < len(r.indicators) && r.indicators[ch]
}
