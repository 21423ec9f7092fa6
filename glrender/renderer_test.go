package glrender

import (
	"errors"
	"image"
	"image/color"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypat/glpatch"
	"github.com/soypat/glpatch/glbuild"
)

var red = color.NRGBA{R: 255, A: 255}

func colorPatch(t *testing.T) (*glpatch.Graph, *glbuild.Program) {
	t.Helper()
	g := glpatch.NewGraph()
	cc := g.AddNode(glpatch.NewConstantColor(red))
	o := g.AddNode(&glpatch.Output{})
	require.NoError(t, g.Connect(glbuild.PortRef{Node: cc, Port: "out"}, glbuild.PortRef{Node: o, Port: glpatch.OutputInput}))
	prog := glpatch.Compile(g)
	require.NotNil(t, prog)
	return g, prog
}

func TestHistoryRing(t *testing.T) {
	const size = 4
	gl := newRecorder(false)
	r, err := NewRenderer(gl, Config{Width: 64, Height: 32, FrameBufferSize: size})
	require.NoError(t, err)
	g, prog := colorPatch(t)
	called := false
	r.UpdateProgram(prog, func(err error) {
		called = true
		assert.NoError(t, err)
	})
	require.True(t, called)
	require.Equal(t, StateActive, r.State())

	slotOf := make(map[Framebuffer]int)
	for i, fb := range r.slots {
		slotOf[fb] = i
	}
	written := make([]int, size)
	for cycle := 0; cycle < 2; cycle++ {
		for i := 0; i < size; i++ {
			require.Equal(t, i, r.CurrentIndex())
			gl.blits = gl.blits[:0]
			require.NoError(t, r.Render(float32(i), g))
			assert.Equal(t, int32(i), gl.uniform(glbuild.UniformFrameIndex))
			assert.Equal(t, int32(size), gl.uniform(glbuild.UniformFrameBufSize))
			assert.Equal(t, [2]float32{64, 32}, gl.uniform(glbuild.UniformResolution))
			assert.Equal(t, r.history, gl.units[0])
			require.Len(t, gl.blits, 2)
			assert.Equal(t, r.tempFB, gl.blits[0][0])
			slot, ok := slotOf[gl.blits[0][1]]
			require.True(t, ok, "first blit must target a history slot")
			assert.Equal(t, i, slot)
			assert.Equal(t, [2]Framebuffer{r.tempFB, r.outFB}, gl.blits[1])
			written[slot]++
		}
		assert.Equal(t, 0, r.CurrentIndex(), "cursor must wrap after a full cycle")
	}
	assert.Equal(t, []int{2, 2, 2, 2}, written)

	b := r.Bindings().At(0)
	assert.Equal(t, [4]float32{1, 0, 0, 1}, gl.uniform(b.Name))
}

func TestResizeResetsHistory(t *testing.T) {
	gl := newRecorder(false)
	r, err := NewRenderer(gl, Config{Width: 8, Height: 8, FrameBufferSize: 5})
	require.NoError(t, err)
	g, prog := colorPatch(t)
	r.UpdateProgram(prog, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Render(0, g))
	}
	require.Equal(t, 3, r.CurrentIndex())

	oldHistory, oldSlots := r.history, slices.Clone(r.slots)
	require.NoError(t, r.Resize(16, 4))
	assert.Equal(t, 0, r.CurrentIndex())
	assert.NotContains(t, gl.textures, oldHistory)
	for _, fb := range oldSlots {
		assert.NotContains(t, gl.fbs, fb)
	}
	assert.Equal(t, "array 16x4x5", gl.textures[r.history])
	for _, fb := range r.slots {
		assert.Equal(t, opaqueBlack, gl.clears[fb], "history slots must start cleared")
	}

	n, err := r.SetFrameBufferSize(500)
	require.NoError(t, err)
	assert.Equal(t, MaxFrameBufferSize, n)
	n, err = r.SetFrameBufferSize(0)
	require.NoError(t, err)
	assert.Equal(t, MinFrameBufferSize, n)
	assert.Len(t, r.slots, 1)
	// Only the current history array and the temp and output targets remain.
	assert.Len(t, gl.textures, 3)
	assert.Len(t, gl.fbs, 3)

	require.NoError(t, r.Render(0, g))
	assert.Equal(t, 0, r.CurrentIndex())
	assert.ErrorIs(t, r.Resize(0, 10), errBadSize)
}

func TestAsyncSwapNeverBlanks(t *testing.T) {
	gl := newRecorder(true)
	r, err := NewRenderer(gl, Config{Width: 4, Height: 4})
	require.NoError(t, err)
	require.True(t, r.Async())
	g, prog := colorPatch(t)
	var results []error
	record := func(err error) { results = append(results, err) }

	r.UpdateProgram(prog, record)
	assert.Equal(t, StateCompiling, r.State())
	require.NoError(t, r.Render(0, g))
	assert.Empty(t, gl.draws, "nothing to draw while the first program compiles")
	assert.Equal(t, opaqueBlack, gl.clears[r.outFB])
	p1 := r.pending.id
	gl.finish(p1)
	require.NoError(t, r.Render(0, g))
	assert.Equal(t, StateActive, r.State())
	assert.Equal(t, []Program{p1}, gl.draws)
	require.Len(t, results, 1)
	assert.NoError(t, results[0])

	r.UpdateProgram(prog, record)
	p2 := r.pending.id
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Render(0, g))
		assert.Equal(t, p1, gl.draws[len(gl.draws)-1], "previous program must render while compiling")
		assert.Equal(t, StateCompiling, r.State())
	}

	// A newer request abandons p2; its callback is never called.
	r.UpdateProgram(prog, record)
	p3 := r.pending.id
	gl.finish(p3)
	require.NoError(t, r.Render(0, g))
	assert.Equal(t, p3, gl.draws[len(gl.draws)-1])
	assert.True(t, gl.programs[p1].deleted)
	assert.False(t, gl.programs[p2].deleted, "abandoned program deleted before the driver finished it")

	gl.finish(p2)
	require.NoError(t, r.Render(0, g))
	assert.True(t, gl.programs[p2].deleted)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, gl.live())
	for i, p := range gl.draws {
		assert.NotZero(t, p, "draw %d without program", i)
	}
}

func TestCompileFailureKeepsProgram(t *testing.T) {
	for _, async := range []bool{false, true} {
		gl := newRecorder(async)
		r, err := NewRenderer(gl, Config{Width: 4, Height: 4})
		require.NoError(t, err)
		bad := &glbuild.Program{Source: glbuild.VersionStr + "#error\n"}
		settle := func(prog *glbuild.Program) (result error) {
			r.UpdateProgram(prog, func(err error) { result = err })
			if async {
				gl.finish(r.pending.id)
				require.NoError(t, r.Render(0, nil))
			}
			return result
		}
		err = settle(bad)
		var perr *ProgramError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, StateFailed, r.State())

		g, prog := colorPatch(t)
		require.NoError(t, settle(prog))
		active := r.active.id
		require.Error(t, settle(bad))
		assert.Equal(t, StateActive, r.State(), "failure must fall back to previous program")
		require.NoError(t, r.Render(0, g))
		assert.Equal(t, active, gl.draws[len(gl.draws)-1])
		assert.Equal(t, 1, gl.live())
	}
}

func TestNodeDeletionPurgesBindings(t *testing.T) {
	gl := newRecorder(false)
	r, err := NewRenderer(gl, Config{Width: 4, Height: 4})
	require.NoError(t, err)

	g := glpatch.NewGraph()
	g.OnRemove(func(id glbuild.NodeID) { r.ReleaseNode(id) })
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	imgID := g.AddNode(glpatch.NewImage(img))
	tunnel := glpatch.NewTunnel(1, red)
	tunID := g.AddNode(tunnel)
	mix := g.AddNode(glpatch.NewMix())
	o := g.AddNode(&glpatch.Output{})
	require.NoError(t, g.Connect(glbuild.PortRef{Node: imgID, Port: "out"}, glbuild.PortRef{Node: mix, Port: "a"}))
	require.NoError(t, g.Connect(glbuild.PortRef{Node: tunID, Port: "out"}, glbuild.PortRef{Node: mix, Port: "b"}))
	require.NoError(t, g.Connect(glbuild.PortRef{Node: mix, Port: "out"}, glbuild.PortRef{Node: o, Port: glpatch.OutputInput}))
	prog := glpatch.Compile(g)
	require.NotNil(t, prog)
	r.UpdateProgram(prog, nil)

	require.NoError(t, r.Render(0, g))
	require.Equal(t, 1, r.textures.len())
	var tex Texture
	for _, e := range r.textures.entries {
		tex = e.tex
	}
	assert.Equal(t, image.Pt(3, 2), gl.uploads[tex])
	assert.Equal(t, tex, gl.units[1], "first node texture goes on the unit after the history array")

	before := r.Bindings().Len()
	// Nodes may be removed off the render goroutine.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, g.RemoveNode(imgID))
	}()
	wg.Wait()
	assert.Equal(t, before, r.Bindings().Len(), "releases wait for the next frame")
	assert.Contains(t, gl.textures, tex)

	require.NoError(t, r.Render(1, g))
	assert.Equal(t, before-3, r.Bindings().Len(), "image scale, tex and aspect bindings must be purged")
	assert.Zero(t, r.textures.len())
	assert.NotContains(t, gl.textures, tex)
	require.NoError(t, g.RemoveNode(tunID))
	require.NoError(t, r.Render(2, g))
	for _, b := range r.Bindings().All() {
		assert.NotEqual(t, tunID, b.Origin)
		assert.NotEqual(t, imgID, b.Origin)
	}
}

func imageGraph(t *testing.T, w, h int) (*glpatch.Graph, *glbuild.Program) {
	t.Helper()
	g := glpatch.NewGraph()
	id := g.AddNode(glpatch.NewImage(image.NewNRGBA(image.Rect(0, 0, w, h))))
	o := g.AddNode(&glpatch.Output{})
	require.NoError(t, g.Connect(glbuild.PortRef{Node: id, Port: "out"}, glbuild.PortRef{Node: o, Port: glpatch.OutputInput}))
	prog := glpatch.Compile(g)
	require.NotNil(t, prog)
	return g, prog
}

// lastUpload returns the size of the only cached texture.
func lastUpload(t *testing.T, gl *recorder, r *Renderer) image.Point {
	t.Helper()
	require.Equal(t, 1, r.textures.len())
	for _, e := range r.textures.entries {
		return gl.uploads[e.tex]
	}
	return image.Point{}
}

func TestGraphSwapReleasesTextures(t *testing.T) {
	gl := newRecorder(false)
	r, err := NewRenderer(gl, Config{Width: 4, Height: 4})
	require.NoError(t, err)
	g1, prog1 := imageGraph(t, 3, 2)
	r.UpdateProgram(prog1, nil)
	require.NoError(t, r.Render(0, g1))
	assert.Equal(t, image.Pt(3, 2), lastUpload(t, gl, r))

	// Same node ID and image version in a different graph.
	g2, prog2 := imageGraph(t, 7, 5)
	r.UpdateProgram(prog2, nil)
	r.ReleaseTextures()
	require.NoError(t, r.Render(0, g2))
	assert.Equal(t, image.Pt(7, 5), lastUpload(t, gl, r))

	// Textures no longer sampled by the active program are deleted on swap.
	_, prog3 := colorPatch(t)
	r.UpdateProgram(prog3, nil)
	assert.Zero(t, r.textures.len())
	assert.Len(t, gl.textures, 3, "only the history array and the temp and output targets remain")
}

// failingGL fails allocations of texture arrays or render targets on request.
type failingGL struct {
	*recorder
	failArrays  bool
	failTargets bool
}

func (f *failingGL) NewTextureArray(width, height, layers int) (Texture, error) {
	if f.failArrays {
		return 0, errors.New("out of memory")
	}
	return f.recorder.NewTextureArray(width, height, layers)
}

func (f *failingGL) NewRenderTarget(width, height int) (Texture, Framebuffer, error) {
	if f.failTargets {
		return 0, 0, errors.New("out of memory")
	}
	return f.recorder.NewRenderTarget(width, height)
}

func TestFailedResizeKeepsTargets(t *testing.T) {
	rec := newRecorder(false)
	gl := &failingGL{recorder: rec}
	r, err := NewRenderer(gl, Config{Width: 8, Height: 8, FrameBufferSize: 3})
	require.NoError(t, err)
	g, prog := colorPatch(t)
	r.UpdateProgram(prog, nil)
	require.NoError(t, r.Render(0, g))
	history, slots := r.history, slices.Clone(r.slots)
	textures, fbs := len(rec.textures), len(rec.fbs)

	gl.failArrays = true
	assert.Error(t, r.Resize(16, 16))
	n, err := r.SetFrameBufferSize(6)
	assert.Error(t, err)
	assert.Equal(t, 3, n)
	w, h := r.Size()
	assert.Equal(t, 8, w)
	assert.Equal(t, 8, h)
	assert.Equal(t, history, r.history)
	assert.Equal(t, slots, r.slots)
	assert.NoError(t, r.Render(1, g))
	assert.Equal(t, 2, r.CurrentIndex())

	// History slots allocated before a failing render target are freed.
	gl.failArrays, gl.failTargets = false, true
	assert.Error(t, r.Resize(4, 4))
	assert.Len(t, rec.textures, textures)
	assert.Len(t, rec.fbs, fbs)
	assert.Equal(t, history, r.history)
	assert.NoError(t, r.Render(2, g))
}

func TestRenderWithoutTargets(t *testing.T) {
	gl := newRecorder(false)
	r, err := NewRenderer(gl, Config{Width: 4, Height: 4})
	require.NoError(t, err)
	g, prog := colorPatch(t)
	r.UpdateProgram(prog, nil)
	r.freeTargets(&r.targets)
	assert.ErrorIs(t, r.Render(0, g), errNoTargets)
	assert.Empty(t, gl.draws)
}

func TestTextureFallbackAndVersion(t *testing.T) {
	gl := newRecorder(false)
	r, err := NewRenderer(gl, Config{Width: 4, Height: 4})
	require.NoError(t, err)
	g := glpatch.NewGraph()
	node := glpatch.NewImage(nil)
	id := g.AddNode(node)
	o := g.AddNode(&glpatch.Output{})
	require.NoError(t, g.Connect(glbuild.PortRef{Node: id, Port: "out"}, glbuild.PortRef{Node: o, Port: glpatch.OutputInput}))
	r.UpdateProgram(glpatch.Compile(g), nil)

	require.NoError(t, r.Render(0, g))
	var tex Texture
	for _, e := range r.textures.entries {
		tex = e.tex
	}
	assert.Equal(t, image.Pt(1, 1), gl.uploads[tex], "missing image must upload a black pixel")

	node.SetImage(image.NewRGBA(image.Rect(10, 10, 20, 15)))
	require.NoError(t, r.Render(0, g))
	assert.Equal(t, image.Pt(10, 5), gl.uploads[tex])

	// Same version: no upload.
	gl.uploads[tex] = image.Point{}
	require.NoError(t, r.Render(0, g))
	assert.Equal(t, image.Point{}, gl.uploads[tex])
}

func TestDestroyReleasesEverything(t *testing.T) {
	gl := newRecorder(true)
	r, err := NewRenderer(gl, Config{Width: 4, Height: 4})
	require.NoError(t, err)
	_, prog := colorPatch(t)
	r.UpdateProgram(prog, nil)
	gl.finish(r.pending.id)
	require.NoError(t, r.Render(0, nil))
	r.UpdateProgram(prog, nil)
	r.Destroy()
	assert.Zero(t, gl.live())
	assert.Empty(t, gl.textures)
	assert.Empty(t, gl.fbs)
	assert.ErrorIs(t, r.Render(0, nil), errDestroyed)
}
