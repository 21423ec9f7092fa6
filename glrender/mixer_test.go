package glrender

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/soypat/geometry/ms2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	tex           Texture
	width, height int
	rendering     bool
	on            map[Channel]bool
}

func (f *fakeTarget) OutputTexture() (Texture, int, int) { return f.tex, f.width, f.height }
func (f *fakeTarget) Rendering() bool                    { return f.rendering }
func (f *fakeTarget) SetChannelIndicator(ch Channel, on bool) {
	if f.on == nil {
		f.on = make(map[Channel]bool)
	}
	f.on[ch] = on
}

type fakeProjector struct {
	streams []*Stream
}

func (p *fakeProjector) Connect(s *Stream) { p.streams = append(p.streams, s) }

func newTestMixer(t *testing.T, gl *recorder) *Mixer {
	t.Helper()
	m, err := NewMixer(gl, MixerConfig{ViewportWidth: 320, ViewportHeight: 180, FPS: 10})
	require.NoError(t, err)
	return m
}

func TestMixerEmptyClearsBlack(t *testing.T) {
	gl := newRecorder(false)
	m := newTestMixer(t, gl)
	require.NoError(t, m.Render(time.Now()))
	assert.Empty(t, gl.draws, "empty mixer must not sample channels")
	assert.Equal(t, opaqueBlack, gl.clears[m.fb])

	// A target that is not rendering counts as empty.
	a := &fakeTarget{tex: 99, width: 4, height: 4}
	m.AssignToChannelA(a)
	require.NoError(t, m.Render(time.Now()))
	assert.Empty(t, gl.draws)

	a.rendering = true
	require.NoError(t, m.Render(time.Now()))
	require.Len(t, gl.draws, 1)
	assert.Equal(t, int32(1), gl.uniform("u_hasA"))
	assert.Equal(t, int32(0), gl.uniform("u_hasB"))
	assert.Equal(t, Texture(99), gl.units[0])
	// Square channel in a 16:9 output is letterboxed.
	assert.InDelta(t, 16.0/9.0, gl.uniform("u_scaleA"), 1e-5)
}

func TestMixerChannelIndicators(t *testing.T) {
	gl := newRecorder(false)
	m := newTestMixer(t, gl)
	a, b := &fakeTarget{}, &fakeTarget{}
	m.AssignToChannelA(a)
	assert.True(t, a.on[ChannelA])
	m.AssignToChannelA(b)
	assert.False(t, a.on[ChannelA], "previous target must be notified")
	assert.True(t, b.on[ChannelA])
	m.AssignToChannelB(b)
	assert.True(t, b.on[ChannelB])

	m.ClearChannel(b)
	assert.False(t, b.on[ChannelA])
	assert.False(t, b.on[ChannelB])
	assert.Nil(t, m.ChannelTarget(ChannelA))
	assert.Nil(t, m.ChannelTarget(ChannelB))
}

func TestMixerParameters(t *testing.T) {
	gl := newRecorder(false)
	m := newTestMixer(t, gl)
	m.SetMixValue(1.5)
	assert.Equal(t, float32(1), m.MixValue())
	m.SetMixValue(-1)
	assert.Equal(t, float32(0), m.MixValue())
	require.NoError(t, m.SetCrossfadeMethod(CrossfadeLines))
	assert.Error(t, m.SetCrossfadeMethod(8))
	assert.Equal(t, CrossfadeLines, m.CrossfadeMethod())

	m.AssignToChannelB(&fakeTarget{tex: 5, width: 320, height: 180, rendering: true})
	m.SetMixValue(0.25)
	require.NoError(t, m.Render(time.Now()))
	assert.Equal(t, float32(0.25), gl.uniform("u_mix"))
	assert.Equal(t, int32(CrossfadeLines), gl.uniform("u_method"))
	assert.InDelta(t, 1.0, gl.uniform("u_scaleB"), 1e-6)
}

func TestMixerResolutionReconnectsProjectors(t *testing.T) {
	gl := newRecorder(false)
	m := newTestMixer(t, gl)
	p := &fakeProjector{}
	m.ConnectProjector(p)
	require.Len(t, p.streams, 1)
	first := p.streams[0]
	frames, cancel := first.Subscribe(1)
	defer cancel()

	require.NoError(t, m.SetResolution("1280x720"))
	require.Len(t, p.streams, 2, "projector must be reconnected to the new stream")
	w, h := p.streams[1].Size()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
	_, open := <-frames
	assert.False(t, open, "old stream must be closed")

	// Fixed resolution ignores viewport changes.
	require.NoError(t, m.ViewportResized(640, 480))
	assert.Len(t, p.streams, 2)
	require.NoError(t, m.SetViewportResolution(640, 480))
	assert.Len(t, p.streams, 3)
	require.NoError(t, m.ViewportResized(800, 600))
	assert.Len(t, p.streams, 4)
	w, h = m.Resolution()
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
	// Old output targets are released.
	assert.Len(t, gl.fbs, 1)

	assert.Error(t, m.SetResolution("1280-720"))
	assert.Error(t, m.SetResolution("0x10"))
}

func TestStreamCaptureRate(t *testing.T) {
	gl := newRecorder(false)
	m := newTestMixer(t, gl)
	frames, cancel := m.Stream().Subscribe(4)
	defer cancel()
	start := time.Unix(100, 0)
	require.NoError(t, m.Render(start))
	require.NoError(t, m.Render(start.Add(10*time.Millisecond)))
	require.NoError(t, m.Render(start.Add(100*time.Millisecond)))
	require.Len(t, frames, 2, "10 fps stream must capture 2 frames in 100ms")
	f := <-frames
	assert.Equal(t, uint64(1), f.Seq)
	assert.Equal(t, image.Rect(0, 0, 320, 180), f.Image.Rect)
	assert.Equal(t, color.NRGBA{A: 255}, f.Image.NRGBAAt(10, 10))
}

func TestStreamDropsForSlowSubscribers(t *testing.T) {
	s := NewStream(2, 2, 1000)
	frames, cancel := s.Subscribe(1)
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	now := time.Now()
	assert.Zero(t, s.Publish(img, now))
	assert.Equal(t, 1, s.Publish(img, now.Add(time.Second)))
	cancel()
	_, open := <-frames
	assert.True(t, open, "buffered frame still delivered")
	_, open = <-frames
	assert.False(t, open)
	assert.Zero(t, s.Subscribers())
}

func TestMixPixelBoundaries(t *testing.T) {
	a := [4]float32{0.2, 0.4, 0.6, 1}
	b := [4]float32{0.9, 0.1, 0.3, 1}
	uvs := []ms2.Vec{{X: 0, Y: 0}, {X: 0.5, Y: 0.5}, {X: 0.99, Y: 0.1}}
	for m := CrossfadeMethod(0); m < numCrossfadeMethods; m++ {
		for _, uv := range uvs {
			assert.Equal(t, a, MixPixel(a, b, uv, 0, m), "method %s at 0", m)
			assert.Equal(t, b, MixPixel(a, b, uv, 1, m), "method %s at 1", m)
		}
	}
	mid := MixPixel(a, b, ms2.Vec{}, 0.5, CrossfadeLinear)
	assert.InDelta(t, 0.55, mid[0], 1e-6)

	// Horizontal wipe at half shows B on the left, A on the right.
	assert.Equal(t, b, MixPixel(a, b, ms2.Vec{X: 0.25, Y: 0.5}, 0.5, CrossfadeWipeHorizontal))
	assert.Equal(t, a, MixPixel(a, b, ms2.Vec{X: 0.75, Y: 0.5}, 0.5, CrossfadeWipeHorizontal))
	assert.Equal(t, b, MixPixel(a, b, ms2.Vec{X: 0.5, Y: 0.1}, 0.3, CrossfadeWipeVertical))
	assert.Equal(t, b, MixPixel(a, b, ms2.Vec{X: 0.5, Y: 0.51}, 0.9, CrossfadeWipeRadial))
	assert.Equal(t, a, MixPixel(a, b, ms2.Vec{X: 0.99, Y: 0.99}, 0.9, CrossfadeWipeRadial))
	// Bright areas of A go first with the luma fade.
	white := [4]float32{1, 1, 1, 1}
	assert.Equal(t, b, MixPixel(white, b, ms2.Vec{}, 0.1, CrossfadeLuma))
	assert.Equal(t, white, MixPixel(white, b, ms2.Vec{}, 0.1, CrossfadeInverseLuma))
}

func TestMixImage(t *testing.T) {
	dst := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	MixImage(dst, nil, nil, 0.5, CrossfadeLinear)
	for i := 0; i < len(dst.Pix); i += 4 {
		require.Equal(t, []byte{0, 0, 0, 255}, dst.Pix[i:i+4])
	}

	// A square white source in a 2:1 output covers the middle half only.
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	MixImage(dst, src, nil, 0, CrossfadeLinear)
	assert.Equal(t, color.NRGBA{A: 255}, dst.NRGBAAt(0, 1), "letterbox must be black")
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, dst.NRGBAAt(4, 1))
	assert.Equal(t, color.NRGBA{A: 255}, dst.NRGBAAt(7, 1))
}

func TestParseResolution(t *testing.T) {
	w, h, err := ParseResolution(" 1920X1080 ")
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
	for _, bad := range []string{"", "1920", "ax1", "10x-1"} {
		_, _, err := ParseResolution(bad)
		assert.Error(t, err, bad)
	}
}

func TestCrossfadeMethodNames(t *testing.T) {
	for m := CrossfadeMethod(0); m < numCrossfadeMethods; m++ {
		got, err := ParseCrossfadeMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseCrossfadeMethod("dissolve")
	assert.Error(t, err)
}
