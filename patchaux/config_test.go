package patchaux

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypat/glpatch/glrender"
)

const testConfig = `
log_level = "debug"
reload_delay = "50ms"

[window]
width = 640
height = 360

[mixer]
resolution = "1920x1080"
method = "wipe-radial"
mix = 0.25

[history]
frames = 8

[[channel]]
name = "tunnel"
patch = "patches/tunnel.yaml"

[[channel]]
name = "text"
patch = "patches/text.yaml"
width = 320

[projector]
addr = ":8080"
quality = 60
`

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(strings.NewReader(testConfig))
	require.NoError(t, err)
	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
	d, err := cfg.ReloadDebounce()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, d)
	method, err := cfg.CrossfadeMethod()
	require.NoError(t, err)
	assert.Equal(t, glrender.CrossfadeWipeRadial, method)
	assert.Equal(t, float32(0.25), cfg.Mixer.Mix)
	assert.Equal(t, 8, cfg.History.Frames)
	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "text", cfg.Channels[1].Name)
	assert.Equal(t, ":8080", cfg.Projector.Addr)

	// Unset fields keep defaults.
	assert.True(t, cfg.Watch)
	assert.Equal(t, glrender.DefaultStreamFPS, cfg.Mixer.FPS)
	assert.Equal(t, "glpatch", cfg.Window.Title)

	w, h := cfg.channelSize(1)
	assert.Equal(t, 320, w)
	assert.Equal(t, 360, h, "missing channel height must follow the window")
}

func TestConfigRoundTrip(t *testing.T) {
	cfg, err := DecodeConfig(strings.NewReader(testConfig))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, cfg.Encode(&buf))
	got, err := DecodeConfig(&buf)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestConfigErrors(t *testing.T) {
	for name, src := range map[string]string{
		"unknown key":    "colour = 1\n",
		"bad level":      "log_level = \"loud\"\n",
		"bad delay":      "reload_delay = \"soon\"\n",
		"bad resolution": "[mixer]\nresolution = \"big\"\n",
		"bad method":     "[mixer]\nmethod = \"dissolve\"\n",
		"mix range":      "[mixer]\nmix = 2.0\n",
		"history range":  "[history]\nframes = 500\n",
		"window size":    "[window]\nwidth = 0\n",
		"channel name":   "[[channel]]\npatch = \"a.yaml\"\n",
		"duplicate name": "[[channel]]\nname = \"a\"\n[[channel]]\nname = \"a\"\n",
		"jpeg quality":   "[projector]\nquality = 0\n",
		"malformed toml": "[window\n",
		"wrong type":     "[window]\nwidth = \"wide\"\n",
		"negative delay": "reload_delay = \"-1s\"\n",
		"channel size":   "[[channel]]\nname = \"a\"\nheight = -1\n",
	} {
		_, err := DecodeConfig(strings.NewReader(src))
		assert.Error(t, err, name)
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, glrender.DefaultFrameBufferSize, cfg.History.Frames)
}

func TestLoadConfigResolvesPatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "glpatch.toml")
	src := "[[channel]]\nname = \"a\"\npatch = \"patches/a.yaml\"\n[[channel]]\nname = \"b\"\npatch = \"/abs/b.yaml\"\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "patches", "a.yaml"), cfg.Channels[0].Patch)
	assert.Equal(t, "/abs/b.yaml", cfg.Channels[1].Patch)

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
