package patchaux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/soypat/glpatch/glrender"
)

// Config is the application configuration, usually read from a TOML file:
//
//	log_level = "debug"
//
//	[window]
//	width = 1280
//	height = 720
//
//	[mixer]
//	resolution = "1920x1080" # Empty tracks the window size.
//	method = "wipe-radial"
//
//	[[channel]]
//	name = "tunnel"
//	patch = "patches/tunnel.yaml"
//
//	[projector]
//	addr = ":8080"
type Config struct {
	LogLevel string `toml:"log_level"`
	// Watch reloads channel patches when their files change.
	Watch bool `toml:"watch"`
	// ReloadDelay debounces file change events, e.g: "250ms".
	ReloadDelay string          `toml:"reload_delay"`
	Window      WindowConfig    `toml:"window"`
	Mixer       MixerConfig     `toml:"mixer"`
	History     HistoryConfig   `toml:"history"`
	Channels    []ChannelConfig `toml:"channel"`
	Projector   ProjectorConfig `toml:"projector"`
}

type WindowConfig struct {
	Title  string `toml:"title"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	// VSync synchronizes buffer swaps with the display refresh.
	VSync bool `toml:"vsync"`
}

type MixerConfig struct {
	// Resolution is the fixed "WxH" output resolution. Empty tracks the window.
	Resolution string  `toml:"resolution"`
	FPS        int     `toml:"fps"`
	Method     string  `toml:"method"`
	Mix        float32 `toml:"mix"`
}

type HistoryConfig struct {
	// Frames is the number of previous frames kept per channel.
	Frames int `toml:"frames"`
}

type ChannelConfig struct {
	Name  string `toml:"name"`
	Patch string `toml:"patch"`
	// Width and height of the channel render target. Zero values use the window size.
	Width  int `toml:"width"`
	Height int `toml:"height"`
}

type ProjectorConfig struct {
	// Addr is the listen address of the projector server. Empty disables it.
	Addr string `toml:"addr"`
	// Quality is the JPEG quality of streamed frames, 1..100.
	Quality int `toml:"quality"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		LogLevel:    "info",
		Watch:       true,
		ReloadDelay: "200ms",
		Window:      WindowConfig{Title: "glpatch", Width: 1280, Height: 720, VSync: true},
		Mixer:       MixerConfig{FPS: glrender.DefaultStreamFPS, Method: glrender.CrossfadeLinear.String()},
		History:     HistoryConfig{Frames: glrender.DefaultFrameBufferSize},
		Projector:   ProjectorConfig{Quality: 80},
	}
}

// LoadConfig reads a TOML configuration file. Missing fields keep their default
// values and relative patch paths are resolved against the file's directory.
func LoadConfig(path string) (Config, error) {
	fp, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer fp.Close()
	cfg, err := DecodeConfig(fp)
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	// Patch paths are relative to the configuration file.
	dir := filepath.Dir(path)
	for i := range cfg.Channels {
		p := cfg.Channels[i].Patch
		if p != "" && !filepath.IsAbs(p) {
			cfg.Channels[i].Patch = filepath.Join(dir, p)
		}
	}
	return cfg, nil
}

// DecodeConfig decodes and validates a TOML configuration. Unknown keys are an error.
func DecodeConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			return cfg, fmt.Errorf("unknown configuration keys:\n%s", serr.String())
		}
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Encode writes cfg as TOML.
func (cfg Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// Validate checks values that cannot be defaulted.
func (cfg Config) Validate() error {
	var errs []error
	if _, err := cfg.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.ReloadDebounce(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Window.Width <= 0 || cfg.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid window size %dx%d", cfg.Window.Width, cfg.Window.Height))
	}
	if cfg.Mixer.Resolution != "" {
		if _, _, err := glrender.ParseResolution(cfg.Mixer.Resolution); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := cfg.CrossfadeMethod(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Mixer.Mix < 0 || cfg.Mixer.Mix > 1 {
		errs = append(errs, fmt.Errorf("mix value %v out of range 0..1", cfg.Mixer.Mix))
	}
	if cfg.History.Frames < glrender.MinFrameBufferSize || cfg.History.Frames > glrender.MaxFrameBufferSize {
		errs = append(errs, fmt.Errorf("history frames %d out of range %d..%d", cfg.History.Frames, glrender.MinFrameBufferSize, glrender.MaxFrameBufferSize))
	}
	names := make(map[string]bool)
	for i, ch := range cfg.Channels {
		switch {
		case ch.Name == "":
			errs = append(errs, fmt.Errorf("channel %d has no name", i))
		case names[ch.Name]:
			errs = append(errs, fmt.Errorf("duplicate channel name %q", ch.Name))
		}
		names[ch.Name] = true
		if ch.Width < 0 || ch.Height < 0 {
			errs = append(errs, fmt.Errorf("channel %q: invalid size %dx%d", ch.Name, ch.Width, ch.Height))
		}
	}
	if q := cfg.Projector.Quality; q < 1 || q > 100 {
		errs = append(errs, fmt.Errorf("projector JPEG quality %d out of range 1..100", q))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (cfg Config) Level() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(strings.TrimSpace(cfg.LogLevel)))
	return lvl, err
}

// CrossfadeMethod parses the mixer crossfade method name.
func (cfg Config) CrossfadeMethod() (glrender.CrossfadeMethod, error) {
	if cfg.Mixer.Method == "" {
		return glrender.CrossfadeLinear, nil
	}
	return glrender.ParseCrossfadeMethod(cfg.Mixer.Method)
}

// ReloadDebounce parses ReloadDelay. Empty means no delay.
func (cfg Config) ReloadDebounce() (time.Duration, error) {
	if cfg.ReloadDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(cfg.ReloadDelay)
	if err == nil && d < 0 {
		err = fmt.Errorf("negative reload delay %s", d)
	}
	return d, err
}

// channelSize returns the render size of channel i.
func (cfg Config) channelSize(i int) (width, height int) {
	ch := cfg.Channels[i]
	width, height = ch.Width, ch.Height
	if width == 0 {
		width = cfg.Window.Width
	}
	if height == 0 {
		height = cfg.Window.Height
	}
	return width, height
}
