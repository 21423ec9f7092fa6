package patchaux

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"cogentcore.org/core/base/errors"

	"github.com/soypat/glpatch"
	"github.com/soypat/glpatch/glrender"
)

// Session runs the channels and the mixer of a configuration on one GL
// context. All methods must be called from the goroutine owning the context.
type Session struct {
	cfg       Config
	log       *slog.Logger
	sched     glpatch.Scheduler
	channels  []*Channel
	mixer     *glrender.Mixer
	projector *Projector
	reloader  *Reloader
	start     time.Time
	now       time.Time
}

// NewLogger returns a text logger writing to stderr at the configured level
// and makes it the glpatch package logger.
func NewLogger(cfg Config) *slog.Logger {
	lvl, err := cfg.Level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	glpatch.SetLogger(log)
	return log
}

// NewSession creates the channels and the mixer described by cfg and loads
// the channel patches. Patches that fail to load are logged and left empty so
// a fixed file can be picked up by the reloader.
func NewSession(gl glrender.GL, cfg Config, log *slog.Logger) (_ *Session, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Session{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()
	method, _ := cfg.CrossfadeMethod()
	mcfg := glrender.MixerConfig{
		ViewportWidth:  cfg.Window.Width,
		ViewportHeight: cfg.Window.Height,
		FPS:            cfg.Mixer.FPS,
		Present:        true,
		Logger:         log,
	}
	if cfg.Mixer.Resolution != "" {
		mcfg.Width, mcfg.Height, _ = glrender.ParseResolution(cfg.Mixer.Resolution)
	}
	s.mixer, err = glrender.NewMixer(gl, mcfg)
	if err != nil {
		return nil, fmt.Errorf("creating mixer: %w", err)
	}
	errors.Log(s.mixer.SetCrossfadeMethod(method))
	s.mixer.SetMixValue(cfg.Mixer.Mix)

	if cfg.Watch {
		delay, _ := cfg.ReloadDebounce()
		s.reloader, err = NewReloader(delay, log)
		if err != nil {
			return nil, fmt.Errorf("watching patches: %w", err)
		}
	}
	for i, chcfg := range cfg.Channels {
		w, h := cfg.channelSize(i)
		ch, err := NewChannel(gl, chcfg.Name, glrender.Config{
			Width:           w,
			Height:          h,
			FrameBufferSize: cfg.History.Frames,
			Logger:          log,
		})
		if err != nil {
			return nil, fmt.Errorf("creating channel %q: %w", chcfg.Name, err)
		}
		s.channels = append(s.channels, ch)
		if chcfg.Patch == "" {
			continue
		}
		if err := ch.Load(chcfg.Patch); err != nil {
			log.Error("loading patch", "channel", chcfg.Name, "err", err)
		}
		ch.path = chcfg.Patch
		if s.reloader != nil {
			if err := s.reloader.Add(chcfg.Patch); err != nil {
				log.Error("watching patch", "channel", chcfg.Name, "err", err)
			}
		}
	}
	if len(s.channels) > 0 {
		s.mixer.AssignToChannelA(s.channels[0])
	}
	if len(s.channels) > 1 {
		s.mixer.AssignToChannelB(s.channels[1])
	}
	if cfg.Projector.Addr != "" {
		s.projector = NewProjector(cfg.Projector.Quality, log)
		s.mixer.ConnectProjector(s.projector)
	}

	// Tick order: node state, then channel renders, then the mixer sampling them.
	for _, ch := range s.channels {
		err = s.sched.Register(ch.Name()+"/nodes", ch)
		if err != nil {
			return nil, err
		}
	}
	for _, ch := range s.channels {
		err = s.sched.Register(ch.Name()+"/render", glpatch.TickerFunc(func(time.Duration) {
			if err := ch.Draw(s.Time()); err != nil {
				log.Error("rendering channel", "channel", ch.Name(), "err", err)
			}
		}))
		if err != nil {
			return nil, err
		}
	}
	err = s.sched.Register("mixer", glpatch.TickerFunc(func(time.Duration) {
		if err := s.mixer.Render(s.now); err != nil {
			log.Error("rendering mixer", "err", err)
		}
	}))
	return s, err
}

// Frame reloads changed patches and renders one frame at now.
func (s *Session) Frame(now time.Time) {
	if s.start.IsZero() {
		s.start = now
	}
	s.now = now
	s.drainReloads()
	s.sched.Step(now)
}

func (s *Session) drainReloads() {
	if s.reloader == nil {
		return
	}
	for {
		select {
		case path := <-s.reloader.Changed():
			s.Reload(path)
		default:
			return
		}
	}
}

// Reload loads path again into every channel showing it.
func (s *Session) Reload(path string) {
	for _, ch := range s.channels {
		if ch.Path() != path {
			continue
		}
		if err := ch.Load(path); err != nil {
			s.log.Error("reloading patch", "channel", ch.Name(), "err", err)
		}
	}
}

// ReloadAll loads every channel patch again.
func (s *Session) ReloadAll() {
	for _, ch := range s.channels {
		if ch.Path() != "" {
			s.Reload(ch.Path())
		}
	}
}

// Time returns the seconds elapsed since the first frame.
func (s *Session) Time() float32 {
	if s.start.IsZero() {
		return 0
	}
	return float32(s.now.Sub(s.start).Seconds())
}

// Frames returns the number of frames rendered.
func (s *Session) Frames() uint64 { return s.sched.Frame() }

func (s *Session) Mixer() *glrender.Mixer { return s.mixer }

// Projector returns the projector server, nil when none is configured.
func (s *Session) Projector() *Projector { return s.projector }

func (s *Session) Channels() []*Channel { return s.channels }

// Channel returns the channel named name or nil.
func (s *Session) Channel(name string) *Channel {
	for _, ch := range s.channels {
		if ch.Name() == name {
			return ch
		}
	}
	return nil
}

// Assign shows the i'th channel on mixer channel mc.
func (s *Session) Assign(mc glrender.Channel, i int) error {
	if i < 0 || i >= len(s.channels) {
		return fmt.Errorf("no channel %d", i)
	}
	switch mc {
	case glrender.ChannelA:
		s.mixer.AssignToChannelA(s.channels[i])
	case glrender.ChannelB:
		s.mixer.AssignToChannelB(s.channels[i])
	default:
		return fmt.Errorf("invalid mixer channel %v", mc)
	}
	return nil
}

// NudgeMix moves the crossfade by d.
func (s *Session) NudgeMix(d float32) {
	s.mixer.SetMixValue(s.mixer.MixValue() + d)
}

// CycleCrossfade selects the next crossfade method.
func (s *Session) CycleCrossfade() glrender.CrossfadeMethod {
	next := s.mixer.CrossfadeMethod() + 1
	if s.mixer.SetCrossfadeMethod(next) != nil {
		next = glrender.CrossfadeLinear
		errors.Log(s.mixer.SetCrossfadeMethod(next))
	}
	s.log.Info("crossfade method", "method", next)
	return next
}

// Resize follows a window framebuffer resize.
func (s *Session) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return nil // Minimized.
	}
	return s.mixer.ViewportResized(width, height)
}

// Close stops watching patches and releases all GPU resources.
func (s *Session) Close() {
	if s.reloader != nil {
		errors.Log(s.reloader.Close())
		s.reloader = nil
	}
	for _, ch := range s.channels {
		ch.Destroy()
	}
	s.channels = nil
	if s.mixer != nil {
		s.mixer.Destroy()
		s.mixer = nil
	}
}
