//go:build !tinygo && cgo

package patchaux

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"cogentcore.org/core/base/errors"
	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/soypat/glpatch/gleval"
	"github.com/soypat/glpatch/glrender"
)

// Run opens a window showing the mixer output of cfg and runs the frame loop
// until the window is closed or ctx is done. Run locks the calling goroutine
// to its OS thread.
//
// Keys 1-9 show a channel on mixer channel A, with shift on channel B.
// Left and right arrows move the crossfade, M cycles crossfade methods,
// R reloads all patches and Escape closes the window.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	log := NewLogger(cfg)

	window, term, err := startGLFW(cfg.Window)
	if err != nil {
		return err
	}
	defer term()
	gpu, err := gleval.NewGPU()
	if err != nil {
		return err
	}
	defer gpu.Delete()
	log.Info("OpenGL context ready", "version", gl.GoStr(gl.GetString(gl.VERSION)), "parallel_compile", gpu.ParallelCompile())

	// The framebuffer may be larger than the window on high DPI displays.
	fbw, fbh := window.GetFramebufferSize()
	cfg.Window.Width, cfg.Window.Height = fbw, fbh
	sess, err := NewSession(gpu, cfg, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	if p := sess.Projector(); p != nil {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			errors.Log(p.ListenAndServe(ctx, cfg.Projector.Addr))
		}()
	}

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		errors.Log(sess.Resize(width, height))
	})
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action == glfw.Release {
			return
		}
		switch {
		case key >= glfw.Key1 && key <= glfw.Key9:
			mc := glrender.ChannelA
			if mods&glfw.ModShift != 0 {
				mc = glrender.ChannelB
			}
			errors.Log(sess.Assign(mc, int(key-glfw.Key1)))
		case key == glfw.KeyLeft:
			sess.NudgeMix(-0.05)
		case key == glfw.KeyRight:
			sess.NudgeMix(0.05)
		case key == glfw.KeyM && action == glfw.Press:
			sess.CycleCrossfade()
		case key == glfw.KeyR && action == glfw.Press:
			sess.ReloadAll()
		case key == glfw.KeyEscape:
			w.SetShouldClose(true)
		}
	})

	for !window.ShouldClose() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		sess.Frame(time.Now())
		window.SwapBuffers()
		glfw.PollEvents()
	}
	return nil
}

func startGLFW(cfg WindowConfig) (window *glfw.Window, term func(), err error) {
	if err := glfw.Init(); err != nil {
		return nil, nil, fmt.Errorf("initializing GLFW: %w", err)
	}
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 6)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	window, err = glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, nil, fmt.Errorf("creating window: %w", err)
	}
	window.MakeContextCurrent()
	if cfg.VSync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}
	if err := gl.Init(); err != nil {
		glfw.Terminate()
		return nil, nil, fmt.Errorf("initializing OpenGL: %w", err)
	}
	return window, glfw.Terminate, nil
}
