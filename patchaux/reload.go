package patchaux

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"cogentcore.org/core/base/errors"
	"github.com/fsnotify/fsnotify"
)

// Reloader watches patch files and reports a path once writes to it have
// settled for the debounce delay. Parent directories are watched so files
// replaced by editors through renames keep being tracked.
type Reloader struct {
	w     *fsnotify.Watcher
	delay time.Duration
	log   *slog.Logger
	out   chan string
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	files  map[string]string // Absolute path to path as added.
	dirs   map[string]bool
	timers map[string]*time.Timer
	closed bool
}

// NewReloader starts watching. Call Close to stop.
func NewReloader(delay time.Duration, log *slog.Logger) (*Reloader, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Reloader{
		w:      w,
		delay:  delay,
		log:    log,
		out:    make(chan string, 16),
		done:   make(chan struct{}),
		files:  make(map[string]string),
		dirs:   make(map[string]bool),
		timers: make(map[string]*time.Timer),
	}
	r.wg.Add(1)
	go r.run()
	return r, nil
}

// Add watches path. Adding a path twice has no effect.
func (r *Reloader) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirs[dir] {
		if err := r.w.Add(dir); err != nil {
			return err
		}
		r.dirs[dir] = true
	}
	r.files[abs] = path
	return nil
}

// Changed receives changed paths as they were passed to [Reloader.Add].
// It should be drained regularly, e.g: once every frame.
func (r *Reloader) Changed() <-chan string { return r.out }

func (r *Reloader) run() {
	defer r.wg.Done()
	for {
		select {
		case event, ok := <-r.w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.schedule(filepath.Clean(event.Name))
			}
		case err, ok := <-r.w.Errors:
			if !ok {
				return
			}
			r.log.Error("watching patch files", "err", err)
		case <-r.done:
			return
		}
	}
}

func (r *Reloader) schedule(abs string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	path, ok := r.files[abs]
	if !ok || r.closed {
		return
	}
	if t, ok := r.timers[abs]; ok {
		t.Reset(r.delay)
		return
	}
	r.timers[abs] = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		delete(r.timers, abs)
		r.mu.Unlock()
		r.log.Debug("patch file changed", "path", path)
		select {
		case r.out <- path:
		case <-r.done:
		}
	})
}

// Close stops watching. Pending notifications are dropped.
func (r *Reloader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for abs, t := range r.timers {
		t.Stop()
		delete(r.timers, abs)
	}
	r.mu.Unlock()
	close(r.done)
	err := r.w.Close()
	r.wg.Wait()
	return errors.Log(err)
}
