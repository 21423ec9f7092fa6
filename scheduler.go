package glpatch

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Ticker is implemented by nodes and subsystems advanced once per frame.
type Ticker interface {
	Tick(dt time.Duration)
}

// TickerFunc adapts a function to the [Ticker] interface.
type TickerFunc func(dt time.Duration)

func (f TickerFunc) Tick(dt time.Duration) { f(dt) }

// Scheduler is the frame loop's single source of time. Registered subsystems are
// ticked in registration order, i.e: graph nodes, then channel renderers, then the mixer.
type Scheduler struct {
	mu      sync.Mutex
	entries []schedEntry
	last    time.Time
	frame   uint64
	// MaxStep bounds dt passed to tickers after stalls. Zero means no bound.
	MaxStep time.Duration
}

type schedEntry struct {
	name string
	t    Ticker
}

// Register adds t under a unique name.
func (s *Scheduler) Register(name string, t Ticker) error {
	if t == nil {
		return fmt.Errorf("nil ticker %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(name) >= 0 {
		return fmt.Errorf("ticker %q already registered", name)
	}
	s.entries = append(s.entries, schedEntry{name: name, t: t})
	return nil
}

// Unregister removes the named ticker and reports whether it was registered.
func (s *Scheduler) Unregister(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(name)
	if i < 0 {
		return false
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	return true
}

// Names returns registered ticker names in tick order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.name
	}
	return names
}

// Step ticks all subsystems with the time elapsed since the previous Step.
// The first call ticks with dt=0.
func (s *Scheduler) Step(now time.Time) {
	s.mu.Lock()
	var dt time.Duration
	if !s.last.IsZero() {
		dt = now.Sub(s.last)
	}
	s.last = now
	s.mu.Unlock()
	s.Tick(dt)
}

// Tick ticks all subsystems with dt. Subsystems may register or unregister
// tickers during a tick, changes take effect on the next tick.
func (s *Scheduler) Tick(dt time.Duration) {
	s.mu.Lock()
	if dt < 0 {
		dt = 0
	} else if s.MaxStep > 0 && dt > s.MaxStep {
		dt = s.MaxStep
	}
	entries := slices.Clone(s.entries)
	s.frame++
	s.mu.Unlock()
	for _, e := range entries {
		e.t.Tick(dt)
	}
}

// Frame returns the number of ticks performed.
func (s *Scheduler) Frame() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *Scheduler) indexLocked(name string) int {
	return slices.IndexFunc(s.entries, func(e schedEntry) bool { return e.name == name })
}
