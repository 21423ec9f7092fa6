package glrender

import (
	"image"
	"sync"
	"time"
)

// Frame is a captured mixer output. Image must not be modified by receivers
// since every subscriber receives the same image.
type Frame struct {
	Image *image.NRGBA
	Seq   uint64
	Time  time.Time
}

// Projector consumes a mixer's capture stream. Connect is called on
// [Mixer.ConnectProjector] and again with a new stream every time the mixer's
// resolution changes. The channels of the previous stream are closed by then.
type Projector interface {
	Connect(s *Stream)
}

// Stream publishes mixer frames at a fixed frame rate. Publishing never blocks:
// subscribers that fall behind miss frames.
type Stream struct {
	width, height int
	interval      time.Duration

	mu     sync.Mutex
	subs   map[int]chan Frame
	nextID int
	seq    uint64
	last   time.Time
	closed bool
}

// NewStream returns a stream of width x height frames published at most fps
// times a second. Mixers create their own streams.
func NewStream(width, height, fps int) *Stream {
	if fps <= 0 {
		fps = DefaultStreamFPS
	}
	return &Stream{
		width:    width,
		height:   height,
		interval: time.Second / time.Duration(fps),
		subs:     make(map[int]chan Frame),
	}
}

// DefaultStreamFPS is the capture rate used when none is configured.
const DefaultStreamFPS = 30

// Size returns the dimensions of published frames.
func (s *Stream) Size() (width, height int) { return s.width, s.height }

// Interval returns the time between captured frames.
func (s *Stream) Interval() time.Duration { return s.interval }

// Subscribe returns a channel receiving frames and a function that cancels the
// subscription. buffer is the number of frames that may queue before frames
// are dropped for this subscriber. The channel is closed on cancellation or
// when the stream is replaced.
func (s *Stream) Subscribe(buffer int) (<-chan Frame, func()) {
	ch := make(chan Frame, max(buffer, 1))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Due reports whether a frame should be captured at now: the stream has
// subscribers and the frame interval has elapsed since the last publish.
func (s *Stream) Due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && len(s.subs) > 0 && (s.last.IsZero() || now.Sub(s.last) >= s.interval)
}

// Publish sends img to every subscriber with room for it and returns the number
// of subscribers that missed the frame.
func (s *Stream) Publish(img *image.NRGBA, now time.Time) (dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.seq++
	s.last = now
	f := Frame{Image: img, Seq: s.seq, Time: now}
	for _, ch := range s.subs {
		select {
		case ch <- f:
		default:
			dropped++
		}
	}
	return dropped
}

// Close ends the stream and closes every subscriber channel.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
