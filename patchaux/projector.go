package patchaux

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	cerrors "cogentcore.org/core/base/errors"
	"github.com/gorilla/websocket"

	"github.com/soypat/glpatch/glrender"
)

// Projector serves the mixer output to browser windows. Every client
// receives the frames of the mixer's capture stream as binary JPEG WebSocket
// messages. Clients follow the mixer across resolution changes.
type Projector struct {
	quality  int
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	stream  *glrender.Stream
	changed chan struct{} // Closed when stream is replaced.
	clients int
}

// Frames queued per client before frames are dropped.
const projectorBuffer = 2

const writeTimeout = 5 * time.Second

// NewProjector returns a projector encoding frames with the given JPEG quality.
func NewProjector(quality int, log *slog.Logger) *Projector {
	if log == nil {
		log = slog.Default()
	}
	return &Projector{
		quality: quality,
		log:     log,
		changed: make(chan struct{}),
	}
}

// Connect implements [glrender.Projector].
func (p *Projector) Connect(s *glrender.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stream = s
	close(p.changed)
	p.changed = make(chan struct{})
	w, h := s.Size()
	p.log.Debug("projector connected", "width", w, "height", h, "clients", p.clients)
}

// Clients returns the number of connected clients.
func (p *Projector) Clients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clients
}

// Handler serves a viewer page at "/" and the frame WebSocket at "/stream".
func (p *Projector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerPage))
	})
	mux.HandleFunc("GET /stream", p.serveStream)
	return mux
}

// ListenAndServe serves [Projector.Handler] on addr until ctx is done.
func (p *Projector) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return p.Serve(ctx, ln)
}

// Serve serves [Projector.Handler] on ln until ctx is done.
func (p *Projector) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     p.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cerrors.Log(srv.Shutdown(shutdownCtx))
	}()
	p.log.Info("projector listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (p *Projector) current() (*glrender.Stream, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream, p.changed
}

func (p *Projector) serveStream(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Error("projector upgrade", "err", err)
		return
	}
	defer conn.Close()
	p.mu.Lock()
	p.clients++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.clients--
		p.mu.Unlock()
	}()

	// Incoming messages are ignored, reading detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	var buf bytes.Buffer
	for {
		stream, changed := p.current()
		if stream == nil {
			select {
			case <-changed:
				continue
			case <-gone:
				return
			case <-ctx.Done():
				return
			}
		}
		frames, cancel := stream.Subscribe(projectorBuffer)
		err := p.pump(conn, frames, &buf, gone, ctx.Done())
		cancel()
		if err != nil {
			if !errors.Is(err, errStreamEnded) {
				p.log.Debug("projector client done", "remote", r.RemoteAddr, "err", err)
				return
			}
			// Stream replaced: wait for the new one.
			select {
			case <-changed:
			case <-gone:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

var (
	errStreamEnded = errors.New("stream ended")
	errClientGone  = errors.New("client gone")
)

// pump writes frames to conn until the stream ends or the client leaves.
func (p *Projector) pump(conn *websocket.Conn, frames <-chan glrender.Frame, buf *bytes.Buffer, gone, done <-chan struct{}) error {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return errStreamEnded
			}
			buf.Reset()
			err := jpeg.Encode(buf, f.Image, &jpeg.Options{Quality: p.quality})
			if err != nil {
				return err
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err = conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
			if err != nil {
				return err
			}
		case <-gone:
			return errClientGone
		case <-done:
			return errClientGone
		}
	}
}

const viewerPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>glpatch projector</title>
<style>
html, body { margin: 0; height: 100%; background: #000; }
img { width: 100%; height: 100%; object-fit: contain; }
</style>
</head>
<body>
<img id="frame" alt="">
<script>
const img = document.getElementById("frame");
function connect() {
	const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/stream");
	ws.binaryType = "blob";
	ws.onmessage = (ev) => {
		const url = URL.createObjectURL(ev.data);
		const prev = img.src;
		img.src = url;
		if (prev) URL.revokeObjectURL(prev);
	};
	ws.onclose = () => setTimeout(connect, 1000);
}
connect();
</script>
</body>
</html>
`

var _ glrender.Projector = (*Projector)(nil)
