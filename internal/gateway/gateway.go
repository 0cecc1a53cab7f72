// Package gateway exposes the camera commands over a websocket and the
// metrics over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v3"

	"owlcam/internal/camera"
	"owlcam/internal/command"
)

const (
	writeTimeout = 5 * time.Second
	pongTimeout  = 40 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 64 * 1024

	// sendQueue is the number of frames buffered for one client.
	sendQueue = 32
)

// Config configures a Server.
type Config struct {
	Addr       string
	Dispatcher *command.Dispatcher

	// Registry is served on /metrics when set.
	Registry *prometheus.Registry
	Log      *slog.Logger
}

// Frame is one websocket message sent to clients. Exactly one field is set.
type Frame struct {
	Response *command.Response `json:"response,omitempty"`
	Event    *camera.Event     `json:"event,omitempty"`
}

// Server is the websocket gateway.
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
	conns    *xsync.MapOf[uuid.UUID, *conn]
	mux      *http.ServeMux

	connsGauge prometheus.Gauge
}

func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: xsync.NewMapOf[uuid.UUID, *conn](),
		mux:   http.NewServeMux(),
	}

	s.mux.HandleFunc("/ws", s.handleWS)
	if reg := cfg.Registry; reg != nil {
		s.connsGauge = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "owlcam_ws_connections",
			Help: "Open websocket connections",
		})
		s.mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
			reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// NumConns returns the number of open websocket connections.
func (s *Server) NumConns() int {
	return s.conns.Size()
}

// Run serves the gateway on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	hs := http.Server{
		Addr:        s.cfg.Addr,
		BaseContext: func(net.Listener) context.Context { return ctx },
		Handler:     s.mux,
	}
	s.log.Info("[WS] Gateway listening", "addr", s.cfg.Addr)
	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hs.Shutdown(ctx)
		s.conns.Range(func(_ uuid.UUID, c *conn) bool {
			c.close()
			return true
		})
	}()
	err := hs.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("[WS] Upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newConn(ws, s.log)
	s.conns.Store(c.id, c)
	if s.connsGauge != nil {
		s.connsGauge.Inc()
	}
	c.log.Info("[WS] Client connected", "remote", r.RemoteAddr)

	defer func() {
		s.conns.Delete(c.id)
		if s.connsGauge != nil {
			s.connsGauge.Dec()
		}
		c.close()
		c.log.Info("[WS] Client disconnected")
	}()

	go c.writeLoop()
	s.readLoop(c)
}

func (s *Server) readLoop(c *conn) {
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("[WS] Read failed", "err", err)
			}
			return
		}
		req, err := command.Decode(data)
		if err != nil {
			c.reply(command.ErrorResponse("", err))
			continue
		}
		s.cfg.Dispatcher.Handle(req, c, c.reply)
	}
}

// conn is one websocket client. It is the event sink of the cameras it
// subscribed to. Frames are queued and written by writeLoop, so a slow
// client never blocks a camera.
type conn struct {
	id  uuid.UUID
	ws  *websocket.Conn
	log *slog.Logger
	out chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newConn(ws *websocket.Conn, log *slog.Logger) *conn {
	id := uuid.New()
	return &conn{
		id:   id,
		ws:   ws,
		log:  log.With("conn", id.String()),
		out:  make(chan []byte, sendQueue),
		done: make(chan struct{}),
	}
}

func (c *conn) encode(f Frame) ([]byte, bool) {
	data, err := json.Marshal(f)
	if err != nil {
		c.log.Error("[WS] Failed to encode frame", "err", err)
		return nil, false
	}
	return data, true
}

// Send queues an event. It runs on the camera loop and never blocks: events
// for a client whose queue is full are dropped.
func (c *conn) Send(ev camera.Event) {
	data, ok := c.encode(Frame{Event: &ev})
	if !ok {
		return
	}
	select {
	case c.out <- data:
	case <-c.done:
	default:
		c.log.Warn("[WS] Client too slow, dropping event", "event", ev.Type)
	}
}

// reply queues a response, waiting for room unless the client is gone.
func (c *conn) reply(res command.Response) {
	data, ok := c.encode(Frame{Response: &res})
	if !ok {
		return
	}
	select {
	case c.out <- data:
	case <-c.done:
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return

		case data := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn("[WS] Write failed", "err", err)
				// Unblocks readLoop, which tears the client down.
				c.ws.Close()
				return
			}

		case <-ticker.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			if err != nil {
				c.log.Debug("[WS] Ping failed", "err", err)
				c.ws.Close()
				return
			}
		}
	}
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.ws.Close()
}
