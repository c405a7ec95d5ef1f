package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/stagehand/internal/inject"
)

const (
	// Time allowed to write a message to a client
	writeWait = 5 * time.Second

	// Messages queued per client before it is dropped
	clientBuffer = 64
)

// Config holds the event server configuration
type Config struct {
	// Addr is the listen address, e.g. "localhost:7300". Port 0 picks
	// a free port.
	Addr string
}

// Message is one frame sent to clients.
type Message struct {
	Type   string         `json:"type"` // "event" or "report"
	Time   time.Time      `json:"time"`
	Event  *inject.Event  `json:"event,omitempty"`
	Report *inject.Report `json:"report,omitempty"`
}

// Server streams injection progress to WebSocket clients on /events,
// for editors and dashboards following a long boot.
type Server struct {
	config   Config
	logger   *zap.Logger
	upgrader websocket.Upgrader
	http     *http.Server
	listener net.Listener
	wg       sync.WaitGroup

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Server.
func New(config Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:  config,
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local tooling connects from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener

	s.logger.Info("event server listening", zap.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("event server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the address the server listens on, once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// OnEvent publishes ev. It matches inject.Options.OnEvent and never
// blocks on slow clients.
func (s *Server) OnEvent(ev inject.Event) {
	s.publish(Message{Type: "event", Time: time.Now(), Event: &ev})
}

// PublishReport publishes a finished stage report.
func (s *Server) PublishReport(r *inject.Report) {
	s.publish(Message{Type: "report", Time: time.Now(), Report: r})
}

func (s *Server) publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode event", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Warn("dropping slow event client", zap.String("remote_addr", c.conn.RemoteAddr().String()))
			s.removeLocked(c)
		}
	}
}

func (s *Server) removeLocked(c *client) {
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	remoteAddr := conn.RemoteAddr().String()
	s.logger.Debug("event client connected", zap.String("remote_addr", remoteAddr))

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	// Reads only serve to notice the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				s.removeLocked(c)
				s.mu.Unlock()
				return
			}
		}
	}()

	for data := range c.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.mu.Lock()
			s.removeLocked(c)
			s.mu.Unlock()
			break
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(writeWait))
	_ = conn.Close()
	s.logger.Debug("event client disconnected", zap.String("remote_addr", remoteAddr))
}

// Shutdown flushes queued messages, closes every client and stops the
// listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		s.removeLocked(c)
	}
	s.mu.Unlock()

	err := s.http.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
