package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 16
)

// Source is what the daemon serves to its clients
type Source interface {
	FetchConnections(ctx context.Context, criteria filter.Criteria) ([]models.ConnectionRecord, error)
}

// ServerOptions configures a Server
type ServerOptions struct {
	Source         Source
	Logger         logr.Logger
	Registerer     prometheus.Registerer
	RequestTimeout time.Duration
	// AllowedOrigins restricts browser origins; empty allows any
	AllowedOrigins []string
}

// Server answers connection table requests over websocket
type Server struct {
	source         Source
	logger         logr.Logger
	metrics        *serverMetrics
	requestTimeout time.Duration

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

// Client is one connected dashboard
type Client struct {
	conn   *websocket.Conn
	send   chan Envelope
	server *Server
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server. Run must be started before clients connect.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	s := &Server{
		source:         opts.Source,
		logger:         logger.WithName("websocket"),
		metrics:        newServerMetrics(opts.Registerer),
		requestTimeout: timeout,
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Run tracks clients until ctx is cancelled, then disconnects them all
func (s *Server) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			n := len(s.clients)
			s.mu.Unlock()
			s.metrics.clients.Set(float64(n))
			s.logger.Info("Client connected", "clients", n, "remote", client.conn.RemoteAddr().String())

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.cancel()
			}
			n := len(s.clients)
			s.mu.Unlock()
			s.metrics.clients.Set(float64(n))
			s.logger.Info("Client disconnected", "clients", n)

		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				delete(s.clients, client)
				client.cancel()
			}
			s.mu.Unlock()
			s.metrics.clients.Set(0)
			return nil
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(err, "WebSocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:   conn,
		send:   make(chan Envelope, sendBuffer),
		server: s,
		ctx:    ctx,
		cancel: cancel,
	}

	select {
	case s.register <- client:
	case <-s.done:
		cancel()
		conn.Close()
		return
	case <-r.Context().Done():
		cancel()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "healthy",
		"clients": clientCount,
	})
}

// handle answers one request
func (s *Server) handle(ctx context.Context, req Envelope) Envelope {
	s.metrics.requests.WithLabelValues(req.Type).Inc()

	switch req.Type {
	case TypeGetConnections:
		var params ConnectionsRequest
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &params); err != nil {
				return errorEnvelope(req.ID, fmt.Errorf("decoding request: %w", err))
			}
		}

		ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()

		start := time.Now()
		conns, err := s.source.FetchConnections(ctx, params.criteria())
		s.metrics.collectSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.failures.Inc()
			s.logger.Error(err, "Collecting connections failed")
			return errorEnvelope(req.ID, err)
		}
		s.metrics.served.Add(float64(len(conns)))

		resp, err := newEnvelope(TypeConnections, req.ID, conns)
		if err != nil {
			return errorEnvelope(req.ID, fmt.Errorf("encoding response: %w", err))
		}
		return resp

	default:
		return errorEnvelope(req.ID, fmt.Errorf("unknown request type %q", req.Type))
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req Envelope
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error(err, "WebSocket read failed")
			}
			return
		}
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(errorEnvelope("", fmt.Errorf("decoding request: %w", err)))
			continue
		}

		// Requests are answered in arrival order.
		c.reply(c.server.handle(c.ctx, req))
	}
}

// reply queues a response, dropping it when the client has stopped reading
func (c *Client) reply(env Envelope) {
	select {
	case c.send <- env:
	case <-c.ctx.Done():
	default:
		c.server.logger.Info("Client send buffer full, dropping response", "id", env.ID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			data, err := json.Marshal(env)
			if err != nil {
				c.server.logger.Error(err, "Encoding response failed", "id", env.ID)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
