package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

// ErrNotConnected is returned while the daemon is unreachable
var ErrNotConnected = errors.New("websocket: not connected to daemon")

// ClientOptions configures a Client
type ClientOptions struct {
	Clock       clock.Clock
	Logger      logr.Logger
	DialTimeout time.Duration
}

// RemoteSource fetches connections from a daemon. It dials lazily on the
// first fetch and redials after a failure, pacing attempts with an
// exponential backoff so a polling loop does not hammer an absent daemon.
type RemoteSource struct {
	url    string
	dialer *websocket.Dialer
	clock  clock.Clock
	logger logr.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan Envelope
	backoff  *backoff.ExponentialBackOff
	nextDial time.Time

	writeMu sync.Mutex
}

// NewClient creates a remote source for the daemon at rawURL. A bare
// host:port is expanded to ws://host:port/ws.
func NewClient(rawURL string, opts ClientOptions) (*RemoteSource, error) {
	u, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Clock = clk
	b.Reset()

	return &RemoteSource{
		url:     u,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		clock:   clk,
		logger:  logger.WithName("websocket-client"),
		pending: make(map[string]chan Envelope),
		backoff: b,
	}, nil
}

func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		u, err = url.Parse("ws://" + raw)
		if err != nil {
			return "", fmt.Errorf("invalid daemon address %q: %w", raw, err)
		}
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid daemon address %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// URL returns the daemon endpoint
func (c *RemoteSource) URL() string {
	return c.url
}

// IsConnected returns true while a connection to the daemon is open
func (c *RemoteSource) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// connect returns the open connection, dialing when none is open and the
// backoff allows another attempt
func (c *RemoteSource) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}
	if now := c.clock.Now(); now.Before(c.nextDial) {
		return nil, fmt.Errorf("%w: next attempt in %s", ErrNotConnected, c.nextDial.Sub(now).Round(time.Millisecond))
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		wait := c.backoff.NextBackOff()
		c.nextDial = c.clock.Now().Add(wait)
		c.logger.V(1).Info("Dialing daemon failed", "url", c.url, "retryIn", wait, "error", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	c.backoff.Reset()
	c.nextDial = time.Time{}
	c.conn = conn
	c.logger.Info("Connected to daemon", "url", c.url)
	go c.readLoop(conn)
	return conn, nil
}

// readLoop routes responses to their waiting requests until the connection fails
func (c *RemoteSource) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.disconnect(conn, err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Error(err, "Decoding daemon message failed")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

// disconnect drops conn and fails every request waiting on it
func (c *RemoteSource) disconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	conn.Close()
	c.conn = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.logger.Info("Disconnected from daemon", "reason", cause.Error())
	}
}

// FetchConnections implements the coordinator's telemetry source
func (c *RemoteSource) FetchConnections(ctx context.Context, criteria filter.Criteria) ([]models.ConnectionRecord, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	req, err := newEnvelope(TypeGetConnections, uuid.NewString(), requestFor(criteria))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
	}
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.disconnect(conn, err)
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if resp.Type == TypeError {
			return nil, fmt.Errorf("daemon: %s", resp.Error)
		}
		return decodeConnections(resp)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the connection to the daemon
func (c *RemoteSource) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.disconnect(conn, nil)
	return nil
}
