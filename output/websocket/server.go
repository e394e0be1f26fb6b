package websocket

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

// RejectRateLimited is passed to Inbound.OnRejected for throttled messages.
const RejectRateLimited = "rate-limited"

// Inbound receives client lifecycle and traffic. OnMessage calls for one
// client are made in arrival order from that client's read goroutine.
type Inbound interface {
	OnConnect(c *Client)
	OnMessage(c *Client, data []byte)
	OnRejected(c *Client, reason string)
	OnDisconnect(c *Client)
}

// Server is the downstream WebSocket endpoint.
type Server struct {
	cfg      Config
	inbound  Inbound
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]*Client

	lifecycleMu sync.Mutex
	server      *http.Server
	listener    net.Listener
	shutdown    chan struct{}
	running     bool
	wg          sync.WaitGroup
}

// New creates a server. registry may be nil.
func New(cfg Config, inbound Inbound, registry *metric.MetricsRegistry, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if inbound == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "New", "inbound handler required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(registry)
	if err != nil {
		return nil, errors.Wrap(err, "Server", "New", "register metrics")
	}

	return &Server{
		cfg:     cfg,
		inbound: inbound,
		logger:  logger.With("component", "fanout"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			// Controllers on the LAN connect without an Origin header.
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		clients:  make(map[string]*Client),
		shutdown: make(chan struct{}),
	}, nil
}

// Handler returns the upgrade handler, for mounting on another mux.
func (s *Server) Handler() http.Handler {
	if s.cfg.Path == "/" {
		return http.HandlerFunc(s.handleUpgrade)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	return mux
}

// Start binds the listener and serves in the background. A bind failure is
// returned directly.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "check running state")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Server", "Start", "context already cancelled")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "listen on "+addr)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Downstream server failed", "error", err)
			s.trackError("serve")
		}
	}()

	s.logger.Info("Downstream server listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every client, then waits for client
// goroutines up to timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	select {
	case <-s.shutdown:
		return nil
	default:
	}
	s.clientsMu.Lock()
	close(s.shutdown)
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("HTTP server shutdown error", "error", err)
		}
	}

	for _, c := range s.snapshot() {
		c.close(DropShutdown)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Server", "Stop", "wait for client goroutines")
	}

	s.running = false
	return nil
}

// SendTo queues data to one client.
func (s *Server) SendTo(id string, data []byte) bool {
	s.clientsMu.RLock()
	c, ok := s.clients[id]
	s.clientsMu.RUnlock()
	if !ok {
		return false
	}
	return c.Send(data)
}

// Client returns a connected client by id.
func (s *Server) Client(id string) (*Client, bool) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

// Clients returns the connected clients ordered by connection time.
func (s *Server) Clients() []*Client {
	clients := s.snapshot()
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].connectedAt.Before(clients[j].connectedAt)
	})
	return clients
}

// Count returns the number of connected clients.
func (s *Server) Count() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Infos returns the inspection view of every client.
func (s *Server) Infos() []Info {
	clients := s.Clients()
	infos := make([]Info, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, c.info())
	}
	return infos
}

func (s *Server) snapshot() []*Client {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		if !c.Closed() {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.trackError("connection_upgrade")
		s.logger.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if s.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.cfg.ReadLimit)
	}

	var limiter *rate.Limiter
	if s.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
	}
	c := newClient(uuid.NewString(), conn, s.cfg.SendQueueSize, limiter)

	// Registration and wg.Add happen under the lock so Stop sees every client.
	s.clientsMu.Lock()
	select {
	case <-s.shutdown:
		s.clientsMu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	s.clients[c.id] = c
	count := len(s.clients)
	s.wg.Add(2)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.connections.Inc()
		s.metrics.clientsConnected.Set(float64(count))
	}
	s.logger.Info("Client connected", "client", c.id, "remote", c.remoteAddr, "clients", count)

	go s.writeLoop(c)
	s.inbound.OnConnect(c)
	go s.readLoop(c)
}

func (s *Server) readLoop(c *Client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.Closed() {
				s.logger.Debug("Client read failed", "client", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		if s.metrics != nil {
			s.metrics.received.Inc()
		}
		if !c.allow() {
			if s.metrics != nil {
				s.metrics.rejected.WithLabelValues(RejectRateLimited).Inc()
			}
			s.inbound.OnRejected(c, RejectRateLimited)
			continue
		}
		s.inbound.OnMessage(c, data)
	}
}

func (s *Server) writeLoop(c *Client) {
	defer s.wg.Done()

	var pings <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.trackError("client_send")
				c.close(DropWriteError)
				return
			}
			c.messagesSent.Add(1)
			if s.metrics != nil {
				s.metrics.sent.Inc()
				s.metrics.bytesSent.Add(float64(len(data)))
			}
		case <-pings:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.trackError("client_ping")
				c.close(DropWriteError)
				return
			}
		}
	}
}

func (s *Server) removeClient(c *Client) {
	c.close("disconnect")

	s.clientsMu.Lock()
	_, existed := s.clients[c.id]
	delete(s.clients, c.id)
	count := len(s.clients)
	s.clientsMu.Unlock()

	if !existed {
		return
	}

	reason := c.reason()
	if s.metrics != nil {
		s.metrics.clientsConnected.Set(float64(count))
		s.metrics.dropped.WithLabelValues(reason).Inc()
	}
	if reason == DropSlowConsumer || reason == DropWriteError {
		s.logger.Warn("Client dropped", "client", c.id, "reason", reason, "clients", count)
	} else {
		s.logger.Info("Client disconnected", "client", c.id, "clients", count)
	}

	s.inbound.OnDisconnect(c)
}

func (s *Server) trackError(errorType string) {
	if s.metrics != nil {
		s.metrics.errors.WithLabelValues(errorType).Inc()
	}
}
