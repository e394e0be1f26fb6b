package hublink

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/health"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/hubproto"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

// State is the link's position in its connection state machine.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateError
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// TokenSource supplies the bearer token for each connection attempt.
type TokenSource interface {
	BearerToken(ctx context.Context) (string, error)
}

// tokenInvalidator is implemented by token sources that can drop a token
// the hub refused.
type tokenInvalidator interface {
	Invalidate()
}

// Handler receives link events. Calls come from the link's read goroutine,
// one at a time and in frame order.
type Handler interface {
	HandleEvent(name string, payload json.RawMessage)
	HandleLinkStatus(connected bool)
}

// Status is a point-in-time view of the link for inspection.
type Status struct {
	State          string    `json:"state"`
	Endpoint       string    `json:"endpoint"`
	ConnectedSince time.Time `json:"connected_since,omitempty"`
	LastFrameAt    time.Time `json:"last_frame_at,omitempty"`
	Attempts       int64     `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
}

// Link maintains the hub connection.
type Link struct {
	cfg     Config
	tokens  TokenSource
	handler Handler
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	state atomic.Int32

	connMu         sync.Mutex
	conn           *websocket.Conn
	connectedSince time.Time
	lastError      string
	writeMu        sync.Mutex

	// reconnecting is the in-flight guard: set while an attempt is scheduled
	// or running, cleared when a connection opens.
	reconnecting atomic.Bool
	fast         atomic.Bool
	lastFrame    atomic.Int64
	attempts     atomic.Int64

	lifecycleMu sync.Mutex
	started     atomic.Bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a link. registry may be nil.
func New(cfg Config, tokens TokenSource, handler Handler, registry *metric.MetricsRegistry, logger *slog.Logger) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil || handler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Link", "New", "token source and handler required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(registry)
	if err != nil {
		return nil, errors.Wrap(err, "Link", "New", "register metrics")
	}

	l := &Link{
		cfg:     cfg,
		tokens:  tokens,
		handler: handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:  logger.With("component", "hub-link", "endpoint", cfg.Endpoint()),
		metrics: metrics,
		now:     time.Now,
	}
	l.state.Store(int32(StateIdle))
	return l, nil
}

// Start launches the supervisor and health monitor.
func (l *Link) Start(ctx context.Context) error {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	if l.started.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Link", "Start", "check started state")
	}

	linkCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.reconnecting.Store(true)

	l.wg.Add(2)
	go l.supervise(linkCtx)
	go l.monitor(linkCtx)

	l.started.Store(true)
	return nil
}

// Stop closes the connection and waits for the link goroutines.
func (l *Link) Stop(timeout time.Duration) error {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	if !l.started.Load() {
		return nil
	}

	l.cancel()
	l.closeConn("shutdown")

	doneCh := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Link", "Stop", "wait for goroutines")
	}

	l.setState(StateClosed)
	l.started.Store(false)
	return nil
}

// State returns the current state.
func (l *Link) State() State {
	return State(l.state.Load())
}

// IsOpen reports whether frames can be sent.
func (l *Link) IsOpen() bool {
	return l.State() == StateOpen
}

// LastFrameAt returns when the last inbound frame of any kind arrived.
func (l *Link) LastFrameAt() time.Time {
	n := l.lastFrame.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Status returns a snapshot for inspection.
func (l *Link) Status() Status {
	l.connMu.Lock()
	since, lastErr := l.connectedSince, l.lastError
	l.connMu.Unlock()

	return Status{
		State:          l.State().String(),
		Endpoint:       l.cfg.Endpoint(),
		ConnectedSince: since,
		LastFrameAt:    l.LastFrameAt(),
		Attempts:       l.attempts.Load(),
		LastError:      lastErr,
	}
}

// Health maps the link state onto a component status. Only a link whose
// last attempt failed is unhealthy; between attempts it is degraded.
func (l *Link) Health() health.Status {
	st := l.Status()
	switch l.State() {
	case StateOpen:
		return health.NewHealthy("hub-link", "connected to "+st.Endpoint)
	case StateError:
		msg := st.LastError
		if msg == "" {
			msg = "connect failed"
		}
		return health.FromError("hub-link", stderrors.New(msg), false)
	default:
		return health.NewDegraded("hub-link", "link "+st.State+", reconnecting to "+st.Endpoint)
	}
}

// Send writes a text frame. It fails with errors.ErrHubUnavailable when the
// link is not open. A write failure closes the connection, which schedules
// reconnection, and returns an error wrapping errors.ErrLink.
func (l *Link) Send(text string) error {
	conn := l.currentConn()
	if conn == nil || !l.IsOpen() {
		return errors.WrapTransient(errors.ErrHubUnavailable, "Link", "Send", "check link state")
	}

	if err := l.write(conn, text); err != nil {
		l.trackError("write")
		l.recordError(err)
		_ = conn.Close()
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrLink, err), "Link", "Send", "write frame")
	}
	return nil
}

// ReconnectNow closes the current connection and reconnects after the short
// delay. It returns false when a reconnection is already scheduled or running.
func (l *Link) ReconnectNow(reason string) bool {
	return l.forceReconnect(reason, true)
}

func (l *Link) forceReconnect(reason string, fast bool) bool {
	if !l.reconnecting.CompareAndSwap(false, true) {
		return false
	}

	l.fast.Store(fast)
	l.logger.Info("Forcing hub reconnection", "reason", reason, "fast", fast)
	if l.metrics != nil {
		l.metrics.forcedCloses.WithLabelValues(reason).Inc()
	}
	l.closeConn(reason)
	return true
}

// supervise runs connection attempts one after another until ctx ends.
func (l *Link) supervise(ctx context.Context) {
	defer l.wg.Done()

	for {
		conn, err := l.connect(ctx)
		if err == nil {
			l.serve(ctx, conn)
		} else if ctx.Err() == nil {
			l.setState(StateError)
			l.recordError(err)
			l.trackError(errors.Kind(err))
			l.logger.Warn("Hub connection attempt failed", "error", err)
		}

		if ctx.Err() != nil {
			return
		}

		l.reconnecting.Store(true)
		delay := l.cfg.ReconnectDelay
		if l.fast.Swap(false) {
			delay = l.cfg.ReconnectNowDelay
		}
		l.logger.Info("Reconnecting to hub", "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (l *Link) connect(ctx context.Context) (*websocket.Conn, error) {
	l.setState(StateConnecting)
	l.attempts.Add(1)
	if l.metrics != nil {
		l.metrics.attempts.Inc()
	}

	token, err := l.tokens.BearerToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Link", "connect", "acquire token")
	}

	conn, resp, err := l.dialer.DialContext(ctx, l.cfg.URL(token), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			if inv, ok := l.tokens.(tokenInvalidator); ok {
				inv.Invalidate()
			}
		}
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrLink, err), "Link", "connect", "dial hub")
	}

	return conn, nil
}

// serve runs one open connection until it closes.
func (l *Link) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)

	l.connMu.Lock()
	l.conn = conn
	l.connectedSince = l.now()
	l.lastError = ""
	l.connMu.Unlock()

	l.touch()
	l.reconnecting.Store(false)
	l.setState(StateOpen)
	if l.metrics != nil {
		l.metrics.connected.Set(1)
	}
	l.logger.Info("Connected to hub")

	l.handler.HandleLinkStatus(true)

	var tasks sync.WaitGroup
	tasks.Add(1)
	go func() {
		defer tasks.Done()
		<-connCtx.Done()
		_ = conn.Close()
	}()

	if err := l.write(conn, hubproto.Join(hubproto.AccessoriesNamespace)); err != nil {
		l.logger.Warn("Namespace join failed", "error", err)
	}
	initial := time.AfterFunc(l.cfg.InitialRequestDelay, func() {
		if err := l.write(conn, hubproto.GetAccessories()); err != nil {
			l.logger.Debug("Initial state request failed", "error", err)
		}
	})

	if l.cfg.PollInterval > 0 {
		tasks.Add(1)
		go func() {
			defer tasks.Done()
			l.poll(connCtx, conn)
		}()
	}

	l.readLoop(conn)

	initial.Stop()
	cancel()
	tasks.Wait()

	l.connMu.Lock()
	if l.conn == conn {
		l.conn = nil
		l.connectedSince = time.Time{}
	}
	l.connMu.Unlock()

	l.setState(StateClosed)
	if l.metrics != nil {
		l.metrics.connected.Set(0)
	}
	l.logger.Info("Hub connection closed")

	l.handler.HandleLinkStatus(false)
}

func (l *Link) poll(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.write(conn, hubproto.GetAccessories()); err != nil {
				l.logger.Debug("Poll request failed", "error", err)
				return
			}
		}
	}
}

// readLoop dispatches inbound frames until the connection fails.
func (l *Link) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !stderrors.Is(err, websocket.ErrCloseSent) {
				l.recordError(err)
				l.trackError("read")
			}
			l.logger.Debug("Hub read ended", "error", err)
			return
		}

		l.touch()

		frame, err := hubproto.Parse(string(data))
		if l.metrics != nil {
			l.metrics.frames.WithLabelValues(frame.Kind.String()).Inc()
		}
		if err != nil {
			l.trackError("frame_parse")
			l.logger.Warn("Dropping malformed frame", "error", err, "size", len(data))
			continue
		}

		switch frame.Kind {
		case hubproto.KindPing:
			if err := l.write(conn, hubproto.Pong()); err != nil {
				l.logger.Debug("Pong failed", "error", err)
			}
		case hubproto.KindNamespaceAck:
			if frame.IsDefaultNamespace() {
				if err := l.write(conn, hubproto.Join(hubproto.AccessoriesNamespace)); err != nil {
					l.logger.Debug("Namespace re-join failed", "error", err)
				}
			} else {
				l.logger.Debug("Namespace joined", "namespace", frame.Namespace)
			}
		case hubproto.KindEvent:
			if frame.Namespace != hubproto.AccessoriesNamespace {
				l.logger.Debug("Ignoring event outside accessories namespace",
					"namespace", frame.Namespace, "event", frame.Event)
				continue
			}
			l.handler.HandleEvent(frame.Event, frame.Payload)
		case hubproto.KindPong:
		default:
			l.logger.Debug("Ignoring frame", "frame", truncate(frame.Raw, 64))
		}
	}
}

// monitor force-closes a link that is not open or has gone silent.
func (l *Link) monitor(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.checkHealth()
		}
	}
}

func (l *Link) checkHealth() {
	if !l.IsOpen() {
		l.forceReconnect("not_open", false)
		return
	}
	if silent := l.now().Sub(l.LastFrameAt()); silent > l.cfg.SilenceTimeout {
		l.logger.Warn("Hub silent beyond timeout", "silent_for", silent)
		l.forceReconnect("silence", false)
	}
}

func (l *Link) write(conn *websocket.Conn, text string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := conn.SetWriteDeadline(l.now().Add(l.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return err
	}
	if l.metrics != nil {
		l.metrics.framesSent.Inc()
	}
	return nil
}

func (l *Link) currentConn() *websocket.Conn {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn
}

func (l *Link) closeConn(reason string) {
	conn := l.currentConn()
	if conn == nil {
		return
	}
	l.logger.Debug("Closing hub connection", "reason", reason)
	_ = conn.Close()
}

func (l *Link) setState(s State) {
	l.state.Store(int32(s))
}

func (l *Link) touch() {
	l.lastFrame.Store(l.now().UnixNano())
}

func (l *Link) recordError(err error) {
	l.connMu.Lock()
	l.lastError = err.Error()
	l.connMu.Unlock()
}

func (l *Link) trackError(errorType string) {
	if l.metrics != nil {
		l.metrics.errors.WithLabelValues(errorType).Inc()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
