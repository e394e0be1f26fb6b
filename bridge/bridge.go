package bridge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/accessory"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/command"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/health"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/hubproto"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/input/hublink"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/output/websocket"
)

// Uplink is the hub side as the bridge uses it.
type Uplink interface {
	Send(text string) error
	IsOpen() bool
	ReconnectNow(reason string) bool
}

// Peer is one downstream client.
type Peer interface {
	ID() string
	Send(data []byte) bool
	NeedsFullState() bool
	MarkSynced()
}

// Mirror receives a copy of every update and status broadcast. It must not
// block.
type Mirror interface {
	PublishUpdate(delta accessory.Delta, data []byte)
	PublishStatus(connected bool, data []byte)
}

// Config holds bridge settings.
type Config struct {
	CommandTimeout time.Duration
	// QueueSize bounds the event queue between producers and the worker.
	QueueSize int
}

// DefaultConfig returns the default bridge settings.
func DefaultConfig() Config {
	return Config{
		CommandTimeout: command.DefaultTimeout,
		QueueSize:      1024,
	}
}

type eventKind int

const (
	evHubEvent eventKind = iota
	evLinkStatus
	evConnect
	evMessage
	evRejected
	evDisconnect
	evTimeout
)

type event struct {
	kind      eventKind
	name      string
	payload   json.RawMessage
	connected bool
	peer      Peer
	data      []byte
	pending   command.Pending
}

// Bridge is the single worker that owns every state mutation. Link frames,
// client messages and command timeouts are queued and handled one at a time
// on the Run goroutine.
type Bridge struct {
	store      *accessory.Store
	translator *command.Translator
	tracker    *command.Tracker
	mirror     Mirror
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time

	events chan event
	done   chan struct{}

	// Owned by the Run goroutine.
	uplink Uplink
	// peers holds only clients whose connect event has been handled, so no
	// broadcast can reach a client ahead of its initial state.
	peers map[string]Peer

	hubConnected atomic.Bool
	clients      atomic.Int64
	running      atomic.Bool
	stopOnce     sync.Once
}

var (
	_ hublink.Handler   = (*Bridge)(nil)
	_ websocket.Inbound = (*Bridge)(nil)
)

// New creates a bridge over store. registry and mirror may be nil.
func New(cfg Config, store *accessory.Store, mirror Mirror, registry *metric.MetricsRegistry, logger *slog.Logger) (*Bridge, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New", "store required")
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(registry)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "New", "register metrics")
	}

	b := &Bridge{
		store:      store,
		translator: command.NewTranslator(store),
		mirror:     mirror,
		logger:     logger.With("component", "bridge"),
		metrics:    metrics,
		now:        time.Now,
		events:     make(chan event, cfg.QueueSize),
		done:       make(chan struct{}),
		peers:      make(map[string]Peer),
	}

	b.tracker, err = command.NewTracker(cfg.CommandTimeout, func(p command.Pending) {
		b.enqueue(event{kind: evTimeout, pending: p})
	}, registry, logger)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "New", "create tracker")
	}
	return b, nil
}

// Run processes events until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, uplink Uplink) error {
	if uplink == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "Run", "uplink required")
	}
	if !b.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Run", "check running state")
	}
	b.uplink = uplink

	defer b.stopOnce.Do(func() {
		close(b.done)
		b.tracker.Stop()
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.events:
			b.handle(ev)
		}
	}
}

// enqueue hands ev to the worker. It blocks while the queue is full and
// returns immediately once Run has exited.
func (b *Bridge) enqueue(ev event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// HandleEvent receives a hub event from the link.
func (b *Bridge) HandleEvent(name string, payload json.RawMessage) {
	b.enqueue(event{kind: evHubEvent, name: name, payload: payload})
}

// HandleLinkStatus receives link open/close transitions.
func (b *Bridge) HandleLinkStatus(connected bool) {
	b.enqueue(event{kind: evLinkStatus, connected: connected})
}

// OnConnect registers a downstream client.
func (b *Bridge) OnConnect(c *websocket.Client) {
	b.enqueue(event{kind: evConnect, peer: c})
}

// OnMessage receives a client message.
func (b *Bridge) OnMessage(c *websocket.Client, data []byte) {
	b.enqueue(event{kind: evMessage, peer: c, data: data})
}

// OnRejected reports a client message dropped before dispatch.
func (b *Bridge) OnRejected(c *websocket.Client, reason string) {
	b.enqueue(event{kind: evRejected, peer: c, name: reason})
}

// OnDisconnect removes a downstream client.
func (b *Bridge) OnDisconnect(c *websocket.Client) {
	b.enqueue(event{kind: evDisconnect, peer: c})
}

func (b *Bridge) handle(ev event) {
	switch ev.kind {
	case evHubEvent:
		b.handleHubEvent(ev.name, ev.payload)
	case evLinkStatus:
		b.handleLinkStatus(ev.connected)
	case evConnect:
		b.handleConnect(ev.peer)
	case evMessage:
		b.handleMessage(ev.peer, ev.data)
	case evRejected:
		b.reply(ev.peer, errorMessage("", "", ev.name, "message rejected", b.now()))
	case evDisconnect:
		delete(b.peers, ev.peer.ID())
		b.clients.Store(int64(len(b.peers)))
	case evTimeout:
		b.handleTimeout(ev.pending)
	}
}

func (b *Bridge) handleHubEvent(name string, payload json.RawMessage) {
	b.metrics.hubEvent(name)

	switch name {
	case hubproto.EventAccessoriesData:
		b.applyState(payload)
	case hubproto.EventSetCharacteristicsResult, hubproto.EventAccessoryControlResult:
		b.resolveWrites(payload)
	default:
		b.broadcast(forwardedMessage{Event: name, Data: payload})
	}
}

func (b *Bridge) applyState(payload json.RawMessage) {
	hadSnapshot := b.store.HasSnapshot()

	result, err := b.store.Apply(payload)
	if err != nil {
		b.logger.Warn("Discarding undecodable accessories-data", "error", err, "size", len(payload))
		return
	}
	if result.Redundant {
		b.logger.Debug("Full load unchanged; nothing to broadcast")
		return
	}

	if !hadSnapshot {
		// First state: everyone gets the whole snapshot instead of one delta
		// per characteristic.
		data := b.encode(b.fullState())
		n := 0
		for _, p := range b.peers {
			if data != nil && p.Send(data) {
				p.MarkSynced()
				n++
			}
		}
		b.metrics.broadcast(EventFullState, n)
		b.logger.Info("Initial accessory state loaded", "accessories", result.Accessories)
		return
	}

	b.syncPending()

	for _, delta := range result.Deltas {
		data := b.encode(updateMessage{Event: EventAccessoryUpdate, Data: delta, Timestamp: millis(b.now())})
		if data == nil {
			continue
		}
		b.broadcastSynced(EventAccessoryUpdate, data)
		if b.mirror != nil {
			b.mirror.PublishUpdate(delta, data)
		}
	}
}

// syncPending sends the snapshot to clients that have not had one.
func (b *Bridge) syncPending() {
	var data []byte
	for _, p := range b.peers {
		if !p.NeedsFullState() {
			continue
		}
		if data == nil {
			data = b.encode(b.fullState())
		}
		if p.Send(data) {
			p.MarkSynced()
		}
	}
}

func (b *Bridge) resolveWrites(payload json.RawMessage) {
	results, err := hubproto.DecodeWriteResults(payload)
	if err != nil {
		b.logger.Warn("Ignoring undecodable write response", "error", err)
		return
	}

	for _, r := range results {
		p, ok := b.tracker.Resolve(r.Key())
		if !ok {
			b.logger.Debug("Write response without pending command", "key", r.Key())
			continue
		}

		peer := b.peers[p.Origin]
		if r.OK() {
			b.metrics.command("success")
			b.reply(peer, pendingOutcome(EventCommandSuccess, p, b.now()))
			continue
		}

		b.metrics.command("failed")
		msg := errorMessage(p.Identity, p.Characteristic, ReasonHubRejected,
			fmt.Sprintf("hub reported status %d", *r.Status), b.now())
		msg.Status = r.Status
		b.reply(peer, msg)
	}
}

func (b *Bridge) handleLinkStatus(connected bool) {
	b.hubConnected.Store(connected)

	data := b.encode(statusMessage{Event: EventConnectionStatus, Connected: connected, Timestamp: millis(b.now())})
	b.broadcastRaw(EventConnectionStatus, data)
	if b.mirror != nil && data != nil {
		b.mirror.PublishStatus(connected, data)
	}
}

func (b *Bridge) handleConnect(p Peer) {
	b.peers[p.ID()] = p
	b.clients.Store(int64(len(b.peers)))

	b.sendState(p)
	b.reply(p, statusMessage{Event: EventConnectionStatus, Connected: b.hubConnected.Load(), Timestamp: millis(b.now())})
}

// sendState sends the snapshot, or the last raw payload when nothing has
// decoded yet. Only a snapshot clears NeedsFullState.
func (b *Bridge) sendState(p Peer) {
	view := b.store.View()
	switch {
	case view.Loaded:
		if p.Send(b.encode(b.fullState())) {
			p.MarkSynced()
		}
	case len(view.Raw) > 0:
		b.reply(p, rawStateMessage{Event: EventAccessoriesData, Data: view.Raw})
	}
}

func (b *Bridge) handleMessage(p Peer, data []byte) {
	msg, ok := parseInbound(data)
	if !ok {
		b.passThrough(p, data)
		return
	}

	switch msg.Command {
	case CommandGetFullState:
		if !b.store.HasSnapshot() && len(b.store.LastRaw()) == 0 {
			b.reply(p, errorMessage("", "", ReasonHubUnavailable, "no accessory data yet", b.now()))
			return
		}
		b.sendState(p)
	case CommandRefresh:
		if err := b.sendUp(hubproto.GetAccessories()); err != nil {
			b.reply(p, errorMessage("", "", ReasonHubUnavailable, err.Error(), b.now()))
		}
	default:
		b.dispatch(p, msg.toCommand())
	}
}

func (b *Bridge) dispatch(p Peer, cmd command.Command) {
	wire, err := b.translator.Translate(cmd)
	if err != nil {
		b.metrics.command("rejected")
		reason := "invalid-command"
		var cerr *command.CommandError
		if stderrors.As(err, &cerr) {
			reason = string(cerr.Cause)
		}
		b.logger.Debug("Command rejected", "client", p.ID(), "reason", reason, "error", err)
		b.reply(p, errorMessage(cmd.Identity, cmd.Characteristic, reason, err.Error(), b.now()))
		return
	}

	if err := b.sendUp(wire.Frame); err != nil {
		b.metrics.command("unavailable")
		b.reply(p, errorMessage(cmd.Identity, cmd.Characteristic, ReasonHubUnavailable, err.Error(), b.now()))
		return
	}

	pending := command.Pending{
		Key:            wire.Key,
		Origin:         p.ID(),
		Identity:       cmd.Identity,
		Characteristic: cmd.Characteristic,
		AID:            wire.AID,
		IID:            wire.IID,
		Value:          wire.Value,
		Frame:          wire.Frame,
		CreatedAt:      b.now(),
	}
	// The response is handled on this goroutine, so registering after the
	// send cannot miss it.
	b.tracker.Register(pending)

	b.metrics.command("sent")
	b.logger.Debug("Command sent", "client", p.ID(), "key", wire.Key, "value", wire.Value.String())
	b.reply(p, pendingOutcome(EventCommandSent, pending, b.now()))
}

func (b *Bridge) passThrough(p Peer, data []byte) {
	if err := b.sendUp(string(data)); err != nil {
		b.metrics.command("unavailable")
		b.reply(p, errorMessage("", "", ReasonHubUnavailable, err.Error(), b.now()))
		return
	}
	b.metrics.command("passthrough")
}

// sendUp writes to the hub. Any failure asks the link to reconnect.
func (b *Bridge) sendUp(text string) error {
	if !b.uplink.IsOpen() {
		b.uplink.ReconnectNow("send_while_closed")
		return errors.WrapTransient(errors.ErrHubUnavailable, "Bridge", "sendUp", "check link")
	}
	if err := b.uplink.Send(text); err != nil {
		b.uplink.ReconnectNow("send_failed")
		return err
	}
	return nil
}

func (b *Bridge) handleTimeout(p command.Pending) {
	b.metrics.command("timeout")
	b.reply(b.peers[p.Origin], pendingOutcome(EventCommandTimeout, p, b.now()))
}

func (b *Bridge) fullState() fullStateMessage {
	return fullStateMessage{
		Event:     EventFullState,
		Data:      b.store.Snapshot(),
		Timestamp: millis(b.now()),
	}
}

// reply sends msg to p. A nil p (the origin has gone) is a no-op.
func (b *Bridge) reply(p Peer, msg any) {
	if p == nil {
		return
	}
	if data := b.encode(msg); data != nil {
		p.Send(data)
	}
}

func (b *Bridge) broadcast(msg any) {
	name := "forwarded"
	if f, ok := msg.(forwardedMessage); ok {
		name = f.Event
	}
	b.broadcastRaw(name, b.encode(msg))
}

// broadcastRaw sends data to every admitted peer.
func (b *Bridge) broadcastRaw(name string, data []byte) {
	if data == nil {
		return
	}
	n := 0
	for _, p := range b.peers {
		if p.Send(data) {
			n++
		}
	}
	b.metrics.broadcast(name, n)
}

// broadcastSynced sends data only to peers that already hold a snapshot.
// Deltas are meaningless to a client that has not seen the state they apply to.
func (b *Bridge) broadcastSynced(name string, data []byte) {
	if data == nil {
		return
	}
	n := 0
	for _, p := range b.peers {
		if p.NeedsFullState() {
			continue
		}
		if p.Send(data) {
			n++
		}
	}
	b.metrics.broadcast(name, n)
}

func (b *Bridge) encode(msg any) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("Failed to encode downstream message", "error", err)
		return nil
	}
	return data
}

// Status is the bridge's view for inspection.
type Status struct {
	HubConnected    bool      `json:"hub_connected"`
	Clients         int       `json:"clients"`
	PendingCommands int       `json:"pending_commands"`
	Accessories     int       `json:"accessories"`
	Loaded          bool      `json:"loaded"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// Status returns current counters. It does not touch worker-owned state.
func (b *Bridge) Status() Status {
	view := b.store.View()
	return Status{
		HubConnected:    b.hubConnected.Load(),
		Clients:         int(b.clients.Load()),
		PendingCommands: b.tracker.Len(),
		Accessories:     len(view.Accessories),
		Loaded:          view.Loaded,
		UpdatedAt:       view.UpdatedAt,
	}
}

// Health reports healthy once the hub is connected and state has loaded.
func (b *Bridge) Health() health.Status {
	switch {
	case !b.hubConnected.Load():
		return health.NewDegraded("bridge", "hub link down; serving last known state")
	case !b.store.HasSnapshot():
		return health.NewDegraded("bridge", "waiting for accessory state")
	default:
		return health.NewHealthy("bridge", fmt.Sprintf("%d clients", b.clients.Load()))
	}
}
