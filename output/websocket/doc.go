// Package websocket serves the downstream fan-out: the WebSocket endpoint
// RTI controllers connect to.
//
// # Overview
//
// The Server accepts any number of clients. Each client gets a read
// goroutine, a write goroutine and a bounded send queue:
//
//	owner ──► Client.Send ──► queue(client A) ──► writer A ──► conn A
//	      └─► Client.Send ──► queue(client B) ──► writer B ──► conn B
//
// The owner (the bridge) decides which clients a message goes to; the
// server only queues it. Send never blocks. A client whose queue is full, or whose write
// fails, is dropped alone; the others keep receiving.
//
// # Inbound traffic
//
// Text frames from clients are handed to the Inbound handler in arrival
// order per client. Each client has its own token bucket
// (golang.org/x/time/rate); frames over the limit are reported through
// Inbound.OnRejected and never reach OnMessage.
//
// # Full state tracking
//
// A Client starts with NeedsFullState set. The owner clears it with
// MarkSynced after a complete snapshot has been queued to that client, so
// clients that connected before any state was known can be caught up later.
//
// # Metrics
//
// With a registry, the server exports rtiproxy_fanout_clients_connected,
// client_connections_total, clients_dropped_total{reason},
// messages_sent_total, bytes_sent_total, messages_received_total and
// messages_rejected_total{reason}.
package websocket
