// Package hublink owns the WebSocket connection to the hub.
//
// A Link runs one supervisor goroutine that walks the state machine
//
//	idle -> connecting -> open -> closed|error -> (fixed delay) -> connecting
//
// forever until stopped. Each attempt first obtains a bearer token from the
// TokenSource, then dials the socket.io endpoint. Once open the link joins the
// /accessories namespace, requests full state after a short delay, answers
// pings, re-joins when the hub sends a bare "40", and hands every accessories
// event to the Handler.
//
// Reconnection shares a single in-flight guard between three triggers: the
// connection closing on its own, ReconnectNow (used when a command cannot be
// delivered), and the health monitor, which force-closes a link that is not
// open or has been silent longer than the silence timeout. While an attempt is
// scheduled or running, further triggers are no-ops.
package hublink
