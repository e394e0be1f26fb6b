// Package rtiproxy bridges a Homebridge hub to RTI home-automation
// controllers.
//
// The proxy holds one authenticated socket.io link to the Homebridge UI
// service, keeps a canonical snapshot of every accessory and its
// characteristics, and serves that state to any number of controller
// clients over a plain WebSocket. Controllers send simple commands (set,
// toggle, refresh) which the proxy translates into hub writes and confirms
// once the hub reports the change.
//
// # Architecture
//
// Data flows in one direction through each layer:
//
//	Homebridge ──socket.io──▶ input/hublink ──▶ bridge ──▶ output/websocket ──▶ controllers
//	                              ▲               │
//	                           auth (JWT)     accessory.Store
//	                                              │
//	                       natsclient mirror ◀────┤
//	                       gateway/http ◀─────────┘
//
// The bridge is a single goroutine that owns all mutable session state:
// pending commands, the client set and link status. Every other component
// talks to it through a bounded event queue.
//
// # Packages
//
//   - hubproto: socket.io/Engine.IO frame codec
//   - auth: bearer token acquisition and caching
//   - input/hublink: the upstream link with reconnection and health checks
//   - accessory: snapshot model, merge rules and value coercion
//   - command: controller command translation and pending-command tracking
//   - bridge: the event loop tying link, store and clients together
//   - output/websocket: downstream controller server
//   - gateway/http: read-only inspection endpoints and Prometheus metrics
//   - natsclient: optional NATS mirror of accessory and link events
//   - discovery: optional mDNS advertisement of the controller endpoint
//   - config, errors, health, metric: shared infrastructure
//
// # Running
//
//	rti-proxy --config /etc/rti-proxy/config.yaml
//
// With no file, defaults and RTI_PROXY_* environment variables are used.
package rtiproxy
