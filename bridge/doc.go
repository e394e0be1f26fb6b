// Package bridge routes traffic between the hub link, the accessory store,
// the command layer and the downstream clients.
//
// All state mutation happens on the goroutine running Bridge.Run. The link,
// the downstream server and the command tracker's timers only enqueue
// events; the worker applies accessories-data to the store, broadcasts the
// resulting deltas, translates and dispatches client commands, and reports
// command outcomes to the client that sent them.
//
// Broadcasts go only to clients whose connect event the worker has already
// handled, so a new client always sees its snapshot and link status before
// any live update.
//
// Readers such as the inspection endpoints use Status, Health and the
// store's published View, none of which touch worker-owned state.
package bridge
