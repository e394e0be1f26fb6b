// Package health tracks the health of the proxy's components and folds them
// into one status for the /health endpoint.
//
// # Health States
//
//   - healthy: working normally
//   - degraded: serving, but with reduced function (for example the hub link
//     is down while downstream clients are still connected)
//   - unhealthy: not serving
//
// # Pushed and probed status
//
// Components either push their status with Update, or register a Probe that
// the Monitor calls each time health is read:
//
//	monitor := health.NewMonitor()
//	monitor.Register("hub-link", func() health.Status {
//	    if link.IsOpen() {
//	        return health.NewHealthy("hub-link", "connected")
//	    }
//	    return health.NewDegraded("hub-link", "reconnecting")
//	})
//
//	system := monitor.AggregateHealth("rti-proxy")
//
// Probes must be cheap and must not block; they run on the caller's
// goroutine.
//
// # Aggregation
//
// Any unhealthy component makes the aggregate unhealthy. Otherwise any
// degraded component makes it degraded. Sub-statuses are ordered by name.
//
// # Error messages
//
// FromError sanitizes error text before it is exposed: URLs (which may carry
// the hub token as a query parameter), paths, addresses and credential-like
// pairs are masked.
package health
