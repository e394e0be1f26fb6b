// Package natsclient wraps a NATS connection with a circuit breaker and uses
// it to mirror proxy events onto NATS subjects.
//
// Client guards Connect with a circuit breaker: after a threshold of
// consecutive failures (default 5) the circuit opens and Connect fails fast
// with ErrCircuitOpen until the backoff elapses. Backoff doubles per round,
// capped by WithMaxBackoff. Once connected, nats.go handles reconnects and the
// client tracks them through its status and the core metric set.
//
// Mirror implements the bridge's event mirror:
//
//	client, err := natsclient.NewClient(cfg.NATS.URL,
//	    natsclient.WithName("rti-proxy"),
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    logger.Warn("NATS unavailable, mirror disabled until reconnect", "error", err)
//	}
//	defer client.Close(ctx)
//
//	mirror := natsclient.NewMirror(client, cfg.NATS.SubjectPrefix, registry, logger)
//
// Accessory updates land on <prefix>.accessory.<identity>, with dots and
// wildcards in the identity replaced by underscores, and link status changes
// on <prefix>.connection. A failed publish is counted and dropped.
package natsclient
