// Package errors implements the proxy's error taxonomy on top of a three-class
// classification system: Transient, Invalid and Fatal.
//
// # Taxonomy
//
// Each failure the bridge can observe wraps exactly one sentinel:
//
//	ErrAuth            credential exchange failed; retried on the next reconnect
//	ErrLink            transport failure; triggers reconnection
//	ErrHubUnavailable  a write was attempted while the link was not open
//	ErrFrameParse      malformed inbound frame; logged and dropped
//	ErrCommand         command could not be translated; reported to the sender only
//	ErrCommandTimeout  no hub response within the window; reported to the sender
//
// None of these end the process. Only configuration errors, classified Fatal,
// stop startup.
//
// # Wrapping
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// via Wrap, WrapTransient, WrapInvalid and WrapFatal, so errors.Is keeps working
// against the sentinels through any number of layers:
//
//	if err := a.Acquire(ctx); err != nil {
//	    return errors.WrapTransient(err, "Link", "connect", "acquire token")
//	}
//
// Kind maps an error to a short label used for log attributes and the
// error_type label of metrics.
package errors
