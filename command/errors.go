package command

import (
	"fmt"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

// Cause names why a command was rejected.
type Cause string

const (
	CauseMalformed             Cause = "malformed-command"
	CauseUnknownIdentity       Cause = "unknown-identity"
	CauseUnknownCharacteristic Cause = "unknown-characteristic"
	CauseNotWritable           Cause = "not-writable"
	CauseNotAddressable        Cause = "not-addressable"
	CauseInvalidValue          Cause = "invalid-value"
	CauseUnsupportedFormat     Cause = "unsupported-format"
	CauseUnsupportedToggle     Cause = "unsupported-toggle"
	CauseUnknownCurrentValue   Cause = "unknown-current-value"
)

// CommandError reports a command that cannot be turned into a hub write.
// It matches errors.ErrCommand.
type CommandError struct {
	Cause          Cause
	Identity       string
	Characteristic string
	Detail         string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %s", errors.ErrCommand, e.Cause)
	if e.Identity != "" {
		msg += fmt.Sprintf(" (%s/%s)", e.Identity, e.Characteristic)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return errors.ErrCommand
}

func reject(cause Cause, cmd Command, format string, args ...any) *CommandError {
	return &CommandError{
		Cause:          cause,
		Identity:       cmd.Identity,
		Characteristic: cmd.Characteristic,
		Detail:         fmt.Sprintf(format, args...),
	}
}
