package bridge

import (
	"encoding/json"
	"time"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/accessory"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/command"
)

// Downstream event names.
const (
	EventFullState        = "full-state"
	EventAccessoryUpdate  = "accessory-update"
	EventConnectionStatus = "connection-status"
	EventAccessoriesData  = "accessories-data"
	EventCommandSent      = "command-sent"
	EventCommandSuccess   = "command-success"
	EventCommandError     = "command-error"
	EventCommandTimeout   = "command-timeout"
)

// Downstream command names.
const (
	CommandSet          = "set-characteristic"
	CommandToggle       = "toggle-characteristic"
	CommandGetFullState = "get-full-state"
	CommandRefresh      = "refresh"
)

// command-error reasons that are not translator causes.
const (
	ReasonHubUnavailable = "hub-unavailable"
	ReasonHubRejected    = "hub-rejected"
	ReasonRateLimited    = "rate-limited"
)

type fullStateMessage struct {
	Event     string                `json:"event"`
	Data      []accessory.Accessory `json:"data"`
	Timestamp int64                 `json:"timestamp"`
}

type rawStateMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type updateMessage struct {
	Event     string          `json:"event"`
	Data      accessory.Delta `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type statusMessage struct {
	Event     string `json:"event"`
	Connected bool   `json:"connected"`
	Timestamp int64  `json:"timestamp"`
}

type forwardedMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outcomeMessage carries every command-* event. Fields a given event does not
// use are omitted.
type outcomeMessage struct {
	Event          string           `json:"event"`
	Identity       string           `json:"identity,omitempty"`
	Characteristic string           `json:"characteristic,omitempty"`
	AID            *int             `json:"aid,omitempty"`
	IID            *int             `json:"iid,omitempty"`
	Value          *accessory.Value `json:"value,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Error          string           `json:"error,omitempty"`
	Status         *int             `json:"status,omitempty"`
	Timestamp      int64            `json:"timestamp"`
}

// inboundMessage is the envelope of a client message.
type inboundMessage struct {
	Command        string          `json:"command"`
	Identity       string          `json:"identity"`
	Characteristic string          `json:"characteristic"`
	Value          json.RawMessage `json:"value"`
}

// parseInbound returns the decoded message when data is a JSON object naming
// a known command. Anything else is pass-through.
func parseInbound(data []byte) (inboundMessage, bool) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return inboundMessage{}, false
	}
	switch msg.Command {
	case CommandSet, CommandToggle, CommandGetFullState, CommandRefresh:
		return msg, true
	default:
		return inboundMessage{}, false
	}
}

func (m inboundMessage) toCommand() command.Command {
	cmd := command.Command{
		Kind:           command.KindSet,
		Identity:       m.Identity,
		Characteristic: m.Characteristic,
		Value:          m.Value,
	}
	if m.Command == CommandToggle {
		cmd.Kind = command.KindToggle
		cmd.Value = nil
	}
	return cmd
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func pendingOutcome(event string, p command.Pending, now time.Time) outcomeMessage {
	aid, iid, value := p.AID, p.IID, p.Value
	msg := outcomeMessage{
		Event:          event,
		Identity:       p.Identity,
		Characteristic: p.Characteristic,
		AID:            &aid,
		IID:            &iid,
		Timestamp:      millis(now),
	}
	if event != EventCommandTimeout {
		msg.Value = &value
	}
	return msg
}

func errorMessage(identity, characteristic, reason, detail string, now time.Time) outcomeMessage {
	return outcomeMessage{
		Event:          EventCommandError,
		Identity:       identity,
		Characteristic: characteristic,
		Reason:         reason,
		Error:          detail,
		Timestamp:      millis(now),
	}
}
