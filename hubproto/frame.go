package hubproto

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

// AccessoriesNamespace is the socket.io namespace carrying accessory traffic.
const AccessoriesNamespace = "/accessories"

// Hub event names.
const (
	EventGetAccessories           = "get-accessories"
	EventAccessoriesData          = "accessories-data"
	EventSetCharacteristics       = "set-characteristics"
	EventSetCharacteristicsResult = "set-characteristics-response"
	EventAccessoryControlResult   = "accessory-control-response"
)

const (
	pingFrame   = "2"
	pongFrame   = "3"
	connectType = "40"
	eventType   = "42"
)

// Kind tags a parsed frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindPing
	KindPong
	KindNamespaceAck
	KindEvent
)

// String returns the metric label for the kind.
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindNamespaceAck:
		return "namespace_ack"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Frame is one parsed text frame.
type Frame struct {
	Kind Kind
	// Namespace is empty for the default namespace.
	Namespace string
	// Event and Payload are only set for KindEvent. Payload is nil when the
	// event carried no argument.
	Event   string
	Payload json.RawMessage
	Raw     string
}

// IsDefaultNamespace reports whether the frame addresses the default namespace.
func (f Frame) IsDefaultNamespace() bool {
	return f.Namespace == "" || f.Namespace == "/"
}

// Parse classifies a text frame. Only event frames can fail; the returned
// error wraps errors.ErrFrameParse.
func Parse(text string) (Frame, error) {
	frame := Frame{Kind: KindUnknown, Raw: text}

	switch {
	case text == pingFrame:
		frame.Kind = KindPing
	case text == pongFrame:
		frame.Kind = KindPong
	case strings.HasPrefix(text, connectType):
		frame.Kind = KindNamespaceAck
		frame.Namespace, _ = splitNamespace(text[len(connectType):])
	case strings.HasPrefix(text, eventType):
		frame.Kind = KindEvent
		ns, body := splitNamespace(text[len(eventType):])
		frame.Namespace = ns

		name, payload, err := decodeEvent(skipAckID(body))
		if err != nil {
			return frame, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrFrameParse, err),
				"hubproto", "Parse", "decode event frame")
		}
		frame.Event = name
		frame.Payload = payload
	}

	return frame, nil
}

// splitNamespace separates a leading "/ns," from the rest of a packet body.
func splitNamespace(body string) (string, string) {
	if !strings.HasPrefix(body, "/") {
		return "", body
	}
	idx := strings.IndexByte(body, ',')
	if idx < 0 {
		return body, ""
	}
	return body[:idx], body[idx+1:]
}

// skipAckID drops the optional numeric acknowledgement id preceding the data.
func skipAckID(body string) string {
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	return body[i:]
}

func decodeEvent(body string) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(body), &parts); err != nil {
		return "", nil, err
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("empty event array")
	}

	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("event name is not a string")
	}
	if name == "" {
		return "", nil, fmt.Errorf("event name is empty")
	}

	if len(parts) < 2 {
		return name, nil, nil
	}
	return name, parts[1], nil
}

// Pong returns the reply to a ping.
func Pong() string {
	return pongFrame
}

// Join returns the frame that joins namespace ns.
func Join(ns string) string {
	return connectType + ns + ","
}

// EncodeEvent builds a "42<ns>,[name, args...]" frame.
func EncodeEvent(ns, name string, args ...any) (string, error) {
	parts := make([]any, 0, len(args)+1)
	parts = append(parts, name)
	parts = append(parts, args...)

	data, err := json.Marshal(parts)
	if err != nil {
		return "", errors.WrapInvalid(err, "hubproto", "EncodeEvent", "marshal event "+name)
	}

	var b strings.Builder
	b.Grow(len(eventType) + len(ns) + 1 + len(data))
	b.WriteString(eventType)
	if ns != "" {
		b.WriteString(ns)
		b.WriteByte(',')
	}
	b.Write(data)
	return b.String(), nil
}

// GetAccessories returns the full state request frame.
func GetAccessories() string {
	frame, _ := EncodeEvent(AccessoriesNamespace, EventGetAccessories)
	return frame
}

// SetCharacteristics returns the write frame for items.
func SetCharacteristics(items ...WriteItem) (string, error) {
	return EncodeEvent(AccessoriesNamespace, EventSetCharacteristics, items)
}
