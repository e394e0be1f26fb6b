// Package hubproto parses and encodes the subset of the hub's engine.io /
// socket.io text framing used by the proxy, and defines the JSON schemas of the
// payloads carried inside event frames.
//
// Parse turns a raw text frame into a Frame tagged with one of five kinds:
//
//	"2"                               Ping
//	"3"                               Pong
//	"40", "40/accessories,{...}"      NamespaceAck
//	"42/accessories,[name, payload]"  Event
//	anything else                     Unknown
//
// The package holds no connection state; the link decides what to do with a
// frame. Schemas keep every optional hub field as a pointer or raw message so
// an absent field is never confused with zero or false.
package hubproto
