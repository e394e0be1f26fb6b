package command

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/accessory"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/hubproto"
)

// Kind is the semantic operation of a command.
type Kind int

const (
	KindSet Kind = iota
	KindToggle
)

func (k Kind) String() string {
	if k == KindToggle {
		return "toggle"
	}
	return "set"
}

// Command is a semantic write addressed by identity and characteristic type.
type Command struct {
	Kind           Kind
	Identity       string
	Characteristic string
	// Value is the requested value of a set, as sent by the client.
	Value json.RawMessage
}

// Wire is a translated command ready for the hub.
type Wire struct {
	Key   string
	AID   int
	IID   int
	Value accessory.Value
	Frame string
}

// Resolver is the read side of the accessory store the translator needs.
type Resolver interface {
	Index() *accessory.Index
	CurrentValue(identity, characteristic string) (accessory.Value, bool)
}

// Canonical characteristics that toggle between zero and a fixed on value.
var (
	powerStyle = map[string]bool{"On": true, "Active": true, "PowerState": true}
	levelStyle = map[string]bool{"Brightness": true, "RotationSpeed": true, "TargetPosition": true}
)

const (
	powerOnValue = 1
	levelOnValue = 100
)

// Translator turns semantic commands into hub writes.
type Translator struct {
	resolver Resolver
}

// NewTranslator creates a translator reading from resolver.
func NewTranslator(resolver Resolver) *Translator {
	return &Translator{resolver: resolver}
}

// Translate validates cmd against the lookup index and encodes the write.
// Checks run in order: identity, characteristic, write permission. Every
// failure is a *CommandError.
func (t *Translator) Translate(cmd Command) (Wire, error) {
	if cmd.Identity == "" || cmd.Characteristic == "" {
		return Wire{}, reject(CauseMalformed, cmd, "identity and characteristic are required")
	}

	index := t.resolver.Index()
	if !index.Has(cmd.Identity) {
		return Wire{}, reject(CauseUnknownIdentity, cmd, "no accessory with this identity")
	}
	entry, ok := index.Lookup(cmd.Identity, cmd.Characteristic)
	if !ok {
		return Wire{}, reject(CauseUnknownCharacteristic, cmd, "accessory has no such characteristic")
	}
	if !entry.Writable {
		return Wire{}, reject(CauseNotWritable, cmd, "characteristic lacks the %q permission", accessory.PermWrite)
	}
	if !entry.Addressable {
		return Wire{}, reject(CauseNotAddressable, cmd, "hub did not report aid/iid")
	}

	var (
		value accessory.Value
		err   *CommandError
	)
	switch cmd.Kind {
	case KindToggle:
		value, err = t.toggle(cmd, entry)
	default:
		value, err = coerce(cmd, entry, cmd.Value)
	}
	if err != nil {
		return Wire{}, err
	}

	frame, encErr := hubproto.SetCharacteristics(hubproto.WriteItem{
		AID:   entry.AID,
		IID:   entry.IID,
		Value: value.Native(),
	})
	if encErr != nil {
		return Wire{}, reject(CauseInvalidValue, cmd, "%v", encErr)
	}

	return Wire{
		Key:   hubproto.PairKey(entry.AID, entry.IID),
		AID:   entry.AID,
		IID:   entry.IID,
		Value: value,
		Frame: frame,
	}, nil
}

func (t *Translator) toggle(cmd Command, entry accessory.IndexEntry) (accessory.Value, *CommandError) {
	current, ok := t.resolver.CurrentValue(cmd.Identity, cmd.Characteristic)
	if !ok || current.IsAbsent() {
		return accessory.Value{}, reject(CauseUnknownCurrentValue, cmd, "no value reported yet")
	}

	if entry.Format == accessory.FormatBool {
		b, ok := current.Bool()
		if !ok {
			return accessory.Value{}, reject(CauseUnsupportedToggle, cmd, "current value %s is not boolean", current)
		}
		return accessory.Bool(!b), nil
	}

	var on float64
	switch {
	case powerStyle[cmd.Characteristic]:
		on = powerOnValue
	case levelStyle[cmd.Characteristic]:
		on = levelOnValue
	default:
		return accessory.Value{}, reject(CauseUnsupportedToggle, cmd, "format %q cannot be toggled", entry.Format)
	}

	n, ok := current.Number()
	if !ok {
		if b, isBool := current.Bool(); isBool {
			n = 0
			if b {
				n = 1
			}
		} else {
			return accessory.Value{}, reject(CauseUnsupportedToggle, cmd, "current value %s is not numeric", current)
		}
	}

	next := on
	if n != 0 {
		next = 0
	}
	return clampNumber(cmd, entry, next)
}

// coerce converts a client-supplied JSON value to the characteristic's format.
func coerce(cmd Command, entry accessory.IndexEntry, raw json.RawMessage) (accessory.Value, *CommandError) {
	v, err := accessory.InferValue(raw)
	if err != nil {
		return accessory.Value{}, reject(CauseInvalidValue, cmd, "%v", err)
	}
	if v.IsAbsent() {
		return accessory.Value{}, reject(CauseInvalidValue, cmd, "value is required")
	}

	switch {
	case entry.Format == accessory.FormatBool:
		b, ok := parseBool(v)
		if !ok {
			return accessory.Value{}, reject(CauseInvalidValue, cmd, "%s is not a boolean", v)
		}
		return accessory.Bool(b), nil

	case entry.Format.IsNumeric():
		n, ok := parseNumber(v)
		if !ok {
			return accessory.Value{}, reject(CauseInvalidValue, cmd, "%s is not a number", v)
		}
		return clampNumber(cmd, entry, n)

	case entry.Format == accessory.FormatString:
		if s, ok := v.Str(); ok {
			return accessory.String(s), nil
		}
		return accessory.String(v.String()), nil

	default:
		return accessory.Value{}, reject(CauseUnsupportedFormat, cmd, "format %q is not writable through the proxy", entry.Format)
	}
}

// clampNumber bounds n by the declared range, falling back to the format's
// natural range, and encodes it in the characteristic's format.
func clampNumber(cmd Command, entry accessory.IndexEntry, n float64) (accessory.Value, *CommandError) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return accessory.Value{}, reject(CauseInvalidValue, cmd, "value is not finite")
	}

	lo, hi := math.Inf(-1), math.Inf(1)
	if natLo, natHi, ok := entry.Format.NaturalRange(); ok {
		lo, hi = natLo, natHi
	}
	if entry.Min != nil {
		lo = *entry.Min
	}
	if entry.Max != nil {
		hi = *entry.Max
	}

	if entry.Format.IsInteger() {
		n = math.Round(n)
	}
	n = math.Max(lo, math.Min(hi, n))

	if entry.Format.IsInteger() {
		return accessory.Int(int64(n)), nil
	}
	return accessory.Float(n), nil
}

func parseBool(v accessory.Value) (bool, bool) {
	if b, ok := v.Bool(); ok {
		return b, true
	}
	if n, ok := v.Number(); ok && (n == 0 || n == 1) {
		return n == 1, true
	}
	if s, ok := v.Str(); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "on":
			return true, true
		case "false", "0", "off":
			return false, true
		}
	}
	return false, false
}

func parseNumber(v accessory.Value) (float64, bool) {
	if n, ok := v.Number(); ok {
		return n, true
	}
	if b, ok := v.Bool(); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	if s, ok := v.Str(); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
