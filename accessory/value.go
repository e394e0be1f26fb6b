package accessory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	// ValueAbsent means the hub did not report a value. It never compares
	// equal to false or zero.
	ValueAbsent ValueKind = iota
	ValueBool
	ValueInt
	ValueFloat
	ValueString
)

func (k ValueKind) String() string {
	switch k {
	case ValueBool:
		return "bool"
	case ValueInt:
		return "int"
	case ValueFloat:
		return "float"
	case ValueString:
		return "string"
	default:
		return "absent"
	}
}

// Value is a characteristic value: a boolean, integer, float or string.
// The zero Value is absent.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
}

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: ValueBool, b: b} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: ValueInt, i: i} }

// Float returns a floating-point Value.
func Float(f float64) Value { return Value{kind: ValueFloat, f: f} }

// String returns a string Value.
func String(s string) Value { return Value{kind: ValueString, s: s} }

// Kind reports which variant v holds.
func (v Value) Kind() ValueKind { return v.kind }

// IsAbsent reports whether the hub supplied no value.
func (v Value) IsAbsent() bool { return v.kind == ValueAbsent }

// Bool returns the boolean held by v.
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == ValueBool
}

// Int returns the integer held by v.
func (v Value) Int() (int64, bool) {
	return v.i, v.kind == ValueInt
}

// Float returns the float held by v.
func (v Value) Float() (float64, bool) {
	return v.f, v.kind == ValueFloat
}

// Str returns the string held by v.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == ValueString
}

// Number returns v as a float64 for numeric kinds.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case ValueInt:
		return float64(v.i), true
	case ValueFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal is strict equality: kinds must match as well as values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueBool:
		return v.b == o.b
	case ValueInt:
		return v.i == o.i
	case ValueFloat:
		return v.f == o.f
	case ValueString:
		return v.s == o.s
	default:
		return true
	}
}

// Native returns v as the Go value encoding/json would produce for it.
func (v Value) Native() any {
	switch v.kind {
	case ValueBool:
		return v.b
	case ValueInt:
		return v.i
	case ValueFloat:
		return v.f
	case ValueString:
		return v.s
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueInt:
		return strconv.FormatInt(v.i, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case ValueString:
		return v.s
	default:
		return "<absent>"
	}
}

// MarshalJSON encodes an absent value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// UnmarshalJSON infers the kind from the JSON token.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := InferValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// InferValue decodes a raw JSON scalar without format information. Integral
// numbers become ValueInt, other numbers ValueFloat. Null and empty input
// yield an absent value.
func InferValue(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Value{}, nil
	}

	switch raw[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return String(s), nil
	case '[', '{':
		return Value{}, fmt.Errorf("value must be a scalar, got %s", raw)
	}

	text := string(raw)
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q", text)
	}
	return Float(f), nil
}

// fitsFormat reports whether n lies inside the natural range of an integer
// format, which also keeps the int64 conversion defined.
func fitsFormat(n float64, format Format) bool {
	lo, hi, ok := format.NaturalRange()
	if !ok {
		return n >= math.MinInt64 && n < math.MaxInt64
	}
	return n >= lo && n <= hi
}

// DecodeValue decodes a raw hub value so that it matches format. Hub values
// that disagree with their format are normalized when lossless (0/1 for bool,
// integral floats for integer formats) and rejected otherwise.
func DecodeValue(raw json.RawMessage, format Format) (Value, error) {
	inferred, err := InferValue(raw)
	if err != nil || inferred.IsAbsent() {
		return inferred, err
	}

	switch {
	case format == FormatBool:
		switch inferred.kind {
		case ValueBool:
			return inferred, nil
		case ValueInt:
			if inferred.i == 0 || inferred.i == 1 {
				return Bool(inferred.i == 1), nil
			}
		}
		return Value{}, fmt.Errorf("value %s does not fit format %s", inferred, format)

	case format.IsInteger():
		switch inferred.kind {
		case ValueInt:
			return inferred, nil
		case ValueFloat:
			if inferred.f == math.Trunc(inferred.f) && fitsFormat(inferred.f, format) {
				return Int(int64(inferred.f)), nil
			}
		case ValueBool:
			if inferred.b {
				return Int(1), nil
			}
			return Int(0), nil
		}
		return Value{}, fmt.Errorf("value %s does not fit format %s", inferred, format)

	case format == FormatFloat:
		if n, ok := inferred.Number(); ok {
			return Float(n), nil
		}
		return Value{}, fmt.Errorf("value %s does not fit format %s", inferred, format)

	case format == FormatString:
		if inferred.kind == ValueString {
			return inferred, nil
		}
		return String(inferred.String()), nil
	}

	return inferred, nil
}
