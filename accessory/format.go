package accessory

import "math"

// Format is the hub's declared value format of a characteristic.
type Format string

const (
	FormatBool   Format = "bool"
	FormatInt    Format = "int"
	FormatUint8  Format = "uint8"
	FormatUint16 Format = "uint16"
	FormatUint32 Format = "uint32"
	FormatUint64 Format = "uint64"
	FormatFloat  Format = "float"
	FormatString Format = "string"
	FormatTLV8   Format = "tlv8"
	FormatData   Format = "data"
)

// IsInteger reports whether f is one of the integer formats.
func (f Format) IsInteger() bool {
	switch f {
	case FormatInt, FormatUint8, FormatUint16, FormatUint32, FormatUint64:
		return true
	default:
		return false
	}
}

// IsNumeric reports whether f is an integer or float format.
func (f Format) IsNumeric() bool {
	return f.IsInteger() || f == FormatFloat
}

// NaturalRange returns the representable range of an integer format.
func (f Format) NaturalRange() (float64, float64, bool) {
	switch f {
	case FormatInt:
		return math.MinInt32, math.MaxInt32, true
	case FormatUint8:
		return 0, math.MaxUint8, true
	case FormatUint16:
		return 0, math.MaxUint16, true
	case FormatUint32:
		return 0, math.MaxUint32, true
	case FormatUint64:
		// largest integer a float64 holds exactly
		return 0, 1 << 53, true
	default:
		return 0, 0, false
	}
}
