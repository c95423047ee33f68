package docmapper

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Fast columns store every numeric value as a u64 whose natural order matches the order
// of the original value, so one comparator ranks all field types.

// EncodeI64 maps an i64 onto u64 preserving order.
func EncodeI64(v int64) uint64 { return uint64(v) ^ (1 << 63) }

// DecodeI64 reverses EncodeI64.
func DecodeI64(u uint64) int64 { return int64(u ^ (1 << 63)) }

// EncodeF64 maps an f64 onto u64 preserving order (NaN aside).
func EncodeF64(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits>>63 == 1 {
		return ^bits
	}
	return bits | (1 << 63)
}

// DecodeF64 reverses EncodeF64.
func DecodeF64(u uint64) float64 {
	if u>>63 == 1 {
		return math.Float64frombits(u &^ (1 << 63))
	}
	return math.Float64frombits(^u)
}

// EncodeScore maps an f32 relevance score onto u64 preserving order.
func EncodeScore(f float32) uint64 {
	u := math.Float32bits(f)
	mask := uint32(int32(u)>>31) | 0x80000000
	return uint64(u ^ mask)
}

// DecodeScore reverses EncodeScore.
func DecodeScore(v uint64) float32 {
	u := uint32(v)
	if u>>31 == 1 {
		return math.Float32frombits(u &^ 0x80000000)
	}
	return math.Float32frombits(^u)
}

// EncodeNumber encodes a JSON number for a numeric field type.
func EncodeNumber(t FieldType, n json.Number) (uint64, error) {
	switch t {
	case TypeI64:
		v, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid i64 %q", n)
		}
		return EncodeI64(v), nil
	case TypeU64:
		v, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid u64 %q", n)
		}
		return v, nil
	case TypeF64:
		v, err := strconv.ParseFloat(n.String(), 64)
		if err != nil || math.IsNaN(v) {
			return 0, fmt.Errorf("invalid f64 %q", n)
		}
		return EncodeF64(v), nil
	default:
		return 0, fmt.Errorf("type %q is not numeric", t)
	}
}

// FormatValue renders an encoded fast value as text.
func FormatValue(t FieldType, u uint64) string {
	switch t {
	case TypeI64:
		return strconv.FormatInt(DecodeI64(u), 10)
	case TypeF64:
		return strconv.FormatFloat(DecodeF64(u), 'g', -1, 64)
	default:
		return strconv.FormatUint(u, 10)
	}
}

// RawValue returns the 8-byte native representation of an encoded fast value: the bits
// of the int64, uint64 or float64 it came from.
func RawValue(t FieldType, u uint64) uint64 {
	switch t {
	case TypeI64:
		return uint64(DecodeI64(u))
	case TypeF64:
		return math.Float64bits(DecodeF64(u))
	default:
		return u
	}
}
