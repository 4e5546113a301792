package serializer

import (
	"encoding/binary"
	"math"
)

// Raw key/scalar type tags. A tag byte prefixes every raw encoding so
// distinct scalar types never collide even when their payloads happen
// to share a length, and so byte order matches numeric order within a
// type (the "natural ordering" spec.md §4.1 asks raw storage to keep).
const (
	tagInt    byte = 0
	tagFloat  byte = 1
	tagString byte = 2
	tagBytes  byte = 3
)

// rawScalar classifies v as one of the native scalar kinds spec.md
// §4.1 stores raw, returning its canonical encoding and true, or
// (nil, false) if v must go through opaque encoding instead.
//
// encoding/binary is used here out of necessity, not preference: this
// is the one place burrow packs bytes by hand rather than reaching for
// a library, because no codec in the dependency graph does
// order-preserving scalar layout (see DESIGN.md).
func rawScalar(v any) ([]byte, bool) {
	switch x := v.(type) {
	case int:
		return encodeOrderedInt(int64(x)), true
	case int8:
		return encodeOrderedInt(int64(x)), true
	case int16:
		return encodeOrderedInt(int64(x)), true
	case int32:
		return encodeOrderedInt(int64(x)), true
	case int64:
		return encodeOrderedInt(x), true
	case uint:
		return encodeOrderedUint(uint64(x)), true
	case uint8:
		return encodeOrderedUint(uint64(x)), true
	case uint16:
		return encodeOrderedUint(uint64(x)), true
	case uint32:
		return encodeOrderedUint(uint64(x)), true
	case uint64:
		return encodeOrderedUint(x), true
	case float32:
		return encodeOrderedFloat(float64(x)), true
	case float64:
		return encodeOrderedFloat(x), true
	case string:
		if len(x) < shortStringLimit {
			buf := make([]byte, 1+len(x))
			buf[0] = tagString
			copy(buf[1:], x)
			return buf, true
		}
	case []byte:
		if len(x) < shortStringLimit {
			buf := make([]byte, 1+len(x))
			buf[0] = tagBytes
			copy(buf[1:], x)
			return buf, true
		}
	}
	return nil, false
}

// shortStringLimit bounds how long a string/[]byte key may be and
// still count as a "short" raw scalar per spec.md §4.1; longer byte
// strings are opaque-encoded like any other structured value (keys are
// never placed in the file heap, only values are).
const shortStringLimit = 256

func encodeOrderedInt(i int64) []byte {
	buf := make([]byte, 9)
	buf[0] = tagInt
	u := uint64(i) ^ (1 << 63) // flip sign bit: shifts signed range to unsigned order
	binary.BigEndian.PutUint64(buf[1:], u)
	return buf
}

func encodeOrderedUint(u uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = tagInt
	// Unsigned values are encoded in the same signed int64 keyspace
	// when they fit, so uint and int keys of equal numeric value collide
	// the way spec.md's "native integer range" scalar collapses them.
	if u <= math.MaxInt64 {
		binary.BigEndian.PutUint64(buf[1:], u^(1<<63))
		return buf
	}
	buf[0] = tagFloat // overflowed int64 range: fall back to float ordering space
	binary.BigEndian.PutUint64(buf[1:], orderedFloatBits(float64(u)))
	return buf
}

func encodeOrderedFloat(f float64) []byte {
	buf := make([]byte, 9)
	buf[0] = tagFloat
	binary.BigEndian.PutUint64(buf[1:], orderedFloatBits(f))
	return buf
}

// EncodeOrderedFloatKey returns f's order-preserving 8-byte big-endian
// encoding with no type tag, for callers (the eviction package's
// policy_idx sort fields) that already know the field's type and only
// need byte order to match numeric order.
func EncodeOrderedFloatKey(f float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, orderedFloatBits(f))
	return buf
}

// EncodeOrderedIntKey is EncodeOrderedFloatKey's integer counterpart.
func EncodeOrderedIntKey(i int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(i)^(1<<63))
	return buf
}

// orderedFloatBits maps an IEEE-754 float64's bit pattern so that
// unsigned big-endian comparison of the result matches float comparison:
// flip the sign bit for positive numbers, flip all bits for negative.
func orderedFloatBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}
