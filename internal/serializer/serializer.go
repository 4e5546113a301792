package serializer

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cuemby/burrow/internal/heap"
)

// Placement is the result of preparing a value for storage: exactly one
// of ValueBlob and Filename is set, per spec.md §3's storage disjunction
// invariant.
type Placement struct {
	Mode      Mode
	ValueBlob []byte
	Filename  string
	Size      int64
}

// Serializer implements spec.md §4.1: it classifies and places values
// (inline vs. heap file) and reverses the classification on read.
type Serializer struct {
	Codec Codec
	Heap  *heap.Heap
}

// New returns a Serializer using codec for opaque values and heap for
// out-of-line placement.
func New(codec Codec, h *heap.Heap) *Serializer {
	return &Serializer{Codec: codec, Heap: h}
}

// EncodeKey returns the on-disk key_blob and raw_flag for k, per
// spec.md §4.1's key encoding rule.
func (s *Serializer) EncodeKey(k any) (blob []byte, raw bool, err error) {
	if b, ok := rawScalar(k); ok {
		return b, true, nil
	}
	b, err := s.Codec.Encode(k)
	if err != nil {
		return nil, false, err
	}
	return b, false, nil
}

// DecodeKey reverses EncodeKey. Raw keys decode to their Go scalar type
// (int64, float64, string or []byte); opaque keys decode to a generic
// value via the codec (typically map[string]any for struct-shaped keys).
func (s *Serializer) DecodeKey(blob []byte, raw bool) (any, error) {
	if !raw {
		var v any
		if err := s.Codec.Decode(blob, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	if len(blob) < 1 {
		return nil, fmt.Errorf("serializer: empty raw key blob")
	}
	tag, payload := blob[0], blob[1:]
	switch tag {
	case tagInt:
		if len(payload) != 8 {
			return nil, fmt.Errorf("serializer: malformed raw int key")
		}
		u := binary.BigEndian.Uint64(payload) ^ (1 << 63)
		return int64(u), nil
	case tagFloat:
		if len(payload) != 8 {
			return nil, fmt.Errorf("serializer: malformed raw float key")
		}
		bits := binary.BigEndian.Uint64(payload)
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), nil
	case tagString:
		return string(payload), nil
	case tagBytes:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	default:
		return nil, fmt.Errorf("serializer: unknown raw key tag %d", tag)
	}
}

// PrepareValue classifies v and places it inline or in the file heap
// according to threshold, per spec.md §4.1's value placement table.
// Any heap file it creates must be written before the caller's
// transaction begins; on failure of the surrounding transaction the
// caller is responsible for scheduling Filename for cleanup.
func (s *Serializer) PrepareValue(v any, threshold int) (Placement, error) {
	switch x := v.(type) {
	case nil:
		return Placement{Mode: ModeNone}, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		raw, _ := rawScalar(x)
		return Placement{Mode: ModeRawInline, ValueBlob: raw, Size: 0}, nil
	case string:
		return s.placeText(x, threshold)
	case []byte:
		return s.placeBytes(x, threshold)
	default:
		return s.placeOpaque(v, threshold)
	}
}

// PrepareStream always places src's content in the file heap, copying
// in 4 MiB chunks and computing size while copying, per spec.md §4.1.
func (s *Serializer) PrepareStream(src io.Reader) (Placement, error) {
	rel, n, err := s.Heap.WriteFrom(src)
	if err != nil {
		return Placement{}, err
	}
	return Placement{Mode: ModeBytesFile, Filename: rel, Size: n}, nil
}

func (s *Serializer) placeBytes(b []byte, threshold int) (Placement, error) {
	if len(b) < threshold {
		blob := make([]byte, 1+len(b))
		blob[0] = tagBytes
		copy(blob[1:], b)
		return Placement{Mode: ModeRawInline, ValueBlob: blob, Size: int64(len(b))}, nil
	}
	rel, n, err := s.Heap.Write(b)
	if err != nil {
		return Placement{}, err
	}
	return Placement{Mode: ModeBytesFile, Filename: rel, Size: n}, nil
}

func (s *Serializer) placeText(t string, threshold int) (Placement, error) {
	if len(t) < threshold {
		blob := make([]byte, 1+len(t))
		blob[0] = tagString
		copy(blob[1:], t)
		return Placement{Mode: ModeRawInline, ValueBlob: blob, Size: int64(len(t))}, nil
	}
	rel, n, err := s.Heap.Write([]byte(t))
	if err != nil {
		return Placement{}, err
	}
	return Placement{Mode: ModeTextFile, Filename: rel, Size: n}, nil
}

func (s *Serializer) placeOpaque(v any, threshold int) (Placement, error) {
	encoded, err := s.Codec.Encode(v)
	if err != nil {
		return Placement{}, err
	}
	if len(encoded) < threshold {
		return Placement{Mode: ModeOpaqueInline, ValueBlob: encoded, Size: int64(len(encoded))}, nil
	}
	rel, n, err := s.Heap.Write(encoded)
	if err != nil {
		return Placement{}, err
	}
	return Placement{Mode: ModeOpaqueFile, Filename: rel, Size: n}, nil
}

// LoadValue reverses PrepareValue. When wantStream is true and the
// value lives in the file heap, it returns an open streaming handle
// instead of materialized bytes (the caller owns closing it).
func (s *Serializer) LoadValue(mode Mode, valueBlob []byte, filename string, wantStream bool) (value any, stream io.ReadCloser, err error) {
	switch mode {
	case ModeNone:
		return nil, nil, nil
	case ModeRawInline:
		return decodeRawRoot(valueBlob), nil, nil
	case ModeOpaqueInline:
		var v any
		if err := s.Codec.Decode(valueBlob, &v); err != nil {
			return nil, nil, err
		}
		return v, nil, nil
	case ModeBytesFile, ModeTextFile:
		if wantStream {
			f, err := s.Heap.Open(filename)
			if err != nil {
				return nil, nil, err
			}
			return nil, f, nil
		}
		data, err := s.Heap.ReadAll(filename)
		if err != nil {
			return nil, nil, err
		}
		if mode == ModeTextFile {
			return string(data), nil, nil
		}
		return data, nil, nil
	case ModeOpaqueFile:
		if wantStream {
			f, err := s.Heap.Open(filename)
			if err != nil {
				return nil, nil, err
			}
			return nil, f, nil
		}
		data, err := s.Heap.ReadAll(filename)
		if err != nil {
			return nil, nil, err
		}
		var v any
		if err := s.Codec.Decode(data, &v); err != nil {
			return nil, nil, err
		}
		return v, nil, nil
	default:
		return nil, nil, fmt.Errorf("serializer: unknown mode %v", mode)
	}
}

// decodeRawRoot decodes a raw-inline value blob. Every raw-inline value
// — scalar, short bytes, or short text — is prefixed with the same type
// tag byte EncodeKey uses for raw keys (§4.1 "native scalar"), so the
// decode is unambiguous regardless of payload length.
func decodeRawRoot(blob []byte) any {
	if len(blob) == 0 {
		return nil
	}
	tag, payload := blob[0], blob[1:]
	switch tag {
	case tagInt:
		u := binary.BigEndian.Uint64(payload)
		return int64(u ^ (1 << 63))
	case tagFloat:
		u := binary.BigEndian.Uint64(payload)
		var bits uint64
		if u&(1<<63) != 0 {
			bits = u &^ (1 << 63)
		} else {
			bits = ^u
		}
		return math.Float64frombits(bits)
	case tagString:
		return string(payload)
	case tagBytes:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out
	default:
		return blob
	}
}
