// Package serializer translates application keys and values into the
// forms the index store and file heap can hold, and back, per spec.md
// §4.1.
package serializer

import (
	"bytes"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zlib"

	"github.com/cuemby/burrow/internal/cacheerr"
)

// Codec is the capability set spec.md §9 asks for in place of Disk
// subclassing: a plug point a caller may substitute (e.g. for
// debuggable on-disk values) without touching the cache engine.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

// JSONCodec is the default opaque-value codec: goccy/go-json, a
// drop-in, faster encoding/json-compatible encoder.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: json encode: %v", cacheerr.ErrCodec, err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: json decode: %v", cacheerr.ErrCodec, err)
	}
	return nil
}

// CompressedJSONCodec layers klauspost/compress/zlib (a drop-in
// compress/zlib replacement) over JSONCodec, mirroring the spec's
// JSONDisk-plus-compression hint for debugging-friendly values that
// stay human-readable once decompressed.
type CompressedJSONCodec struct {
	Level int // zlib.DefaultCompression if zero
	inner JSONCodec
}

func (c CompressedJSONCodec) Name() string { return "json+zlib" }

func (c CompressedJSONCodec) Encode(v any) ([]byte, error) {
	raw, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	level := c.Level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("%w: zlib writer: %v", cacheerr.ErrCodec, err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("%w: zlib compress: %v", cacheerr.ErrCodec, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: zlib close: %v", cacheerr.ErrCodec, err)
	}
	return buf.Bytes(), nil
}

func (c CompressedJSONCodec) Decode(data []byte, out any) error {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: zlib reader: %v", cacheerr.ErrCodec, err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: zlib decompress: %v", cacheerr.ErrCodec, err)
	}
	return c.inner.Decode(raw, out)
}
