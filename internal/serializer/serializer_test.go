package serializer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/internal/heap"
)

func newTestSerializer(t *testing.T) *Serializer {
	t.Helper()
	return New(JSONCodec{}, heap.New(t.TempDir()))
}

func TestPrepareValueScalarRoundTrip(t *testing.T) {
	s := newTestSerializer(t)

	for _, v := range []any{42, int64(-7), 3.14, -2.5} {
		p, err := s.PrepareValue(v, 32)
		require.NoError(t, err)
		assert.Equal(t, ModeRawInline, p.Mode)
		assert.EqualValues(t, 0, p.Size)

		got, stream, err := s.LoadValue(p.Mode, p.ValueBlob, p.Filename, false)
		require.NoError(t, err)
		assert.Nil(t, stream)
		switch want := v.(type) {
		case int:
			assert.Equal(t, int64(want), got)
		default:
			assert.Equal(t, v, got)
		}
	}
}

func TestPrepareValueShortBytesInline(t *testing.T) {
	s := newTestSerializer(t)
	p, err := s.PrepareValue([]byte("short"), 32)
	require.NoError(t, err)
	assert.Equal(t, ModeRawInline, p.Mode)
	assert.EqualValues(t, len("short"), p.Size)

	got, _, err := s.LoadValue(p.Mode, p.ValueBlob, p.Filename, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), got)
}

func TestPrepareValueLongBytesGoesToHeap(t *testing.T) {
	s := newTestSerializer(t)
	big := bytes.Repeat([]byte("x"), 64)
	p, err := s.PrepareValue(big, 32)
	require.NoError(t, err)
	assert.Equal(t, ModeBytesFile, p.Mode)
	assert.NotEmpty(t, p.Filename)
	assert.EqualValues(t, len(big), p.Size)

	got, _, err := s.LoadValue(p.Mode, p.ValueBlob, p.Filename, false)
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func TestPrepareValueOpaqueStruct(t *testing.T) {
	type point struct{ X, Y int }
	s := newTestSerializer(t)
	p, err := s.PrepareValue(point{1, 2}, 1024)
	require.NoError(t, err)
	assert.Equal(t, ModeOpaqueInline, p.Mode)

	var out point
	got, _, err := s.LoadValue(p.Mode, p.ValueBlob, p.Filename, false)
	require.NoError(t, err)
	m := got.(map[string]any)
	assert.EqualValues(t, 1, m["X"])
	assert.EqualValues(t, 2, m["Y"])
	_ = out
}

func TestPrepareStream(t *testing.T) {
	s := newTestSerializer(t)
	payload := bytes.Repeat([]byte("y"), 1<<20)
	p, err := s.PrepareStream(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, ModeBytesFile, p.Mode)
	assert.EqualValues(t, len(payload), p.Size)

	_, stream, err := s.LoadValue(p.Mode, p.ValueBlob, p.Filename, true)
	require.NoError(t, err)
	require.NotNil(t, stream)
	defer stream.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(stream)
	require.NoError(t, err)
	assert.Equal(t, payload, buf.Bytes())
}

func TestEncodeKeyRawVsOpaque(t *testing.T) {
	s := newTestSerializer(t)

	blob, raw, err := s.EncodeKey("hello")
	require.NoError(t, err)
	assert.True(t, raw)

	decoded, err := s.DecodeKey(blob, raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", decoded)

	type compound struct{ A, B string }
	blob, raw, err = s.EncodeKey(compound{"a", "b"})
	require.NoError(t, err)
	assert.False(t, raw)

	decoded, err = s.DecodeKey(blob, raw)
	require.NoError(t, err)
	assert.NotNil(t, decoded)
}

func TestCompressedJSONCodecRoundTrip(t *testing.T) {
	c := CompressedJSONCodec{}
	data, err := c.Encode(map[string]any{"a": 1, "b": "two"})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, c.Decode(data, &out))
	assert.EqualValues(t, 1, out["a"])
	assert.Equal(t, "two", out["b"])
}
