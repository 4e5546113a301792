package serializer

// Mode describes where and how an entry's value lives, per spec.md §3.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeRawInline
	ModeBytesFile
	ModeTextFile
	ModeOpaqueInline
	ModeOpaqueFile
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeRawInline:
		return "raw-inline"
	case ModeBytesFile:
		return "bytes-file"
	case ModeTextFile:
		return "text-file"
	case ModeOpaqueInline:
		return "opaque-inline"
	case ModeOpaqueFile:
		return "opaque-file"
	default:
		return "unknown"
	}
}

// IsFile reports whether values in this mode live in the file heap.
func (m Mode) IsFile() bool {
	return m == ModeBytesFile || m == ModeTextFile || m == ModeOpaqueFile
}
