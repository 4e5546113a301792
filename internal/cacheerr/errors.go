// Package cacheerr defines the error taxonomy shared by every burrow
// component: a small set of sentinel kinds that callers can match with
// errors.Is, each wrapped with operation-specific context via %w.
package cacheerr

import "errors"

var (
	// ErrNotFound is returned where the API contract demands a miss be
	// surfaced as an error rather than absorbed into a default value.
	ErrNotFound = errors.New("cacheerr: key not found")

	// ErrTimeout is returned when a write transaction could not be
	// acquired within the configured busy-timeout budget.
	ErrTimeout = errors.New("cacheerr: transaction timeout")

	// ErrIO covers file-heap failures other than a tolerated ENOENT.
	ErrIO = errors.New("cacheerr: heap I/O error")

	// ErrInvariant marks a broken internal expectation: a malformed key
	// index entry, Incr on a non-numeric value, an unknown eviction
	// policy or setting name, a wrongly typed setting value, or an
	// invalid fanout shard count. Check
	// reports index/heap disagreements as warning strings, not as this.
	ErrInvariant = errors.New("cacheerr: invariant violation")

	// ErrCodec covers opaque encode/decode failures.
	ErrCodec = errors.New("cacheerr: codec error")

	// ErrClosed names the closed-cache condition. No burrow operation
	// returns it: an operation issued after Close fails with bbolt's own
	// error.
	ErrClosed = errors.New("cacheerr: cache closed")
)

// NotFound reports whether err is (or wraps) ErrNotFound.
func NotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Timeout reports whether err is (or wraps) ErrTimeout.
func Timeout(err error) bool { return errors.Is(err, ErrTimeout) }
