// Package heap implements the content-addressed file heap of spec.md
// §4.2: a two-level directory tree under a cache root holding
// out-of-line values, each named by random bytes.
package heap

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cuemby/burrow/internal/cacheerr"
)

// Heap is a file heap rooted at a cache directory.
type Heap struct {
	root string
}

// New returns a Heap rooted at dir. dir must already exist.
func New(dir string) *Heap {
	return &Heap{root: dir}
}

// Create allocates a fresh, empty heap file and returns its path
// relative to the cache root together with its absolute path. The
// caller is responsible for writing (and closing) the file; Create only
// guarantees both directory levels exist and the name is free.
func (h *Heap) Create() (relative, absolute string, err error) {
	// 16 bytes of randomness (UUID v4, backed by crypto/rand) hex
	// encoded: first two hex chars are the top directory, next two the
	// second level, remainder plus .val is the file name.
	id, err := uuid.NewRandom()
	if err != nil {
		return "", "", fmt.Errorf("heap: generate name: %w", err)
	}
	hexName := hex.EncodeToString(id[:])
	top, second, rest := hexName[:2], hexName[2:4], hexName[4:]

	relDir := filepath.Join(top, second)
	absDir := filepath.Join(h.root, relDir)
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", "", fmt.Errorf("%w: mkdir %s: %v", cacheerr.ErrIO, absDir, err)
	}

	relative = filepath.Join(relDir, rest+".val")
	absolute = filepath.Join(h.root, relative)
	return relative, absolute, nil
}

// Write atomically creates a new heap file containing data and returns
// its relative path. It writes to a temp name in the target directory
// and renames into place so a concurrent reader never observes a
// partial file.
func (h *Heap) Write(data []byte) (relative string, size int64, err error) {
	rel, abs, err := h.Create()
	if err != nil {
		return "", 0, err
	}
	tmp := abs + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", 0, fmt.Errorf("%w: write %s: %v", cacheerr.ErrIO, tmp, err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("%w: rename %s: %v", cacheerr.ErrIO, abs, err)
	}
	return rel, int64(len(data)), nil
}

// WriteFrom streams src into a new heap file in 4 MiB chunks, per
// spec.md §4.1's streaming-source placement rule, and returns the
// relative path and total bytes copied.
func (h *Heap) WriteFrom(src io.Reader) (relative string, size int64, err error) {
	rel, abs, err := h.Create()
	if err != nil {
		return "", 0, err
	}
	tmp := abs + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("%w: create %s: %v", cacheerr.ErrIO, tmp, err)
	}
	const chunk = 4 << 20
	n, copyErr := io.CopyBuffer(f, src, make([]byte, chunk))
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("%w: copy into %s: %v", cacheerr.ErrIO, tmp, copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("%w: close %s: %v", cacheerr.ErrIO, tmp, closeErr)
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("%w: rename %s: %v", cacheerr.ErrIO, abs, err)
	}
	return rel, n, nil
}

// Remove deletes the heap file at relative. A file that is already
// absent is not an error, tolerating races with concurrent sweeps that
// delete the same orphan.
func (h *Heap) Remove(relative string) error {
	if relative == "" {
		return nil
	}
	err := os.Remove(filepath.Join(h.root, relative))
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("%w: remove %s: %v", cacheerr.ErrIO, relative, err)
}

// Open returns a streaming handle to the heap file at relative. The
// caller must Close it. A missing file is reported as cacheerr.ErrIO
// wrapping os.ErrNotExist so callers can treat it as a lazy-cleanup miss.
func (h *Heap) Open(relative string) (*os.File, error) {
	f, err := os.Open(filepath.Join(h.root, relative))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %w", cacheerr.ErrIO, err)
		}
		return nil, fmt.Errorf("%w: open %s: %v", cacheerr.ErrIO, relative, err)
	}
	return f, nil
}

// ReadAll reads the whole heap file at relative into memory.
func (h *Heap) ReadAll(relative string) ([]byte, error) {
	f, err := h.Open(relative)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", cacheerr.ErrIO, relative, err)
	}
	return data, nil
}

// Exists reports whether the heap file at relative is a regular file.
func (h *Heap) Exists(relative string) (bool, int64, error) {
	info, err := os.Stat(filepath.Join(h.root, relative))
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("%w: stat %s: %v", cacheerr.ErrIO, relative, err)
	}
	return info.Mode().IsRegular(), info.Size(), nil
}

// Root returns the cache root directory the heap is rooted at.
func (h *Heap) Root() string { return h.root }
