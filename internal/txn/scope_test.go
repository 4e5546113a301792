package txn

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/cacheerr"
	"github.com/cuemby/burrow/internal/heap"
	"github.com/stretchr/testify/require"
)

func newRunner(t *testing.T, timeout time.Duration) (*Runner, *bolt.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "cache.db"), 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte("b"))
		return err
	}))
	t.Cleanup(func() { _ = db.Close() })
	h := heap.New(filepath.Join(dir, "heap"))
	return NewRunner(db, h, timeout), db
}

func TestWriteCommitsAndCleansUp(t *testing.T) {
	r, db := newRunner(t, time.Second)
	h := r.heap

	rel, _, err := h.Write([]byte("payload"))
	require.NoError(t, err)
	exists, _, err := h.Exists(rel)
	require.NoError(t, err)
	require.True(t, exists)

	err = r.Write(func(s *Scope) error {
		require.NoError(t, s.Tx.Bucket([]byte("b")).Put([]byte("k"), []byte("v")))
		s.Defer(rel)
		return nil
	})
	require.NoError(t, err)

	exists, _, err = h.Exists(rel)
	require.NoError(t, err)
	require.False(t, exists, "deferred heap file should be removed after commit")

	require.NoError(t, db.View(func(tx *bolt.Tx) error {
		require.Equal(t, []byte("v"), tx.Bucket([]byte("b")).Get([]byte("k")))
		return nil
	}))
}

func TestWriteRollsBackAndDiscardsCleanup(t *testing.T) {
	r, _ := newRunner(t, time.Second)
	h := r.heap

	rel, _, err := h.Write([]byte("payload"))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = r.Write(func(s *Scope) error {
		require.NoError(t, s.Tx.Bucket([]byte("b")).Put([]byte("k"), []byte("v")))
		s.Defer(rel)
		return boom
	})
	require.ErrorIs(t, err, boom)

	exists, _, err := h.Exists(rel)
	require.NoError(t, err)
	require.True(t, exists, "rolled-back transaction must not touch deferred heap files")
}

func TestWriteSerializesWritersWithinTimeout(t *testing.T) {
	r, _ := newRunner(t, 2*time.Second)

	var wg sync.WaitGroup
	var concurrent int32
	var maxConcurrent int32

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Write(func(s *Scope) error {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					cur := atomic.LoadInt32(&maxConcurrent)
					if n <= cur || atomic.CompareAndSwapInt32(&maxConcurrent, cur, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxConcurrent)
}

func TestWriteTimesOutWhenWriterSlotBusy(t *testing.T) {
	r, _ := newRunner(t, 30*time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = r.Write(func(s *Scope) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := r.Write(func(s *Scope) error { return nil })
	require.ErrorIs(t, err, cacheerr.ErrTimeout)
	close(release)
}

func TestWriteRetryRetriesUntilSlotFrees(t *testing.T) {
	r, _ := newRunner(t, 20*time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = r.Write(func(s *Scope) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	done := make(chan error, 1)
	go func() {
		done <- r.WriteRetry(true, func(s *Scope) error { return nil })
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WriteRetry did not complete after the writer slot freed")
	}
}
