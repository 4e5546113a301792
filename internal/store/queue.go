package store

import (
	"fmt"

	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/cacheerr"
)

// QueueMidpoint is the starting sequence value spec.md §4.4/§9 leaves
// as an implementer's choice: large enough to leave room below it for
// prepend (push to the front) while staying well inside the raw-int64
// key range.
const QueueMidpoint int64 = 500_000_000_000_000

func queueSeqKey(prefix string, back bool) []byte {
	suffix := "head"
	if back {
		suffix = "tail"
	}
	return []byte(prefix + "\x00" + suffix)
}

// NextQueueSeq returns the next synthetic integer key for a push to
// prefix's queue on the given side, and durably advances the counter so
// concurrent pushers (threads or processes) never collide: back grows
// upward from QueueMidpoint, front shrinks downward, per spec.md §4.4's
// push/pull discipline.
func NextQueueSeq(tx *bolt.Tx, prefix string, back bool) (int64, error) {
	key := queueSeqKey(prefix, back)
	b := tx.Bucket(BucketQueueSeq)

	current := QueueMidpoint
	if data := b.Get(key); data != nil {
		if err := json.Unmarshal(data, &current); err != nil {
			return 0, fmt.Errorf("%w: decode queue sequence: %v", cacheerr.ErrIO, err)
		}
	}

	var value, next int64
	if back {
		value, next = current, current+1
	} else {
		next = current - 1
		value = next
	}

	data, err := json.Marshal(next)
	if err != nil {
		return 0, fmt.Errorf("%w: encode queue sequence: %v", cacheerr.ErrIO, err)
	}
	if err := b.Put(key, data); err != nil {
		return 0, err
	}
	return value, nil
}
