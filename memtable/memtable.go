// Package memtable implements the mutable table: the bounded,
// byte-accounted, ordered write buffer that absorbs the freshest writes
// before they are flushed to an SSTable. It is backed by the generic skip
// list in internal/skiplist, the same structure the teacher's memtable
// package used, now made byte-key and capacity aware.
package memtable

import (
	"bytes"
	"fmt"
	"iter"
	"sync"

	"github.com/arjvr/lsmkv/internal/skiplist"
)

// entryOverhead is the fixed per-entry bookkeeping cost added to every
// key+value byte count, so an all-tombstone table still has a cost.
const entryOverhead = 24

// ErrCapacityExceeded is returned by Insert when applying the entry would
// push size_bytes past the table's capacity. The table is left unchanged.
var ErrCapacityExceeded = fmt.Errorf("memtable: capacity exceeded")

// Entry is the value type that lives inside the mutable table: either a
// live value or a tombstone recording a delete.
type Entry struct {
	Value     []byte
	Tombstone bool
}

func (e Entry) cost(key []byte) int {
	return len(key) + len(e.Value) + entryOverhead
}

func lessBytes(a, b []byte) bool { return bytes.Compare(a, b) < 0 }

// Table is a thread-safe ordered byte-key map bounded by a fixed byte
// capacity. A single-writer/multi-reader discipline is enforced by an
// RWMutex: Get/Range/All/Len/IsEmpty/SizeBytes/IsFull take the read lock,
// Insert/Remove/Clear take the write lock.
type Table struct {
	mu       sync.RWMutex
	list     *skiplist.List[[]byte, Entry]
	size     int
	capacity int
}

// New constructs an empty table with the given byte capacity.
func New(capacity int) *Table {
	return &Table{
		list:     skiplist.New[[]byte, Entry](lessBytes),
		capacity: capacity,
	}
}

// Insert creates or overwrites the entry for key. If the resulting delta
// would push size_bytes past capacity, it fails with
// ErrCapacityExceeded and leaves the table unchanged. It returns the prior
// entry, if any existed.
func (t *Table) Insert(key []byte, e Entry) (prior Entry, hadPrior bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.list.Get(key)
	delta := e.cost(key)
	if ok {
		delta -= existing.cost(key)
	}

	if t.size+delta > t.capacity {
		return Entry{}, false, ErrCapacityExceeded
	}

	prior, hadPrior = t.list.Put(key, e)
	t.size += delta
	return prior, hadPrior, nil
}

// Get returns the entry stored for key, if any.
func (t *Table) Get(key []byte) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.list.Get(key)
}

// Remove deletes key from the table outright (not a logical tombstone —
// callers that want delete-as-tombstone semantics Insert an Entry with
// Tombstone set instead). Absent keys are not an error: the bool reports
// whether a prior entry existed.
func (t *Table) Remove(key []byte) (prior Entry, hadPrior bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prior, hadPrior = t.list.Delete(key)
	if hadPrior {
		t.size -= prior.cost(key)
	}
	return prior, hadPrior
}

// Range returns a snapshot of entries with keys in [lo, hi), in key order.
// A nil lo/hi is an open bound on that side.
func (t *Table) Range(lo, hi []byte) []skiplist.Record[[]byte, Entry] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var loPtr, hiPtr *[]byte
	if lo != nil {
		loPtr = &lo
	}
	if hi != nil {
		hiPtr = &hi
	}

	var out []skiplist.Record[[]byte, Entry]
	for r := range t.list.Range(loPtr, hiPtr) {
		out = append(out, r)
	}
	return out
}

// All returns every entry in ascending key order as of the call. It
// collects a snapshot slice while holding the read lock and hands back an
// iterator over that slice, so a caller ranging over the result is never
// racing a concurrent Insert/Clear.
func (t *Table) All() iter.Seq[skiplist.Record[[]byte, Entry]] {
	t.mu.RLock()
	var snapshot []skiplist.Record[[]byte, Entry]
	for r := range t.list.All() {
		snapshot = append(snapshot, r)
	}
	t.mu.RUnlock()

	return func(yield func(skiplist.Record[[]byte, Entry]) bool) {
		for _, r := range snapshot {
			if !yield(r) {
				return
			}
		}
	}
}

// Clear removes all entries and resets the byte accumulator to zero.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list.Clear()
	t.size = 0
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.list.Len()
}

// IsEmpty reports whether the table holds no entries.
func (t *Table) IsEmpty() bool { return t.Len() == 0 }

// SizeBytes returns the current byte accumulator.
func (t *Table) SizeBytes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// IsFull reports whether size_bytes is at or past capacity.
func (t *Table) IsFull() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size >= t.capacity
}

// MaxCapacity returns the table's fixed byte capacity.
func (t *Table) MaxCapacity() int { return t.capacity }
