package durability

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/arjvr/lsmkv/sstable"
	"github.com/arjvr/lsmkv/wal"
)

// RecoveredState is the outcome of Recover: an ordered key→value map (with
// tombstones already collapsed away) plus the checkpoint id it was
// published under, ready for the engine façade to load into a fresh
// mutable table and index.
type RecoveredState struct {
	Entries         []SnapshotEntry
	CheckpointID    uint64
	SSTablePath     string // the freshly republished SSTable backing CheckpointID
	BaseSSTablePath string // "" if recovery started from an empty table
}

// Recover implements §4.F's recovery algorithm: find the newest SSTable
// that passes integrity verification (or start empty), replay the WAL
// from that checkpoint's start position tolerating a torn tail, apply
// transactional records only for transactions whose Commit record is
// present, then re-flush the recovered state as a fresh durable
// checkpoint and truncate the WAL. Running Recover twice in a row is
// idempotent (P7): the second run finds the just-published checkpoint,
// verifies it, and replays an empty WAL tail.
func (m *Manager) Recover() (*RecoveredState, error) {
	paths, err := m.ListSSTables()
	if err != nil {
		return nil, err
	}

	// Keep checkpoint ids monotone across process restarts: new ids must
	// sort after every SSTable already on disk.
	for _, p := range paths {
		if id, err := parseCheckpointIDFromPath(p); err == nil && id > m.nextCheckpointID.Load() {
			m.nextCheckpointID.Store(id)
		}
	}

	state := make(map[string]SnapshotEntry)
	var baseID uint64
	var basePath string

	// Newest to oldest: the first file that verifies is the recovery base.
	for i := len(paths) - 1; i >= 0; i-- {
		if err := verifySSTable(paths[i], false); err != nil {
			continue
		}
		id, err := parseCheckpointIDFromPath(paths[i])
		if err != nil {
			continue
		}
		r, err := sstable.Open(paths[i])
		if err != nil {
			continue
		}
		entries, err := r.Entries()
		r.Close()
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.Tombstone {
				delete(state, string(e.Key))
				continue
			}
			state[string(e.Key)] = SnapshotEntry{Key: e.Key, Value: e.Value}
		}
		baseID = id
		basePath = paths[i]
		break
	}

	startPos := int64(0)
	if basePath != "" {
		pos, err := m.wal.GetCheckpointPosition(baseID)
		if err != nil {
			return nil, err
		}
		startPos = pos
	}

	if err := m.replayFrom(startPos, state); err != nil {
		return nil, err
	}

	out := make([]SnapshotEntry, 0, len(state))
	for _, e := range state {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })

	newID, newPath, err := m.republishRecoveredState(out)
	if err != nil {
		return nil, err
	}

	return &RecoveredState{Entries: out, CheckpointID: newID, SSTablePath: newPath, BaseSSTablePath: basePath}, nil
}

// replayFrom reads WAL records from position, applying non-transactional
// records immediately and buffering transactional ones until a Commit or
// Abort resolves them. Only one transaction bracket can be open at a
// time by construction (manager.go's ExecuteTransaction/ExecuteBatch hold
// the WAL lock for the whole bracket), so a torn or absent terminal
// record for the currently open transaction is discarded along with the
// torn tail itself (§4.F step 6).
func (m *Manager) replayFrom(position int64, state map[string]SnapshotEntry) error {
	r, err := wal.NewReader(m.wal.Path())
	if err != nil {
		return err
	}
	defer r.Close()

	if position > 0 {
		if err := r.SeekTo(m.wal.ToPhysicalOffset(position)); err != nil {
			return err
		}
	}

	var buffered []wal.Record
	inTransaction := false

	applyRecord := func(rec wal.Record) error {
		switch rec.Type {
		case wal.Insert:
			key, value, err := wal.DecodeInsertPayload(rec.Data)
			if err != nil {
				return err
			}
			state[string(key)] = SnapshotEntry{Key: key, Value: value}
		case wal.Remove:
			delete(state, string(rec.Data))
		case wal.Clear:
			for k := range state {
				delete(state, k)
			}
		}
		return nil
	}

	for {
		rec, _, err := r.ReadNextRecord()
		if err != nil {
			return err
		}
		if rec == nil {
			break // clean end of log, or a torn tail — both end the scan without error
		}

		switch rec.Type {
		case wal.TransactionBegin:
			inTransaction = true
			buffered = buffered[:0]
		case wal.TransactionCommit:
			for _, b := range buffered {
				if err := applyRecord(b); err != nil {
					return err
				}
			}
			buffered = buffered[:0]
			inTransaction = false
		case wal.TransactionAbort:
			buffered = buffered[:0]
			inTransaction = false
		case wal.TransactionPrepare:
			// no-op during replay; commit or abort resolves the buffer
		case wal.CheckpointStart, wal.CheckpointEnd:
			// informational markers, already consumed by the position scan
		default:
			if inTransaction {
				buffered = append(buffered, *rec)
			} else {
				if err := applyRecord(*rec); err != nil {
					return err
				}
			}
		}
	}

	// A transaction left Started/Prepared at end-of-log never committed;
	// its buffered operations are discarded, matching invariant (1).
	return nil
}

func (m *Manager) republishRecoveredState(entries []SnapshotEntry) (uint64, string, error) {
	id, err := m.BeginCheckpoint()
	if err != nil {
		return 0, "", err
	}

	path, err := m.WriteSSTableAtomically(entries, id)
	if err != nil {
		return 0, "", err
	}

	if err := m.EndCheckpoint(id); err != nil {
		return 0, "", err
	}

	if err := m.RegisterDurableCheckpoint(id, path); err != nil {
		return 0, "", fmt.Errorf("durability: register recovered checkpoint: %w", err)
	}

	return id, path, nil
}
