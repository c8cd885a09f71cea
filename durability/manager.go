package durability

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	natomic "github.com/natefinch/atomic"

	"github.com/arjvr/lsmkv/sstable"
	"github.com/arjvr/lsmkv/wal"
)

// sstableFilePattern matches published SSTable generations, adapted from
// the teacher's segmentFileNamePattern (segmentmanager.go) but keyed on
// (checkpoint id, timestamp) instead of a single rotating sequence
// number.
var sstableFilePattern = regexp.MustCompile(`^sstable_(\d+)_(\d+)\.sst$`)

// CheckpointStatus tracks whether a checkpoint's SSTable is verified and
// the WAL has been truncated to its start.
type CheckpointStatus int

const (
	Created CheckpointStatus = iota
	Durable
)

// Checkpoint is the (id, start-time, end-time?, sstable-path?, status)
// record named in §3.
type Checkpoint struct {
	ID          uint64
	StartTime   time.Time
	EndTime     *time.Time
	SSTablePath string
	Status      CheckpointStatus
	startPos    int64 // WAL offset immediately after this id's CheckpointStart record
}

// ManagerOptions configures SSTable generation during checkpointing.
type ManagerOptions struct {
	UseBloomFilter    bool
	BloomFalsePositiveRate float64
	Partitions        int
}

// Manager owns a WAL, an SSTable directory, checkpoint metadata, and the
// transaction registry (§4.F). Every method that mutates WAL or
// checkpoint/transaction state takes mu, matching §5's "the durability
// manager holds an exclusive lock for WAL writes and checkpoint state;
// transaction registry mutations are under this lock".
//
// ExecuteTransaction/ExecuteBatch hold mu for the entire Begin-through-
// terminal bracket rather than releasing it between individual appends.
// The wire format (§4.E) carries no per-record transaction id, so the
// only way replay can attribute an Insert/Remove/Clear record to the
// right transaction is positionally — by tracking the single
// currently-open bracket as the log is scanned. Holding the lock across
// the whole bracket is what makes that positional attribution correct:
// no other transaction's records can be interleaved between this one's
// Begin and its Commit/Abort.
type Manager struct {
	mu sync.Mutex

	wal        *wal.Writer
	sstableDir string
	opts       ManagerOptions

	checkpoints  map[uint64]*Checkpoint
	transactions map[uint64]*tracker

	nextTxID         atomic.Uint64
	nextCheckpointID atomic.Uint64
	latestDurable    atomic.Uint64
}

// Open opens (or creates) the WAL at walPath and the SSTable directory at
// sstableDir, returning a ready Manager. It does not run recovery; call
// Recover explicitly (§4.G engine façade composes the two).
func Open(walPath, sstableDir string, opts ManagerOptions) (*Manager, error) {
	if err := os.MkdirAll(sstableDir, 0o755); err != nil {
		return nil, fmt.Errorf("durability: create sstable dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(walPath), 0o755); err != nil {
		return nil, fmt.Errorf("durability: create wal dir: %w", err)
	}

	w, err := wal.Open(walPath)
	if err != nil {
		return nil, err
	}

	if opts.BloomFalsePositiveRate <= 0 {
		opts.BloomFalsePositiveRate = 0.01
	}

	return &Manager{
		wal:          w,
		sstableDir:   sstableDir,
		opts:         opts,
		checkpoints:  make(map[uint64]*Checkpoint),
		transactions: make(map[uint64]*tracker),
	}, nil
}

// Close releases the WAL file handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wal.Close()
}

// LatestDurableCheckpoint returns the id of the newest checkpoint that has
// been registered durable, or 0 if none has.
func (m *Manager) LatestDurableCheckpoint() uint64 {
	return m.latestDurable.Load()
}

// --- Transaction state machine -------------------------------------------

func (m *Manager) beginTransactionLocked() (uint64, error) {
	id := m.nextTxID.Add(1)
	if _, err := m.wal.AppendAndSync(wal.Record{Type: wal.TransactionBegin, Data: wal.IDPayload(id)}); err != nil {
		return 0, err
	}
	m.transactions[id] = &tracker{id: id, status: Started, startTime: time.Now()}
	return id, nil
}

func (m *Manager) logOpLocked(id uint64, op Operation) error {
	tr, ok := m.transactions[id]
	if !ok {
		return ErrTransactionNotFound
	}
	if tr.status != Started {
		return fmt.Errorf("%w: transaction %d is %s", ErrTransactionWrongState, id, tr.status)
	}

	rec := operationToRecord(op)
	_, err := m.wal.AppendAndSync(rec)
	return err
}

func operationToRecord(op Operation) wal.Record {
	switch op.Kind {
	case OpInsert:
		return wal.Record{Type: wal.Insert, Data: wal.InsertPayload(op.Key, op.Value)}
	case OpRemove:
		return wal.Record{Type: wal.Remove, Data: op.Key}
	default:
		return wal.Record{Type: wal.Clear}
	}
}

func (m *Manager) prepareTransactionLocked(id uint64) error {
	tr, ok := m.transactions[id]
	if !ok {
		return ErrTransactionNotFound
	}
	switch tr.status {
	case Prepared:
		return ErrAlreadyPrepared
	case Committed:
		return ErrAlreadyCommitted
	case Aborted:
		return ErrAlreadyAborted
	}
	if _, err := m.wal.AppendAndSync(wal.Record{Type: wal.TransactionPrepare, Data: wal.IDPayload(id)}); err != nil {
		return err
	}
	now := time.Now()
	tr.status = Prepared
	tr.prepareTime = &now
	return nil
}

func (m *Manager) commitTransactionLocked(id uint64) error {
	tr, ok := m.transactions[id]
	if !ok {
		return ErrTransactionNotFound
	}
	switch tr.status {
	case Committed:
		return ErrAlreadyCommitted
	case Aborted:
		return ErrAlreadyAborted
	}
	if _, err := m.wal.AppendAndSync(wal.Record{Type: wal.TransactionCommit, Data: wal.IDPayload(id)}); err != nil {
		return err
	}
	now := time.Now()
	tr.status = Committed
	tr.endTime = &now
	delete(m.transactions, id)
	return nil
}

func (m *Manager) abortTransactionLocked(id uint64) error {
	tr, ok := m.transactions[id]
	if !ok {
		return ErrTransactionNotFound
	}
	switch tr.status {
	case Committed:
		return ErrAlreadyCommitted
	case Aborted:
		return ErrAlreadyAborted
	}
	if _, err := m.wal.AppendAndSync(wal.Record{Type: wal.TransactionAbort, Data: wal.IDPayload(id)}); err != nil {
		return err
	}
	now := time.Now()
	tr.status = Aborted
	tr.endTime = &now
	delete(m.transactions, id)
	return nil
}

// ExecuteTransaction brackets a single operation between Begin and
// Commit, the convenience path the engine façade's put/remove/clear
// delegate to.
func (m *Manager) ExecuteTransaction(op Operation) error {
	return m.ExecuteBatch([]Operation{op})
}

// ExecuteBatch brackets multiple operations between one Begin and one
// Commit, aborting and propagating the error if any operation fails to
// log.
func (m *Manager) ExecuteBatch(ops []Operation) error {
	if len(ops) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.beginTransactionLocked()
	if err != nil {
		return err
	}

	for _, op := range ops {
		if err := m.logOpLocked(id, op); err != nil {
			_ = m.abortTransactionLocked(id)
			return err
		}
	}

	if err := m.prepareTransactionLocked(id); err != nil {
		_ = m.abortTransactionLocked(id)
		return err
	}

	return m.commitTransactionLocked(id)
}

// --- Checkpoint lifecycle -------------------------------------------------

// BeginCheckpoint logs CheckpointStart and registers Created metadata,
// returning the new monotone checkpoint id (§9's open-issue resolution:
// a counter, not wall-clock seconds, avoiding collisions under
// high-frequency checkpoints).
func (m *Manager) BeginCheckpoint() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextCheckpointID.Add(1)
	pos, err := m.wal.AppendAndSync(wal.Record{Type: wal.CheckpointStart, Data: wal.IDPayload(id)})
	if err != nil {
		return 0, err
	}

	m.checkpoints[id] = &Checkpoint{
		ID:        id,
		StartTime: time.Now(),
		Status:    Created,
		startPos:  pos,
	}
	return id, nil
}

// SnapshotEntry is one key's state as materialised from the mutable
// table for checkpointing.
type SnapshotEntry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// WriteSSTableAtomically writes snapshot to tmp_sstable_{id}_{ts}.sst,
// verifies it, then atomically renames it to sstable_{id}_{ts}.sst via
// natefinch/atomic (§4.F step 3). On verification failure the temp file
// is unlinked and the error returned; no partially published file is
// ever left under the final name.
func (m *Manager) WriteSSTableAtomically(snapshot []SnapshotEntry, id uint64) (string, error) {
	ts := time.Now().UnixNano()
	tmpName := fmt.Sprintf("tmp_sstable_%d_%d.sst", id, ts)
	finalName := fmt.Sprintf("sstable_%d_%d.sst", id, ts)
	tmpPath := filepath.Join(m.sstableDir, tmpName)
	finalPath := filepath.Join(m.sstableDir, finalName)

	w, err := sstable.NewWriter(tmpPath, sstable.NewWriterOptions{
		ExpectedEntries:   uint64(len(snapshot)),
		UseBloom:          m.opts.UseBloomFilter,
		FalsePositiveRate: m.opts.BloomFalsePositiveRate,
		Partitions:        m.opts.Partitions,
	})
	if err != nil {
		return "", err
	}

	for _, e := range snapshot {
		if e.Tombstone {
			err = w.WriteTombstone(e.Key)
		} else {
			err = w.WriteEntry(e.Key, e.Value)
		}
		if err != nil {
			_ = w.Abort()
			return "", err
		}
	}

	if err := w.Finalize(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	if err := verifySSTable(tmpPath, false); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := natomic.WriteFile(finalPath, f); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("durability: publish sstable: %w", err)
	}
	f.Close()
	_ = os.Remove(tmpPath)

	df, err := os.Open(finalPath)
	if err == nil {
		_ = df.Sync()
		df.Close()
	}

	return finalPath, nil
}

func verifySSTable(path string, deep bool) error {
	r, err := sstable.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	if deep {
		return r.VerifyIntegrity()
	}
	return nil
}

// EndCheckpoint logs CheckpointEnd. An incomplete checkpoint — no
// CheckpointEnd record, or a failed RegisterDurableCheckpoint — leaves
// the WAL intact; the next startup treats it as if it never happened.
func (m *Manager) EndCheckpoint(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.checkpoints[id]; !ok {
		return fmt.Errorf("durability: unknown checkpoint %d", id)
	}
	_, err := m.wal.AppendAndSync(wal.Record{Type: wal.CheckpointEnd, Data: wal.IDPayload(id)})
	return err
}

// RegisterDurableCheckpoint verifies the SSTable's header integrity,
// upgrades the checkpoint to Durable, publishes it as the latest durable
// checkpoint, and truncates the WAL at the checkpoint's start position.
func (m *Manager) RegisterDurableCheckpoint(id uint64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[id]
	if !ok {
		return fmt.Errorf("durability: unknown checkpoint %d", id)
	}

	if err := verifySSTable(path, false); err != nil {
		return err
	}

	now := time.Now()
	cp.SSTablePath = path
	cp.Status = Durable
	cp.EndTime = &now

	if id > m.latestDurable.Load() {
		m.latestDurable.Store(id)
	}

	return m.wal.Truncate(cp.startPos)
}

// --- SSTable enumeration ---------------------------------------------------

// sstableFile is one entry discovered by ListSSTables, adapted from the
// teacher's segmentEntry/SegmentEntries sort pattern (segmentmanager.go)
// generalised to a (checkpoint id, timestamp, path) triple.
type sstableFile struct {
	id   uint64
	ts   int64
	path string
}

type byID []sstableFile

func (a byID) Len() int           { return len(a) }
func (a byID) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byID) Less(i, j int) bool { return a[i].id < a[j].id }

// ListSSTables enumerates published SSTables under the manager's
// directory, sorted by checkpoint id ascending (§4.F recovery step 1).
func (m *Manager) ListSSTables() ([]string, error) {
	entries, err := os.ReadDir(m.sstableDir)
	if err != nil {
		return nil, err
	}

	var files []sstableFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		match := sstableFilePattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		var id uint64
		var ts int64
		if _, err := fmt.Sscanf(match[1], "%d", &id); err != nil {
			continue
		}
		if _, err := fmt.Sscanf(match[2], "%d", &ts); err != nil {
			continue
		}
		files = append(files, sstableFile{id: id, ts: ts, path: filepath.Join(m.sstableDir, e.Name())})
	}

	sort.Sort(byID(files))

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

func parseCheckpointIDFromPath(path string) (uint64, error) {
	match := sstableFilePattern.FindStringSubmatch(filepath.Base(path))
	if match == nil {
		return 0, fmt.Errorf("durability: %s does not match the sstable naming convention", path)
	}
	var id uint64
	_, err := fmt.Sscanf(match[1], "%d", &id)
	return id, err
}
