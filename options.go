package lsmkv

import (
	"fmt"
	"path/filepath"

	"github.com/arjvr/lsmkv/durability"
)

// Options configures a newly opened Engine (§6 embedding API).
type Options struct {
	// MutableCapacityBytes bounds the in-memory write buffer; required.
	MutableCapacityBytes int

	// DisableBloomFilter turns off the membership filter on flushed
	// SSTables. Filters are enabled by default, so the zero value of
	// Options keeps them on.
	DisableBloomFilter bool

	// BloomFalsePositiveRate is the target false-positive rate for new
	// filters. Defaults to 0.01.
	BloomFalsePositiveRate float64

	// BloomPartitions, when > 1, selects the partitioned filter variant
	// sharded across that many sub-filters (§4.A).
	BloomPartitions int

	// CompactionSizeRatio and CompactionMinGroupSize parameterise
	// SelectCompactionGroup for callers that drive compaction themselves;
	// the engine does not run compaction automatically (§9).
	CompactionSizeRatio    float64
	CompactionMinGroupSize int
}

func (o Options) withDefaults() Options {
	if o.BloomFalsePositiveRate <= 0 {
		o.BloomFalsePositiveRate = 0.01
	}
	if o.CompactionSizeRatio <= 0 {
		o.CompactionSizeRatio = 2.0
	}
	if o.CompactionMinGroupSize <= 0 {
		o.CompactionMinGroupSize = 4
	}
	return o
}

// Open composes a mutable table, an ordered index, a durability manager,
// and an SSTable reader cache under basePath, running recovery before
// returning (§4.G, §6 directory layout).
func Open(basePath string, opts Options) (*Engine, error) {
	if opts.MutableCapacityBytes <= 0 {
		return nil, newError("open", InvalidOperation, fmt.Errorf("MutableCapacityBytes must be positive"))
	}
	opts = opts.withDefaults()

	walPath := filepath.Join(basePath, "wal", "wal.log")
	sstableDir := basePath

	mgr, err := durability.Open(walPath, sstableDir, durability.ManagerOptions{
		UseBloomFilter:         !opts.DisableBloomFilter,
		BloomFalsePositiveRate: opts.BloomFalsePositiveRate,
		Partitions:             opts.BloomPartitions,
	})
	if err != nil {
		return nil, classify("open", err)
	}

	e := newEngine(mgr, opts)
	if err := e.recoverLocked(); err != nil {
		mgr.Close()
		return nil, classify("open", err)
	}
	return e, nil
}
