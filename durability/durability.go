// Package durability implements transactions, checkpoint lifecycle,
// atomic SSTable publish, and crash recovery (§4.F). It is the teacher's
// segmentmanager idea — scan a directory of numbered files, pick the
// newest valid one, rotate forward — generalised from rotating log
// segments to checkpointed SSTable generations plus a write-ahead log.
package durability

import "errors"

// Sentinel errors for the 2PC state-machine violations named in §7. The
// engine façade maps these onto its own Kind taxonomy.
var (
	ErrTransactionNotFound     = errors.New("durability: transaction not found")
	ErrTransactionWrongState   = errors.New("durability: transaction in wrong state for operation")
	ErrAlreadyPrepared         = errors.New("durability: transaction already prepared")
	ErrAlreadyCommitted        = errors.New("durability: transaction already committed")
	ErrAlreadyAborted          = errors.New("durability: transaction already aborted")
	ErrNoValidSSTable          = errors.New("durability: no valid sstable found")
	ErrCheckpointNotDurable    = errors.New("durability: checkpoint was never registered durable")
)
