// Package lsmkv is an embedded log-structured-merge key-value storage
// engine: a bounded mutable table backed by a write-ahead log, flushed to
// immutable SSTables and indexed in memory, with two-phase-commit
// transactions and deterministic crash recovery (§1, §2).
package lsmkv

import (
	"errors"
	"fmt"

	"github.com/arjvr/lsmkv/durability"
	"github.com/arjvr/lsmkv/memtable"
	"github.com/arjvr/lsmkv/sstable"
)

// Kind is the discriminated error taxonomy from §7.
type Kind int

const (
	CapacityExceeded Kind = iota
	KeyNotFound
	Corruption
	Io
	InvalidOperation
	TransactionNotFound
	AlreadyPrepared
	AlreadyCommitted
	AlreadyAborted
	LockPoisoned
)

func (k Kind) String() string {
	switch k {
	case CapacityExceeded:
		return "CapacityExceeded"
	case KeyNotFound:
		return "KeyNotFound"
	case Corruption:
		return "Corruption"
	case Io:
		return "Io"
	case InvalidOperation:
		return "InvalidOperation"
	case TransactionNotFound:
		return "TransactionNotFound"
	case AlreadyPrepared:
		return "AlreadyPrepared"
	case AlreadyCommitted:
		return "AlreadyCommitted"
	case AlreadyAborted:
		return "AlreadyAborted"
	case LockPoisoned:
		return "LockPoisoned"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying failure with the operation that produced it
// and its Kind, the shape every façade method returns on failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lsmkv: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("lsmkv: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify maps an error surfaced by a lower layer onto the façade's Kind
// taxonomy, so callers never need to know whether a failure originated in
// sstable, wal, durability, or memtable.
func classify(op string, err error) *Error {
	if err == nil {
		return nil
	}

	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr
	}

	switch {
	case errors.Is(err, memtable.ErrCapacityExceeded):
		return newError(op, CapacityExceeded, err)
	case errors.Is(err, sstable.ErrKeyNotFound):
		return newError(op, KeyNotFound, err)
	case errors.Is(err, sstable.ErrHeaderCorrupt),
		errors.Is(err, sstable.ErrEntryCorrupt),
		errors.Is(err, sstable.ErrMagicMismatch),
		errors.Is(err, sstable.ErrVersionMismatch),
		errors.Is(err, sstable.ErrStructuralOverrun),
		errors.Is(err, sstable.ErrUnreasonableSize):
		return newError(op, Corruption, err)
	case errors.Is(err, durability.ErrTransactionNotFound):
		return newError(op, TransactionNotFound, err)
	case errors.Is(err, durability.ErrAlreadyPrepared):
		return newError(op, AlreadyPrepared, err)
	case errors.Is(err, durability.ErrAlreadyCommitted):
		return newError(op, AlreadyCommitted, err)
	case errors.Is(err, durability.ErrAlreadyAborted):
		return newError(op, AlreadyAborted, err)
	case errors.Is(err, durability.ErrTransactionWrongState):
		return newError(op, InvalidOperation, err)
	default:
		return newError(op, Io, err)
	}
}
