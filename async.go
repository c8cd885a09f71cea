package lsmkv

import "context"

// Async is the cooperative-concurrency adapter named in §9 ("async vs
// sync duality"): the same blocking operations as Engine, performed on a
// dedicated worker pool and delivered through a single-producer-
// single-consumer channel per call, so a caller using a cooperative
// runtime can treat every call as a suspension/cancellation point.
type Async struct {
	e    *Engine
	pool chan struct{} // bounds concurrent in-flight calls
}

// NewAsync wraps e with a worker pool of the given width.
func NewAsync(e *Engine, poolSize int) *Async {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Async{e: e, pool: make(chan struct{}, poolSize)}
}

type putResult struct{ err error }
type getResult struct {
	value []byte
	found bool
	err   error
}
type removeResult struct {
	value []byte
	found bool
	err   error
}
type rangeResult struct {
	kvs []KV
	err error
}
type flushResult struct{ err error }

// acquire/release implement the dedicated-pool discipline: blocking I/O
// runs only while a pool slot is held, never on the caller's goroutine
// directly, matching §5's "blocking I/O must be performed on a dedicated
// pool" for cooperative integration.
func (a *Async) acquire(ctx context.Context) error {
	select {
	case a.pool <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) release() { <-a.pool }

// Put performs Engine.Put on the worker pool, returning a channel that
// receives exactly one result.
func (a *Async) Put(ctx context.Context, key, value []byte) <-chan putResult {
	out := make(chan putResult, 1)
	go func() {
		if err := a.acquire(ctx); err != nil {
			out <- putResult{err: err}
			return
		}
		defer a.release()
		// Cancellation between WAL append_and_sync and the in-memory apply
		// is forbidden (§5): Engine.Put is uninterruptible once started, so
		// ctx is consulted only at acquire, never mid-call.
		out <- putResult{err: a.e.Put(key, value)}
	}()
	return out
}

// Get performs Engine.Get on the worker pool.
func (a *Async) Get(ctx context.Context, key []byte) <-chan getResult {
	out := make(chan getResult, 1)
	go func() {
		if err := a.acquire(ctx); err != nil {
			out <- getResult{err: err}
			return
		}
		defer a.release()
		v, ok, err := a.e.Get(key)
		out <- getResult{value: v, found: ok, err: err}
	}()
	return out
}

// Remove performs Engine.Remove on the worker pool.
func (a *Async) Remove(ctx context.Context, key []byte) <-chan removeResult {
	out := make(chan removeResult, 1)
	go func() {
		if err := a.acquire(ctx); err != nil {
			out <- removeResult{err: err}
			return
		}
		defer a.release()
		v, ok, err := a.e.Remove(key)
		out <- removeResult{value: v, found: ok, err: err}
	}()
	return out
}

// Range performs Engine.Range on the worker pool.
func (a *Async) Range(ctx context.Context, lo, hi []byte) <-chan rangeResult {
	out := make(chan rangeResult, 1)
	go func() {
		if err := a.acquire(ctx); err != nil {
			out <- rangeResult{err: err}
			return
		}
		defer a.release()
		kvs, err := a.e.Range(lo, hi)
		out <- rangeResult{kvs: kvs, err: err}
	}()
	return out
}

// Flush performs Engine.Flush on the worker pool. A cancelled flush whose
// SSTable file was already renamed still runs RegisterDurableCheckpoint
// to completion internally (§5: "partial publish is forbidden"); ctx
// only gates whether the call starts at all.
func (a *Async) Flush(ctx context.Context) <-chan flushResult {
	out := make(chan flushResult, 1)
	go func() {
		if err := a.acquire(ctx); err != nil {
			out <- flushResult{err: err}
			return
		}
		defer a.release()
		out <- flushResult{err: a.e.Flush()}
	}()
	return out
}
