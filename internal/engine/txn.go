package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/leengari/skiplog/internal/record"
)

// ===========================================================================
// TRANSACTION MANAGER
// ===========================================================================
//
// One transaction per handle. The dirty-bit protocol costs a committing
// transaction three fsyncs: one for the DIRTY header at the first
// mutation, then two at Commit (data, then header):
//
//   Begin            write lock; recover if the file is dirty
//   first mutation   set DIRTY, write + fsync the header (once)
//   ...mutations     plain appends and pointer rewrites, no fsync
//   Commit           append Commit record; fsync data;
//                    current_size = EOF, clear DIRTY; write + fsync header
//   Abort            end = current_size; pointer repair + truncate
//
// A transaction that never mutates costs zero fsyncs at Commit.
//
// ===========================================================================

// Txn is an open transaction. The engine validates identity by
// pointer equality against its single current-transaction slot.
type Txn struct {
	ID  string // correlation id for logs
	Num uint64

	eng   *Engine
	dirty bool
	done  bool
}

// Begin starts a transaction, taking the write lock and running
// recovery first if the file was left dirty.
func (e *Engine) Begin() (*Txn, error) {
	if e.cur != nil {
		return nil, fmt.Errorf("%w: transaction already in flight", ErrLocked)
	}
	if err := e.mf.WriteLock(); err != nil {
		return nil, err
	}
	if err := e.readHeader(); err != nil {
		e.mf.Unlock()
		return nil, err
	}
	e.end = e.hdr.CurrentSize

	if e.hdr.Dirty() || e.hdr.CurrentSize != e.mf.Size() {
		if err := e.recover(); err != nil {
			e.mf.Unlock()
			return nil, err
		}
	}

	e.txnNum++
	t := &Txn{ID: uuid.NewString(), Num: e.txnNum, eng: e}
	e.cur = t
	return t, nil
}

// checkTxn validates that t is this engine's live transaction.
func (e *Engine) checkTxn(t *Txn) error {
	if t == nil || t != e.cur || t.done {
		return fmt.Errorf("%w: stale or foreign transaction", ErrInternal)
	}
	return nil
}

// ensureDirty flips the DIRTY bit ahead of the transaction's first
// mutation. Everything after rides on the final commit fsyncs.
func (e *Engine) ensureDirty(t *Txn) error {
	if t.dirty {
		return nil
	}
	e.hdr.Flags |= record.FlagDirty
	if err := e.writeHeader(); err != nil {
		return err
	}
	if err := e.mf.Commit(); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

// Commit makes the transaction durable. The handle is invalidated
// regardless of outcome.
func (e *Engine) Commit(t *Txn) error {
	if err := e.checkTxn(t); err != nil {
		return err
	}
	dirty := t.dirty
	t.done = true
	e.cur = nil

	if !dirty {
		// Nothing written: no commit record, no fsyncs.
		return e.mf.Unlock()
	}

	if err := e.commitLocked(t, false); err != nil {
		e.log.Error("commit failed, attempting abort", "path", e.path, "txn", t.ID, "error", err)
		// The in-memory header may hold half-applied commit state;
		// roll back from what is actually on disk.
		if herr := e.readHeader(); herr != nil {
			e.log.Error("abort after failed commit also failed", "path", e.path, "txn", t.ID, "error", herr)
		} else if aerr := e.abortLocked(); aerr != nil {
			e.log.Error("abort after failed commit also failed", "path", e.path, "txn", t.ID, "error", aerr)
		}
		e.mf.Unlock()
		return err
	}
	if err := e.mf.Unlock(); err != nil {
		return err
	}

	e.maybeCheckpoint()
	return nil
}

// commitLocked appends the commit record and runs the two-fsync
// sequence. With repack set, the header's repack baseline is advanced
// to the new current size (checkpoint and rebuild use this).
func (e *Engine) commitLocked(t *Txn, repack bool) error {
	crec := &record.Record{Type: record.TypeCommit, Level: 0}
	crec.Next[0] = e.hdr.CurrentSize // first record of this transaction
	if err := e.appendRecord(crec, nil, nil); err != nil {
		return err
	}
	if err := e.mf.Commit(); err != nil { // data fsync
		return err
	}

	e.hdr.CurrentSize = e.end
	if repack {
		e.hdr.RepackSize = e.end
	}
	e.hdr.Flags &^= record.FlagDirty
	if err := e.writeHeader(); err != nil {
		return err
	}
	return e.mf.Commit() // header fsync
}

// Abort discards the transaction's writes. The handle is invalidated
// regardless of outcome.
func (e *Engine) Abort(t *Txn) error {
	if err := e.checkTxn(t); err != nil {
		return err
	}
	defer func() {
		t.done = true
		e.cur = nil
	}()

	if t.dirty {
		if err := e.abortLocked(); err != nil {
			e.mf.Unlock()
			return err
		}
	}
	return e.mf.Unlock()
}

// abortLocked rolls the file back to the last committed state by
// running pointer repair against current_size.
func (e *Engine) abortLocked() error {
	e.end = e.hdr.CurrentSize
	return e.recovery1()
}

// maybeCheckpoint applies the post-commit compaction policy.
func (e *Engine) maybeCheckpoint() {
	if e.nocompact {
		return
	}
	grown := e.hdr.CurrentSize - e.hdr.RepackSize
	if grown > MinRewrite && e.hdr.CurrentSize > e.hdr.RepackSize*RewriteRatio {
		if err := e.Checkpoint(); err != nil {
			e.log.Warn("post-commit checkpoint failed", "path", e.path, "error", err)
		}
	}
}
