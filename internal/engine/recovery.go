package engine

import (
	"fmt"
	"os"

	"github.com/leengari/skiplog/internal/record"
)

// ===========================================================================
// RECOVERY
// ===========================================================================
//
// Stage 1 repairs in place: pointers reaching past current_size are
// the remains of an uncommitted transaction; zero them, relink the
// higher levels from the surviving level-0 chain, recount, truncate.
// The level-0 chain itself survives by construction: the twin-slot
// rule with end = current_size never follows an uncommitted link.
//
// Stage 2 rebuilds: linearly scan the log, replay every transaction
// whose commit record survived into a fresh sibling file, and rename
// it over the source. Used only when stage 1 finds damage it cannot
// repair (a broken record inside the committed region).
//
// Both run under the write lock.
//
// ===========================================================================

// recover runs stage 1, falling back to stage 2.
func (e *Engine) recover() error {
	e.log.Info("recovering", "path", e.path, "current_size", e.hdr.CurrentSize, "file_size", e.mf.Size())
	err := e.recovery1()
	if err == nil {
		return nil
	}
	e.log.Error("pointer repair failed, rebuilding from commits", "path", e.path, "error", err)
	return e.recovery2()
}

// recovery1 is the in-place pointer/length repair.
func (e *Engine) recovery1() error {
	cs := e.hdr.CurrentSize
	if !e.hdr.Dirty() && cs == e.mf.Size() {
		// Already clean; recovery is idempotent.
		e.end = cs
		return nil
	}
	if cs < record.HeaderSize || cs > e.mf.Size() {
		return fmt.Errorf("%w: current_size %d outside file of %d bytes", ErrInternal, cs, e.mf.Size())
	}

	if !e.hdr.Dirty() {
		e.hdr.Flags |= record.FlagDirty
		if err := e.writeHeader(); err != nil {
			return err
		}
		if err := e.mf.Commit(); err != nil {
			return err
		}
	}

	// Walk the committed level-0 chain. pending[i] remembers the last
	// record whose level-i pointer reached into the dead tail; the
	// next record of sufficient level becomes its new target.
	e.end = cs
	var pending [record.MaxLevel + 1]uint64
	var count uint64

	rec, err := e.readRecord(record.DummyOffset)
	if err != nil {
		return err
	}
	for {
		if err := e.checkTail(rec); err != nil {
			return err
		}

		// Relink any pending higher-level pointers onto this record.
		for i := 1; i <= int(rec.Level); i++ {
			if pending[i] != 0 && pending[i] != rec.Offset {
				pred, err := e.readRecord(pending[i])
				if err != nil {
					return err
				}
				pred.Next[i+1] = rec.Offset
				if err := e.rewriteHead(pred); err != nil {
					return err
				}
				pending[i] = 0
			}
		}

		// Zero this record's own dead pointers.
		changed := false
		for s := 0; s < 2; s++ {
			if rec.Next[s] >= cs {
				rec.Next[s] = 0
				changed = true
			}
		}
		for i := 1; i <= int(rec.Level); i++ {
			if rec.Next[i+1] >= cs {
				rec.Next[i+1] = 0
				pending[i] = rec.Offset
				changed = true
			}
		}
		if changed {
			if err := e.rewriteHead(rec); err != nil {
				return err
			}
		}

		if rec.Type == record.TypeKey {
			count++
		}

		next := rec.LiveLevel0(cs)
		if next == 0 {
			break
		}
		rec, err = e.readRecord(next)
		if err != nil {
			return err
		}
	}

	if err := e.mf.Truncate(cs); err != nil {
		return err
	}
	if err := e.mf.Commit(); err != nil {
		return err
	}

	e.hdr.NumRecords = count
	e.hdr.Flags &^= record.FlagDirty
	// Bump the generation: an aborted transaction leaves (generation,
	// end) equal to the pre-transaction pair, which would let a stale
	// locator survive the rollback.
	e.hdr.Generation++
	if err := e.writeHeader(); err != nil {
		return err
	}
	if err := e.mf.Commit(); err != nil {
		return err
	}
	e.end = cs
	return nil
}

// recovery2 reconstructs the database from surviving commit records
// into a sibling file, then renames it over the source.
func (e *Engine) recovery2() error {
	newPath := e.path + ".NEW"
	os.Remove(newPath)

	ne, err := Open(newPath, Config{Create: true, MboxSort: e.mboxSort, NoCompact: true, Logger: e.log})
	if err != nil {
		return err
	}
	t, err := ne.Begin()
	if err != nil {
		ne.Close()
		os.Remove(newPath)
		return err
	}
	fail := func(err error) error {
		ne.Abort(t)
		ne.Close()
		os.Remove(newPath)
		return err
	}

	// Physical scan: records are contiguous, so walk by length until
	// the log stops decoding. Each commit record replays its range.
	size := e.mf.Size()
	e.end = size
	var replayed, skipped int

	dummy, err := e.readRecord(record.DummyOffset)
	if err != nil {
		return fail(err)
	}
	off := record.DummyOffset + dummy.Len
	for off < size {
		rec, err := e.readRecord(off)
		if err != nil {
			e.log.Warn("scan stopped at undecodable record", "path", e.path, "offset", off)
			break
		}
		if rec.Type == record.TypeCommit {
			if err := e.replayRange(ne, t, rec.Next[0], rec.Offset); err != nil {
				skipped++
				e.log.Warn("commit replay failed, skipping", "path", e.path, "offset", rec.Offset, "error", err)
			} else {
				replayed++
			}
		}
		off += rec.Len
	}

	if ne.hdr.NumRecords == 0 {
		e.log.Error("rebuild found no live records", "path", e.path, "commits_replayed", replayed, "commits_skipped", skipped)
		return fail(fmt.Errorf("%w: no records survived rebuild", ErrNotFound))
	}

	ne.hdr.Generation = e.hdr.Generation + 1
	if err := ne.commitLocked(t, true); err != nil {
		return fail(err)
	}
	t.done = true
	ne.cur = nil

	if err := ne.mf.Rename(e.path); err != nil {
		ne.mf.Unlock()
		ne.Close()
		os.Remove(newPath)
		return err
	}
	e.log.Info("rebuilt from commits", "path", e.path, "commits_replayed", replayed, "commits_skipped", skipped, "records", ne.hdr.NumRecords)
	return e.adopt(ne)
}

// replayRange replays the records of one transaction, [start, end),
// into the rebuild target.
func (e *Engine) replayRange(ne *Engine, t *Txn, start, end uint64) error {
	if start < record.HeaderSize || start > end {
		return fmt.Errorf("%w: bad replay range [%d, %d)", ErrInternal, start, end)
	}
	data := e.mf.Base()
	for off := start; off < end; {
		rec, err := e.readRecord(off)
		if err != nil {
			return err
		}
		switch rec.Type {
		case record.TypeKey:
			if err := e.checkTail(rec); err != nil {
				return err
			}
			if err := ne.Store(rec.Key(data), rec.Val(data), t); err != nil {
				return err
			}
		case record.TypeDelete:
			if err := e.checkTail(rec); err != nil {
				return err
			}
			if err := ne.Delete(rec.Key(data), t, true); err != nil {
				return err
			}
		}
		off += rec.Len
	}
	return nil
}

// adopt swaps ne's file and state into this handle, preserving the
// external handle identity. ne's transaction must be committed and its
// file already renamed onto e.path. The old descriptor is closed and
// the write lock re-taken on the adopted file.
func (e *Engine) adopt(ne *Engine) error {
	old := e.mf
	e.mf = ne.mf
	e.hdr = ne.hdr
	e.end = ne.end
	e.loc = locator{}

	// The caller held the write lock on the old file; re-assert it on
	// the adopted descriptor (idempotent when already exclusive).
	if err := e.mf.WriteLock(); err != nil {
		old.Close()
		return err
	}
	if err := old.Close(); err != nil {
		e.log.Warn("closing replaced file failed", "path", e.path, "error", err)
	}
	return nil
}
