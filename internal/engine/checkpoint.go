package engine

import (
	"os"

	"github.com/leengari/skiplog/internal/record"
)

// ===========================================================================
// CHECKPOINT
// ===========================================================================
//
// Live compaction: copy every live key into a fresh sibling file in
// one transaction, then atomically rename it over the source and swap
// the internal state so the external handle stays valid. The source
// file is never touched until the rename; any failure aborts the
// sibling and leaves the original as it was.
//
// ===========================================================================

// Checkpoint compacts the database in place. It takes its own write
// lock; a transaction must not be in flight on this handle.
func (e *Engine) Checkpoint() error {
	if e.cur != nil {
		return ErrLocked
	}
	if err := e.mf.WriteLock(); err != nil {
		return err
	}
	// adopt swaps e.mf, so unlock whichever file the handle holds on
	// return.
	defer func() { e.mf.Unlock() }()

	if err := e.readHeader(); err != nil {
		return err
	}
	e.end = e.hdr.CurrentSize

	if err := e.consistentLocked(); err != nil {
		return err
	}

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

	// Foreach-copy every live record. The copy callback stores into
	// the sibling through its own transaction.
	srcGen := e.hdr.Generation
	copyErr := e.foreachLocked(nil, func(key, val []byte) error {
		return ne.Store(key, val, t)
	})
	if copyErr != nil {
		return fail(copyErr)
	}

	if err := ne.consistentLocked(); err != nil {
		return fail(err)
	}
	ne.hdr.Generation = srcGen + 1
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

	e.log.Info("checkpoint complete", "path", e.path,
		"old_size", e.hdr.CurrentSize, "new_size", ne.hdr.CurrentSize,
		"generation", ne.hdr.Generation)
	return e.adopt(ne)
}

// foreachLocked iterates every live record under the lock already
// held, without the callback lock dance.
func (e *Engine) foreachLocked(prefix []byte, proc ProcFunc) error {
	if err := e.relocate(prefix); err != nil {
		return err
	}
	rec := e.loc.rec
	var err error
	if !e.loc.exact {
		rec, err = e.advance()
		if err != nil {
			return err
		}
	}
	for rec != nil {
		if err := proc(rec.Key(e.mf.Base()), rec.Val(e.mf.Base())); err != nil {
			return err
		}
		rec, err = e.advance()
		if err != nil {
			return err
		}
	}
	return nil
}

// consistentLocked runs the full consistency walk with the current
// view; see Consistent for the lock-taking wrapper.
func (e *Engine) consistentLocked() error {
	var prevKey []byte
	var prevAt [record.MaxLevel + 1]*record.Record
	var count uint64

	rec, err := e.readRecord(record.DummyOffset)
	if err != nil {
		return err
	}
	if rec.Type != record.TypeDummy || rec.Level != record.MaxLevel {
		e.log.Error("dummy record malformed", "path", e.path, "offset", record.DummyOffset)
		return ErrInternal
	}
	for i := 0; i <= record.MaxLevel; i++ {
		prevAt[i] = rec
	}

	for {
		next := rec.LiveLevel0(e.end)
		if next == 0 {
			break
		}
		nrec, err := e.readRecord(next)
		if err != nil {
			return err
		}
		if err := e.checkTail(nrec); err != nil {
			return err
		}

		key := nrec.Key(e.mf.Base())
		if prevKey != nil && e.compar(prevKey, key) >= 0 {
			e.log.Error("keys out of order", "path", e.path, "offset", nrec.Offset)
			return ErrInternal
		}

		// Every level of this record must be what its predecessor at
		// that level points to.
		for i := 0; i <= int(nrec.Level); i++ {
			if prevAt[i].PointerAt(i, e.end) != nrec.Offset {
				e.log.Error("broken pointer linkage", "path", e.path,
					"offset", nrec.Offset, "level", i, "pred", prevAt[i].Offset)
				return ErrInternal
			}
			prevAt[i] = nrec
		}

		if nrec.Type == record.TypeKey {
			count++
		}
		prevKey = append(prevKey[:0], key...)
		rec = nrec
	}

	if count != e.hdr.NumRecords {
		e.log.Error("record count mismatch", "path", e.path,
			"counted", count, "header", e.hdr.NumRecords)
		return ErrInternal
	}
	return nil
}

// Consistent verifies the whole file under a read lock.
func (e *Engine) Consistent() error {
	if e.cur != nil {
		return e.consistentLocked()
	}
	if err := e.mf.ReadLock(); err != nil {
		return err
	}
	defer e.mf.Unlock()
	if err := e.readHeader(); err != nil {
		return err
	}
	e.end = e.hdr.CurrentSize
	return e.consistentLocked()
}
