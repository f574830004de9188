package engine

import (
	"bytes"
	"fmt"
	"slices"
)

// FilterFunc vets a record during Foreach before the proc callback
// runs. It is always called under the lock; return false to skip.
type FilterFunc func(key, val []byte) bool

// ProcFunc receives each matching record during Foreach. The slices
// are private copies. A non-nil error aborts the iteration and is
// returned from Foreach.
type ProcFunc func(key, val []byte) error

// ===========================================================================
// READ OPERATIONS
// ===========================================================================

// withRead runs fn with a consistent view: inside a transaction the
// handle already holds the write lock and sees its own writes;
// otherwise a transient read lock brackets the call.
func (e *Engine) withRead(t *Txn, fn func() error) error {
	if t != nil {
		if err := e.checkTxn(t); err != nil {
			return err
		}
		return fn()
	}
	if e.cur != nil {
		// A lock-free read during our own transaction: serve it from
		// the transaction's view rather than downgrading the flock.
		return fn()
	}
	if err := e.mf.ReadLock(); err != nil {
		return err
	}
	defer e.mf.Unlock()
	if err := e.readHeader(); err != nil {
		return err
	}
	e.end = e.hdr.CurrentSize
	return fn()
}

// Fetch returns a copy of the value stored under key.
func (e *Engine) Fetch(key []byte, t *Txn) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrNotFound)
	}
	var val []byte
	err := e.withRead(t, func() error {
		if err := e.findLoc(key); err != nil {
			return err
		}
		if !e.loc.exact {
			return ErrNotFound
		}
		val = slices.Clone(e.loc.rec.Val(e.mf.Base()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// FetchNext returns the smallest key strictly greater than key, with
// its value. An empty key yields the first record.
func (e *Engine) FetchNext(key []byte, t *Txn) ([]byte, []byte, error) {
	var fk, fv []byte
	err := e.withRead(t, func() error {
		if err := e.findLoc(key); err != nil {
			return err
		}
		next, err := e.advance()
		if err != nil {
			return err
		}
		if next == nil {
			return ErrNotFound
		}
		fk = slices.Clone(next.Key(e.mf.Base()))
		fv = slices.Clone(next.Val(e.mf.Base()))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return fk, fv, nil
}

// Foreach calls proc for every record whose key starts with prefix, in
// comparator order. With a nil transaction the read lock is dropped
// around each proc call so the callback may mutate the database
// through this handle; the iteration re-locates afterwards. With a
// transaction threaded in, the callback must reuse it and the lock is
// held throughout.
func (e *Engine) Foreach(prefix []byte, filter FilterFunc, proc ProcFunc, t *Txn) error {
	locked := false
	if t != nil {
		if err := e.checkTxn(t); err != nil {
			return err
		}
	} else if e.cur == nil {
		if err := e.mf.ReadLock(); err != nil {
			return err
		}
		locked = true
		defer func() {
			if locked {
				e.mf.Unlock()
			}
		}()
		if err := e.readHeader(); err != nil {
			return err
		}
		e.end = e.hdr.CurrentSize
	}

	if err := e.relocate(prefix); err != nil {
		return err
	}

	// An exact match on the prefix itself is the first candidate;
	// otherwise step to the first key past the frame.
	rec := e.loc.rec
	var err error
	if !e.loc.exact {
		rec, err = e.advance()
		if err != nil {
			return err
		}
	}

	for rec != nil {
		key := rec.Key(e.mf.Base())
		if len(prefix) > 0 && !bytes.HasPrefix(key, prefix) {
			break
		}

		if filter == nil || filter(key, rec.Val(e.mf.Base())) {
			kcopy := slices.Clone(key)
			vcopy := slices.Clone(rec.Val(e.mf.Base()))

			if locked {
				// Drop the lock for the callback, then re-acquire and
				// re-locate: the callback may have mutated anything.
				e.mf.Unlock()
				locked = false
				perr := proc(kcopy, vcopy)
				if lerr := e.mf.ReadLock(); lerr != nil {
					return lerr
				}
				locked = true
				if perr != nil {
					return perr
				}
				if err := e.readHeader(); err != nil {
					return err
				}
				e.end = e.hdr.CurrentSize
				if err := e.findLoc(kcopy); err != nil {
					return err
				}
			} else {
				if perr := proc(kcopy, vcopy); perr != nil {
					return perr
				}
			}
		}

		rec, err = e.advance()
		if err != nil {
			return err
		}
	}
	return nil
}

// ===========================================================================
// MUTATING OPERATIONS
// ===========================================================================

// withWrite runs fn inside t, or when t is nil wraps the single call
// in an implicit transaction (commit on success, abort on error).
func (e *Engine) withWrite(t *Txn, fn func(t *Txn) error) error {
	if t != nil {
		if err := e.checkTxn(t); err != nil {
			return err
		}
		return fn(t)
	}
	t2, err := e.Begin()
	if err != nil {
		return err
	}
	if err := fn(t2); err != nil {
		if aerr := e.Abort(t2); aerr != nil {
			e.log.Error("abort of one-shot transaction failed", "path", e.path, "error", aerr)
		}
		return err
	}
	return e.Commit(t2)
}

// Create stores key/value, failing with ErrExists when the key is
// already present.
func (e *Engine) Create(key, val []byte, t *Txn) error {
	return e.store(key, val, t, false)
}

// Store stores key/value, replacing any existing value.
func (e *Engine) Store(key, val []byte, t *Txn) error {
	return e.store(key, val, t, true)
}

func (e *Engine) store(key, val []byte, t *Txn, overwrite bool) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrNotFound)
	}
	return e.withWrite(t, func(t *Txn) error {
		if err := e.findLoc(key); err != nil {
			return err
		}
		if e.loc.exact && !overwrite {
			return fmt.Errorf("%w: %q", ErrExists, key)
		}
		if err := e.ensureDirty(t); err != nil {
			return err
		}
		return e.storeHere(val)
	})
}

// Delete removes key. A missing key is an error unless force is set.
func (e *Engine) Delete(key []byte, t *Txn, force bool) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrNotFound)
	}
	return e.withWrite(t, func(t *Txn) error {
		if err := e.findLoc(key); err != nil {
			return err
		}
		if !e.loc.exact {
			if force {
				return nil
			}
			return fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		if err := e.ensureDirty(t); err != nil {
			return err
		}
		return e.deleteHere()
	})
}
