// Package skiplog is an embedded, single-file, crash-safe ordered
// key/value store. The on-disk format is an append-only,
// skiplist-structured log supporting transactional insertion, update,
// deletion, prefix iteration, checkpoint compaction and post-crash
// recovery.
//
// A handle is obtained with Open; the same path opened twice within a
// process shares one refcounted engine. At most one transaction may be
// in flight per database; cross-process concurrency is mediated by
// advisory file locks (one writer, many readers).
package skiplog

import (
	"io"

	"github.com/leengari/skiplog/internal/engine"
	"github.com/leengari/skiplog/internal/registry"
	"github.com/leengari/skiplog/pkg/options"
)

// Error kinds, re-exported for callers; match with errors.Is.
var (
	ErrNotFound = engine.ErrNotFound
	ErrExists   = engine.ErrExists
	ErrLocked   = engine.ErrLocked
	ErrAgain    = engine.ErrAgain
	ErrInternal = engine.ErrInternal
)

// Txn is an open transaction on a DB.
type Txn = engine.Txn

// FilterFunc vets records during Foreach before the proc callback.
type FilterFunc = engine.FilterFunc

// ProcFunc receives each record during Foreach.
type ProcFunc = engine.ProcFunc

// Flags select open-time behavior for OpenFlags.
type Flags uint32

const (
	// Create the file when the path does not exist.
	Create Flags = 1 << iota
	// MboxSort orders keys in mailbox-hierarchy order.
	MboxSort
	// NoCompact disables automatic post-commit compaction.
	NoCompact
)

// DB is an open skiplog database handle.
type DB struct {
	eng *engine.Engine
}

// Open opens the database at path through the process-global registry.
func Open(path string, opts ...options.OptionFunc) (*DB, error) {
	o := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	eng, err := registry.Default.Open(path, engine.Config{
		Create:    o.Create,
		MboxSort:  o.MboxSort,
		NoCompact: o.NoCompact,
		Recover:   o.Recover,
		Logger:    o.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &DB{eng: eng}, nil
}

// OpenFlags opens with a flag word instead of functional options;
// extra options apply on top.
func OpenFlags(path string, flags Flags, opts ...options.OptionFunc) (*DB, error) {
	var pre []options.OptionFunc
	if flags&Create != 0 {
		pre = append(pre, options.WithCreate())
	}
	if flags&MboxSort != 0 {
		pre = append(pre, options.WithMboxSort())
	}
	if flags&NoCompact != 0 {
		pre = append(pre, options.WithNoCompact())
	}
	return Open(path, append(pre, opts...)...)
}

// Close releases this handle's reference; the engine is disposed when
// the last reference goes away.
func (db *DB) Close() error {
	return registry.Default.Close(db.eng)
}

// Path returns the database file's path.
func (db *DB) Path() string { return db.eng.Path() }

// Begin starts a transaction. ErrLocked when one is already in flight
// on this database, including through another handle on the same path.
func (db *DB) Begin() (*Txn, error) { return db.eng.Begin() }

// Commit makes t durable. t is invalidated regardless of outcome.
func (db *DB) Commit(t *Txn) error { return db.eng.Commit(t) }

// Abort discards t's writes. t is invalidated regardless of outcome.
func (db *DB) Abort(t *Txn) error { return db.eng.Abort(t) }

// Fetch returns the value stored under key. A nil t performs a
// one-shot read under a transient read lock.
func (db *DB) Fetch(key []byte, t *Txn) ([]byte, error) {
	return db.eng.Fetch(key, t)
}

// FetchNext returns the smallest key strictly greater than key, with
// its value. An empty key yields the first record.
func (db *DB) FetchNext(key []byte, t *Txn) (foundKey, value []byte, err error) {
	return db.eng.FetchNext(key, t)
}

// Foreach calls proc for every record whose key starts with prefix, in
// comparator order. With a nil t the read lock is dropped around each
// proc call, so the callback may mutate the database through this
// handle; with a transaction threaded in the callback must reuse it.
func (db *DB) Foreach(prefix []byte, filter FilterFunc, proc ProcFunc, t *Txn) error {
	return db.eng.Foreach(prefix, filter, proc, t)
}

// Create stores key/value, failing with ErrExists when present.
// A nil t wraps the call in an implicit transaction.
func (db *DB) Create(key, val []byte, t *Txn) error {
	return db.eng.Create(key, val, t)
}

// Store stores key/value, replacing any existing value.
func (db *DB) Store(key, val []byte, t *Txn) error {
	return db.eng.Store(key, val, t)
}

// Delete removes key; a missing key is an error unless force is set.
func (db *DB) Delete(key []byte, t *Txn, force bool) error {
	return db.eng.Delete(key, t, force)
}

// Dump writes a diagnostic listing to w; detail 1 lists every
// physical record, including superseded ones.
func (db *DB) Dump(w io.Writer, detail int) error {
	return db.eng.Dump(w, detail)
}

// Consistent walks the whole file verifying order, linkage, CRCs and
// the record count; ErrInternal on any violation.
func (db *DB) Consistent() error { return db.eng.Consistent() }

// Checkpoint compacts the database into a fresh file and atomically
// renames it into place. The handle remains valid.
func (db *DB) Checkpoint() error { return db.eng.Checkpoint() }
