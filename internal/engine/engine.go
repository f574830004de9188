// Package engine implements the skiplog core: an append-only,
// skiplist-structured log on a memory-mapped file, with transactional
// mutation, prefix iteration, checkpoint compaction and two-stage
// crash recovery.
package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/leengari/skiplog/internal/mapped"
	"github.com/leengari/skiplog/internal/record"
)

// Compaction trigger policy: checkpoint after a commit once the file
// has grown MinRewrite bytes past the last repack baseline and to more
// than RewriteRatio times it.
const (
	MinRewrite   = uint64(16 * datasize.KB)
	RewriteRatio = 2
)

// Config carries the open-time settings for one engine handle.
type Config struct {
	Create    bool
	MboxSort  bool
	NoCompact bool
	Recover   bool // run recovery at open when the file is dirty
	Logger    *slog.Logger
}

// Engine is one open skiplog database. Handles are not safe for
// concurrent use; cross-process concurrency is mediated by the mapped
// file's advisory locks.
type Engine struct {
	mf   *mapped.File
	path string

	hdr record.Header
	end uint64 // end of valid data: current_size, or EOF inside a txn

	loc    locator
	cur    *Txn
	txnNum uint64

	compar    CompareFunc
	mboxSort  bool
	nocompact bool
	log       *slog.Logger
	rng       *rand.Rand
}

// Open opens (or with cfg.Create, creates) the database at path.
func Open(path string, cfg Config) (*Engine, error) {
	mf, err := mapped.Open(path, cfg.Create)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	e := &Engine{
		mf:        mf,
		path:      mf.Fname(),
		compar:    CompareRaw,
		mboxSort:  cfg.MboxSort,
		nocompact: cfg.NoCompact,
		log:       cfg.Logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if cfg.MboxSort {
		e.compar = CompareMbox
	}

	if err := e.mf.WriteLock(); err != nil {
		mf.Close()
		return nil, err
	}
	if e.mf.Size() == 0 {
		if !cfg.Create {
			e.mf.Unlock()
			mf.Close()
			return nil, fmt.Errorf("%w: %s is empty", ErrNotFound, path)
		}
		if err := e.initFile(); err != nil {
			e.mf.Unlock()
			mf.Close()
			return nil, err
		}
	}
	if err := e.readHeader(); err != nil {
		e.mf.Unlock()
		mf.Close()
		return nil, err
	}
	e.end = e.hdr.CurrentSize

	if cfg.Recover && (e.hdr.Dirty() || e.hdr.CurrentSize != e.mf.Size()) {
		if err := e.recover(); err != nil {
			e.mf.Unlock()
			mf.Close()
			return nil, err
		}
	}
	if err := e.mf.Unlock(); err != nil {
		mf.Close()
		return nil, err
	}
	return e, nil
}

// initFile lays down a fresh header and the dummy record. Called under
// the write lock on a zero-length file.
func (e *Engine) initFile() error {
	dummy := &record.Record{Type: record.TypeDummy, Level: record.MaxLevel}
	dummyBuf := record.Encode(dummy, nil, nil)

	hdr := record.Header{
		Version:     record.Version,
		Generation:  1,
		CurrentSize: record.DummyOffset + dummy.Len,
		RepackSize:  record.DummyOffset + dummy.Len,
	}
	if _, err := e.mf.Pwritev([][]byte{record.EncodeHeader(&hdr), dummyBuf}, 0); err != nil {
		return err
	}
	return e.mf.Commit()
}

// readHeader decodes the header from the map. Callers refresh e.end
// themselves: committed readers use CurrentSize, a live transaction
// keeps tracking EOF.
func (e *Engine) readHeader() error {
	if e.mf.Size() < record.HeaderSize {
		e.log.Error("file too short for header", "path", e.path, "size", e.mf.Size())
		return fmt.Errorf("%w: %s: short header", ErrInternal, e.path)
	}
	h, err := record.DecodeHeader(e.mf.Base())
	if err != nil {
		e.log.Error("bad header", "path", e.path, "offset", 0, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrInternal, e.path, err)
	}
	e.hdr = *h
	return nil
}

// writeHeader serializes the in-memory header to offset 0.
func (e *Engine) writeHeader() error {
	_, err := e.mf.Pwrite(record.EncodeHeader(&e.hdr), 0)
	return err
}

// readRecord decodes the record at off, bounded by the handle's
// current view of valid data.
func (e *Engine) readRecord(off uint64) (*record.Record, error) {
	r, err := record.Decode(e.mf.Base(), off, e.end)
	if err != nil {
		e.log.Error("unreadable record", "path", e.path, "offset", off, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return r, nil
}

// checkTail verifies a record's tail CRC against the map.
func (e *Engine) checkTail(r *record.Record) error {
	if err := record.CheckTail(e.mf.Base(), r); err != nil {
		e.log.Error("tail crc failure", "path", e.path, "offset", r.Offset, "error", err)
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}

// appendRecord encodes r with the given key/value and writes it at the
// end of valid data, advancing e.end.
func (e *Engine) appendRecord(r *record.Record, key, val []byte) error {
	vecs := record.EncodeVec(r, key, val)
	off := e.end
	if _, err := e.mf.Pwritev(vecs, off); err != nil {
		return err
	}
	r.Offset = off
	r.KeyOff = off + r.HeadSize() + 8
	r.ValOff = r.KeyOff + r.KeyLen
	e.end = off + r.Len
	return nil
}

// rewriteHead re-serializes a record's header region in place after a
// pointer slot changed.
func (e *Engine) rewriteHead(r *record.Record) error {
	_, err := e.mf.Pwrite(record.EncodeHead(r), r.Offset)
	return err
}

// Path returns the database file's path.
func (e *Engine) Path() string { return e.path }

// InTxn reports whether a transaction is in flight on this handle.
func (e *Engine) InTxn() bool { return e.cur != nil }

// Syncs returns how many fsyncs the underlying file has issued.
func (e *Engine) Syncs() uint64 { return e.mf.Syncs() }

// Generation returns the last observed on-disk generation.
func (e *Engine) Generation() uint64 { return e.hdr.Generation }

// NumRecords returns the last observed live record count.
func (e *Engine) NumRecords() uint64 { return e.hdr.NumRecords }

// Close releases the map and descriptor. Closing with a transaction in
// flight is a caller bug: it is logged, the transaction aborted and
// the lock released.
func (e *Engine) Close() error {
	if e.cur != nil {
		e.log.Error("close with transaction in flight, aborting", "path", e.path)
		e.Abort(e.cur)
	}
	if e.mf.Lock() != mapped.Unlocked {
		e.log.Error("close while still locked, forcing unlock", "path", e.path)
		e.mf.Unlock()
	}
	return e.mf.Close()
}

// randomLevel draws a record level from a geometric distribution with
// p = 0.5, capped at MaxLevel, minimum 1.
func (e *Engine) randomLevel() int {
	level := 1
	for level < record.MaxLevel && e.rng.Intn(2) == 1 {
		level++
	}
	return level
}

// SeedRNG makes level draws deterministic; tests only.
func (e *Engine) SeedRNG(seed int64) {
	e.rng = rand.New(rand.NewSource(seed))
}
