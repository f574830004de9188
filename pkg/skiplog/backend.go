package skiplog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/leengari/skiplog/internal/record"
)

// ===========================================================================
// BACKEND DISPATCH
// ===========================================================================
//
// The surrounding system selects a storage engine by name. A Backend
// is a value type carrying a stable name plus the operation set; this
// family registers itself under "skiplog". A reader identifies a file
// of this family by the 20-byte magic at offset 0.
//
// ===========================================================================

// Backend is the dispatch record for one storage engine family.
type Backend struct {
	Name string

	Init func(dir string, flags Flags) error
	Done func() error

	Open  func(path string, flags Flags) (*DB, error)
	Close func(db *DB) error

	Fetch     func(db *DB, key []byte, t *Txn) ([]byte, error)
	FetchNext func(db *DB, key []byte, t *Txn) ([]byte, []byte, error)
	Foreach   func(db *DB, prefix []byte, filter FilterFunc, proc ProcFunc, t *Txn) error

	Create func(db *DB, key, val []byte, t *Txn) error
	Store  func(db *DB, key, val []byte, t *Txn) error
	Delete func(db *DB, key []byte, t *Txn, force bool) error

	Begin  func(db *DB) (*Txn, error)
	Commit func(db *DB, t *Txn) error
	Abort  func(db *DB, t *Txn) error

	Dump       func(db *DB, w io.Writer, detail int) error
	Consistent func(db *DB) error
	Checkpoint func(db *DB) error
}

var (
	backendMu sync.RWMutex
	backends  = make(map[string]Backend)
)

// Register adds a backend to the dispatch table, keyed by its name.
func Register(b Backend) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backends[b.Name] = b
}

// Lookup returns the backend registered under name.
func Lookup(name string) (Backend, bool) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	b, ok := backends[name]
	return b, ok
}

// Detect identifies the backend family of an existing file by its
// magic. ErrNotFound when no registered family matches.
func Detect(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	magic := make([]byte, record.MagicSize)
	if _, err := io.ReadFull(f, magic); err != nil {
		return "", fmt.Errorf("%w: %s: no recognizable magic", ErrNotFound, path)
	}
	if bytes.Equal(magic, record.Magic[:]) {
		return "skiplog", nil
	}
	return "", fmt.Errorf("%w: %s: unknown file family", ErrNotFound, path)
}

// New returns this family's dispatch record.
func New() Backend {
	return Backend{
		Name: "skiplog",
		Init: func(dir string, flags Flags) error { return nil },
		Done: func() error { return nil },
		Open: func(path string, flags Flags) (*DB, error) {
			return OpenFlags(path, flags)
		},
		Close:      (*DB).Close,
		Fetch:      (*DB).Fetch,
		FetchNext:  (*DB).FetchNext,
		Foreach:    (*DB).Foreach,
		Create:     (*DB).Create,
		Store:      (*DB).Store,
		Delete:     (*DB).Delete,
		Begin:      (*DB).Begin,
		Commit:     (*DB).Commit,
		Abort:      (*DB).Abort,
		Dump:       (*DB).Dump,
		Consistent: (*DB).Consistent,
		Checkpoint: (*DB).Checkpoint,
	}
}

func init() {
	Register(New())
}
