package skiplog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/leengari/skiplog/pkg/logging"
	"github.com/leengari/skiplog/pkg/options"
)

func openTestDB(t *testing.T, opts ...options.OptionFunc) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]options.OptionFunc{options.WithCreate()}, opts...)
	db, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.db"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPublicRoundTrip(t *testing.T) {
	log, cleanup := logging.SetupLogger("")
	defer cleanup()
	db := openTestDB(t, options.WithLogger(log))

	assert.NilError(t, db.Store([]byte("fruit.apple"), []byte("red"), nil))
	assert.NilError(t, db.Store([]byte("fruit.pear"), []byte("green"), nil))
	assert.NilError(t, db.Create([]byte("veg.leek"), []byte("white"), nil))
	assert.ErrorIs(t, db.Create([]byte("veg.leek"), nil, nil), ErrExists)

	val, err := db.Fetch([]byte("fruit.apple"), nil)
	assert.NilError(t, err)
	assert.Equal(t, "red", string(val))

	var keys []string
	err = db.Foreach([]byte("fruit."), nil, func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	}, nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, []string{"fruit.apple", "fruit.pear"}, keys)

	k, _, err := db.FetchNext([]byte("fruit.pear"), nil)
	assert.NilError(t, err)
	assert.Equal(t, "veg.leek", string(k))

	assert.NilError(t, db.Delete([]byte("fruit.pear"), nil, false))
	_, err = db.Fetch([]byte("fruit.pear"), nil)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NilError(t, db.Consistent())
}

func TestPublicTransaction(t *testing.T) {
	db := openTestDB(t)

	txn, err := db.Begin()
	assert.NilError(t, err)
	assert.NilError(t, db.Store([]byte("a"), []byte("1"), txn))
	assert.NilError(t, db.Store([]byte("b"), []byte("2"), txn))
	assert.NilError(t, db.Commit(txn))

	txn, err = db.Begin()
	assert.NilError(t, err)
	assert.NilError(t, db.Delete([]byte("a"), txn, false))
	assert.NilError(t, db.Abort(txn))

	val, err := db.Fetch([]byte("a"), nil)
	assert.NilError(t, err)
	assert.Equal(t, "1", string(val))
}

func TestDoubleOpenSharesState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shared.db")

	db1, err := Open(path, options.WithCreate())
	assert.NilError(t, err)
	db2, err := Open(path, options.WithCreate())
	assert.NilError(t, err)

	assert.NilError(t, db1.Store([]byte("k"), []byte("v"), nil))
	val, err := db2.Fetch([]byte("k"), nil)
	assert.NilError(t, err)
	assert.Equal(t, "v", string(val))

	// One in-flight transaction per database, across handles.
	txn, err := db1.Begin()
	assert.NilError(t, err)
	_, err = db2.Begin()
	assert.ErrorIs(t, err, ErrLocked)
	assert.NilError(t, db1.Commit(txn))

	assert.NilError(t, db1.Close())
	// db2 still works after db1 closed its reference.
	_, err = db2.Fetch([]byte("k"), nil)
	assert.NilError(t, err)
	assert.NilError(t, db2.Close())
}

func TestOpenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.db")
	db, err := OpenFlags(path, Create|MboxSort|NoCompact)
	assert.NilError(t, err)
	defer db.Close()

	assert.NilError(t, db.Store([]byte("user.a"), []byte("1"), nil))
	assert.NilError(t, db.Store([]byte("user-b"), []byte("2"), nil))

	k, _, err := db.FetchNext(nil, nil)
	assert.NilError(t, err)
	assert.Equal(t, "user.a", string(k), "mbox comparator not applied")
}

func TestBackendDispatch(t *testing.T) {
	b, ok := Lookup("skiplog")
	assert.Assert(t, ok, "family not registered")
	assert.Equal(t, "skiplog", b.Name)

	dir := t.TempDir()
	assert.NilError(t, b.Init(dir, 0))
	path := filepath.Join(dir, "backend.db")

	db, err := b.Open(path, Create)
	assert.NilError(t, err)

	txn, err := b.Begin(db)
	assert.NilError(t, err)
	assert.NilError(t, b.Store(db, []byte("k"), []byte("v"), txn))
	assert.NilError(t, b.Commit(db, txn))

	val, err := b.Fetch(db, []byte("k"), nil)
	assert.NilError(t, err)
	assert.Equal(t, "v", string(val))

	assert.NilError(t, b.Consistent(db))
	assert.NilError(t, b.Checkpoint(db))
	assert.NilError(t, b.Close(db))
	assert.NilError(t, b.Done())
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "detect.db")
	db, err := Open(path, options.WithCreate())
	assert.NilError(t, err)
	assert.NilError(t, db.Close())

	family, err := Detect(path)
	assert.NilError(t, err)
	assert.Equal(t, "skiplog", family)

	alien := filepath.Join(dir, "alien.db")
	assert.NilError(t, os.WriteFile(alien, []byte("definitely not a database file"), 0644))
	_, err = Detect(alien)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDump(t *testing.T) {
	db := openTestDB(t)
	assert.NilError(t, db.Store([]byte("k"), []byte("v"), nil))

	var summary, full strings.Builder
	assert.NilError(t, db.Dump(&summary, 0))
	assert.NilError(t, db.Dump(&full, 1))

	assert.Assert(t, strings.Contains(summary.String(), "records=1"))
	assert.Assert(t, strings.Contains(full.String(), `key="k"`))
	assert.Assert(t, strings.Contains(full.String(), "Commit"))
	assert.Assert(t, len(full.String()) > len(summary.String()))
}
