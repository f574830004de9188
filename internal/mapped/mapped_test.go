package mapped

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func openTemp(t *testing.T) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	mf, err := Open(path, true)
	if err != nil {
		t.Fatalf("failed to open mapped file: %v", err)
	}
	t.Cleanup(func() { mf.Close() })
	return mf
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.db"), false)
	assert.Assert(t, err != nil)
}

func TestPwriteExtendsAndRemaps(t *testing.T) {
	mf := openTemp(t)
	assert.Equal(t, uint64(0), mf.Size())

	payload := []byte("hello, mapped world")
	n, err := mf.Pwrite(payload, 0)
	assert.NilError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, uint64(len(payload)), mf.Size())
	assert.Assert(t, bytes.Equal(mf.Base(), payload))

	// Write past the current end; the map follows the file.
	n, err = mf.Pwrite([]byte("tail"), 4096)
	assert.NilError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, uint64(4100), mf.Size())
	assert.Assert(t, bytes.Equal(mf.Base()[4096:4100], []byte("tail")))
}

func TestPwritev(t *testing.T) {
	mf := openTemp(t)
	n, err := mf.Pwritev([][]byte{[]byte("abc"), nil, []byte("defg")}, 8)
	assert.NilError(t, err)
	assert.Equal(t, 7, n)
	assert.Assert(t, bytes.Equal(mf.Base()[8:15], []byte("abcdefg")))
}

func TestTruncate(t *testing.T) {
	mf := openTemp(t)
	_, err := mf.Pwrite(bytes.Repeat([]byte{0xAA}, 256), 0)
	assert.NilError(t, err)

	assert.NilError(t, mf.Truncate(64))
	assert.Equal(t, uint64(64), mf.Size())
	assert.Equal(t, 64, len(mf.Base()))
}

func TestCommitCountsSyncs(t *testing.T) {
	mf := openTemp(t)
	assert.Equal(t, uint64(0), mf.Syncs())
	_, err := mf.Pwrite([]byte("x"), 0)
	assert.NilError(t, err)
	assert.NilError(t, mf.Commit())
	assert.NilError(t, mf.Commit())
	assert.Equal(t, uint64(2), mf.Syncs())
}

func TestLockCycle(t *testing.T) {
	mf := openTemp(t)
	_, err := mf.Pwrite([]byte("content"), 0)
	assert.NilError(t, err)

	assert.Equal(t, Unlocked, mf.Lock())
	assert.NilError(t, mf.ReadLock())
	assert.Equal(t, ReadLocked, mf.Lock())
	assert.NilError(t, mf.WriteLock())
	assert.Equal(t, WriteLocked, mf.Lock())
	assert.NilError(t, mf.Unlock())
	assert.Equal(t, Unlocked, mf.Lock())
	assert.NilError(t, mf.Unlock()) // idempotent
}

func TestLockPicksUpReplacedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")
	mf, err := Open(path, true)
	assert.NilError(t, err)
	defer mf.Close()
	_, err = mf.Pwrite([]byte("old contents"), 0)
	assert.NilError(t, err)

	// Another process checkpoints: a fresh file is renamed over ours.
	side := filepath.Join(dir, "db.NEW")
	assert.NilError(t, os.WriteFile(side, []byte("new contents!"), 0644))
	assert.NilError(t, os.Rename(side, path))

	assert.NilError(t, mf.ReadLock())
	defer mf.Unlock()
	assert.Equal(t, uint64(13), mf.Size())
	assert.Assert(t, bytes.Equal(mf.Base(), []byte("new contents!")))
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "db.NEW")
	dst := filepath.Join(dir, "db")
	assert.NilError(t, os.WriteFile(dst, []byte("victim"), 0644))

	mf, err := Open(src, true)
	assert.NilError(t, err)
	defer mf.Close()
	_, err = mf.Pwrite([]byte("replacement"), 0)
	assert.NilError(t, err)
	assert.NilError(t, mf.Commit())

	assert.NilError(t, mf.Rename(dst))
	assert.Equal(t, dst, mf.Fname())

	got, err := os.ReadFile(dst)
	assert.NilError(t, err)
	assert.Assert(t, bytes.Equal(got, []byte("replacement")))
	_, err = os.Stat(src)
	assert.Assert(t, os.IsNotExist(err))
}
