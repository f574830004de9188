// Package mapped owns the file descriptor, the advisory lock state and
// a read-only memory map that tracks the file's size. All engine I/O
// goes through its primitives: positioned writes (which transparently
// re-map after growth), truncate, rename-in-place and commit
// (flush + fsync).
package mapped

import (
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// LockState describes the advisory lock currently held on the file.
type LockState int

const (
	Unlocked LockState = iota
	ReadLocked
	WriteLocked
)

// File is an open, memory-mapped database file.
type File struct {
	f     *os.File
	path  string
	data  []byte // read-only mmap of the whole file; nil when empty
	size  uint64
	lock  LockState
	syncs uint64
}

// Open opens the file read-write, optionally creating it. The map is
// established immediately; an empty (just created) file has no map
// until the first write extends it.
func Open(path string, create bool) (*File, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	mf := &File{f: f, path: path}
	if err := mf.remap(); err != nil {
		f.Close()
		return nil, err
	}
	return mf, nil
}

// remap refreshes the memory map to cover the file's current size.
func (mf *File) remap() error {
	info, err := mf.f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", mf.path, err)
	}
	size := uint64(info.Size())

	if mf.data != nil {
		if err := unix.Munmap(mf.data); err != nil {
			return fmt.Errorf("munmap %s: %w", mf.path, err)
		}
		mf.data = nil
	}
	mf.size = size
	if size == 0 {
		return nil
	}

	data, err := unix.Mmap(int(mf.f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap %s: %w", mf.path, err)
	}
	mf.data = data
	return nil
}

// Size returns the mapped file size in bytes.
func (mf *File) Size() uint64 { return mf.size }

// Base returns the mapped contents. The slice is invalidated by any
// write that grows the file and by Truncate.
func (mf *File) Base() []byte { return mf.data }

// Fname returns the file's path.
func (mf *File) Fname() string { return mf.path }

// Lock returns the currently held advisory lock state.
func (mf *File) Lock() LockState { return mf.lock }

// Syncs returns how many fsyncs this handle has issued.
func (mf *File) Syncs() uint64 { return mf.syncs }

// ===========================================================================
// ADVISORY LOCKING
// ===========================================================================
//
// Whole-file flock: one writer or many readers across processes.
// After acquiring a lock the caller must assume another process grew
// or replaced the file, so the map is refreshed and, when the path no
// longer names our inode, the descriptor is reopened.
//
// ===========================================================================

// ReadLock takes a shared advisory lock, blocking until available.
func (mf *File) ReadLock() error {
	if err := unix.Flock(int(mf.f.Fd()), unix.LOCK_SH); err != nil {
		return fmt.Errorf("read lock %s: %w", mf.path, err)
	}
	mf.lock = ReadLocked
	return mf.refresh()
}

// WriteLock takes an exclusive advisory lock, blocking until available.
func (mf *File) WriteLock() error {
	if err := unix.Flock(int(mf.f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("write lock %s: %w", mf.path, err)
	}
	mf.lock = WriteLocked
	return mf.refresh()
}

// Unlock releases the advisory lock.
func (mf *File) Unlock() error {
	if mf.lock == Unlocked {
		return nil
	}
	if err := unix.Flock(int(mf.f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock %s: %w", mf.path, err)
	}
	mf.lock = Unlocked
	return nil
}

// refresh re-reads file identity and size after a lock acquisition.
// A checkpoint in another process renames a fresh file over our path;
// when the inode changed we reopen and remap, keeping the lock we hold
// on the new descriptor's file.
func (mf *File) refresh() error {
	var pathStat, fdStat unix.Stat_t
	if err := unix.Stat(mf.path, &pathStat); err != nil {
		// Path gone; keep serving the open descriptor.
		return mf.remap()
	}
	if err := unix.Fstat(int(mf.f.Fd()), &fdStat); err != nil {
		return fmt.Errorf("fstat %s: %w", mf.path, err)
	}
	if pathStat.Ino == fdStat.Ino && pathStat.Dev == fdStat.Dev {
		return mf.remap()
	}

	f, err := os.OpenFile(mf.path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", mf.path, err)
	}
	how := unix.LOCK_SH
	if mf.lock == WriteLocked {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return fmt.Errorf("relock %s: %w", mf.path, err)
	}
	unix.Flock(int(mf.f.Fd()), unix.LOCK_UN)
	mf.f.Close()
	mf.f = f
	return mf.remap()
}

// ===========================================================================
// WRITE PRIMITIVES
// ===========================================================================

// Pwrite writes buf at the given file offset, extending the file and
// the map as needed. The returned count equals len(buf) on success.
func (mf *File) Pwrite(buf []byte, off uint64) (int, error) {
	n, err := mf.f.WriteAt(buf, int64(off))
	if err != nil {
		return n, fmt.Errorf("pwrite %s at %d: %w", mf.path, off, err)
	}
	if off+uint64(n) > mf.size {
		if err := mf.remap(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Pwritev writes the vector of buffers contiguously at the given file
// offset. The returned count is the total bytes written.
func (mf *File) Pwritev(vecs [][]byte, off uint64) (int, error) {
	total := 0
	for _, v := range vecs {
		n, err := mf.f.WriteAt(v, int64(off)+int64(total))
		total += n
		if err != nil {
			return total, fmt.Errorf("pwritev %s at %d: %w", mf.path, off, err)
		}
	}
	if off+uint64(total) > mf.size {
		if err := mf.remap(); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Commit flushes dirty pages and fsyncs the file.
func (mf *File) Commit() error {
	if err := mf.f.Sync(); err != nil {
		return fmt.Errorf("fsync %s: %w", mf.path, err)
	}
	mf.syncs++
	return nil
}

// Truncate shrinks the file to newLen and refreshes the map.
func (mf *File) Truncate(newLen uint64) error {
	if err := mf.f.Truncate(int64(newLen)); err != nil {
		return fmt.Errorf("truncate %s to %d: %w", mf.path, newLen, err)
	}
	return mf.remap()
}

// Rename atomically renames the file over newPath. The open descriptor
// and map stay valid; only the handle's path changes.
func (mf *File) Rename(newPath string) error {
	if err := atomic.ReplaceFile(mf.path, newPath); err != nil {
		return fmt.Errorf("rename %s over %s: %w", mf.path, newPath, err)
	}
	mf.path = newPath
	return nil
}

// Close unmaps and closes the file. Any held lock is released by the
// kernel when the descriptor goes away.
func (mf *File) Close() error {
	if mf.data != nil {
		if err := unix.Munmap(mf.data); err != nil {
			return fmt.Errorf("munmap %s: %w", mf.path, err)
		}
		mf.data = nil
	}
	if mf.f == nil {
		return nil
	}
	err := mf.f.Close()
	mf.f = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", mf.path, err)
	}
	return nil
}
