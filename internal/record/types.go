package record

import (
	"encoding/binary"

	"github.com/c2h5oh/datasize"
)

// ===========================================================================
// SKIPLOG FILE FORMAT
// ===========================================================================
//
// File Structure:
// ┌─────────────────────────────────────────────────────────────────────────┐
// │ File Header (fixed 64 bytes)                                            │
// ├─────────────────────────────────────────────────────────────────────────┤
// │ Dummy record (skiplist head, level 31, no key, no value)                │
// ├─────────────────────────────────────────────────────────────────────────┤
// │ Record: [type|level|keylen|vallen] [ext lens] [pointer slots]           │
// │         [head crc32] [tail crc32] [key] [value] [padding to 8 bytes]    │
// ├─────────────────────────────────────────────────────────────────────────┤
// │ ...                                                                     │
// └─────────────────────────────────────────────────────────────────────────┘
//
// All multi-byte integers are big-endian.
// All records start and end on 8-byte boundaries.
// Record offsets are file-absolute.
//
// ===========================================================================

// ByteOrder is the byte order for everything on disk.
var ByteOrder = binary.BigEndian

// Alignment is the byte alignment for all records.
const Alignment = 8

// AlignUp rounds n up to the next 8-byte boundary.
func AlignUp(n uint64) uint64 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// ===========================================================================
// SAFETY LIMITS
// ===========================================================================

// MaxLevel is the highest skiplist level a record may carry.
// The dummy record always sits at MaxLevel.
const MaxLevel = 31

// MaxRecordSize caps a single record's total length. Length fields read
// from a damaged file are rejected before any allocation happens.
const MaxRecordSize = uint64(512 * datasize.MB)

// ===========================================================================
// FILE HEADER
// ===========================================================================

// Magic identifies a skiplog file: a fixed four-byte prefix followed by
// the ASCII family name, NUL-padded to 20 bytes.
var Magic = [MagicSize]byte{
	0xA1, 0x02, 0x8B, 0x0D,
	's', 'k', 'i', 'p', 'l', 'o', 'g', ' ', 'd', 'b',
	0, 0, 0, 0, 0, 0,
}

const (
	// MagicSize is the length of the magic string at offset 0.
	MagicSize = 20

	// Version is the current file format version.
	Version uint32 = 1

	// HeaderSize is the fixed size of the file header.
	HeaderSize = 64

	// DummyOffset is where the dummy record lives, immediately after
	// the header.
	DummyOffset = HeaderSize
)

// Header flag bits.
const (
	// FlagDirty marks a file with an uncommitted transaction in its
	// tail. A crash while dirty requires recovery on the next open.
	FlagDirty uint32 = 1 << 0
)

// Header is the decoded 64-byte file header.
//
// Binary layout:
// ┌───────────┬────────────┬──────────┬─────────┬──────────┬──────────┬──────────┬────────┐
// │ Magic(20) │ Version(4) │ Flags(4) │ Gen(8)  │ NumRec(8)│ Repack(8)│ Current(8)│ CRC(4) │
// └───────────┴────────────┴──────────┴─────────┴──────────┴──────────┴──────────┴────────┘
// Offsets:  0          20          24        28        36         44         52        60
type Header struct {
	Version     uint32
	Flags       uint32
	Generation  uint64 // monotone, advanced by checkpoint and recovery
	NumRecords  uint64 // live (non-deleted) keys on the level-0 chain
	RepackSize  uint64 // current_size at the last checkpoint
	CurrentSize uint64 // bytes belonging to the last committed state
}

// Dirty reports whether the DIRTY flag is set.
func (h *Header) Dirty() bool { return h.Flags&FlagDirty != 0 }

// ===========================================================================
// RECORD TYPES
// ===========================================================================

// Type is the record type byte.
type Type uint8

const (
	TypeDummy  Type = 1 // skiplist head, written once at create
	TypeKey    Type = 2 // a live key/value pair
	TypeDelete Type = 4 // tombstone, kept only for commit replay
	TypeCommit Type = 8 // transaction terminator
)

// String returns a human-readable name for the record type.
func (t Type) String() string {
	switch t {
	case TypeDummy:
		return "Dummy"
	case TypeKey:
		return "Key"
	case TypeDelete:
		return "Delete"
	case TypeCommit:
		return "Commit"
	default:
		return "Unknown"
	}
}

// ===========================================================================
// RECORD
// ===========================================================================

// Length-field sentinels: when the short field holds the sentinel, the
// real length follows as a u64 extension.
const (
	keyLenSentinel = 0xFFFF
	valLenSentinel = 0xFFFFFFFF
)

// fixedPrefixSize is type(1) + level(1) + keylen(2) + vallen(4).
const fixedPrefixSize = 8

// crcPairSize is the head crc32 followed by the tail crc32.
const crcPairSize = 8

// Record is a decoded on-disk skiplist node.
//
// A record of level L carries L+2 pointer slots: slots 0 and 1 are the
// twin level-0 slots (see LiveLevel0), and slot i+1 holds the level-i
// forward pointer for i in [1, L]. Commit records keep the transaction
// start offset in slot 0; Delete records keep the level-0 successor of
// the deleted record in slot 0.
type Record struct {
	Type  Type
	Level uint8

	Offset uint64 // file offset of the record's first byte
	Len    uint64 // total encoded length, 8-byte aligned

	KeyLen uint64
	ValLen uint64

	// Next holds the pointer slots; only the first SlotCount() entries
	// are meaningful.
	Next [MaxLevel + 2]uint64

	HeadCRC uint32
	TailCRC uint32

	// KeyOff and ValOff are file-absolute offsets of the key and value
	// bytes inside the mapped file.
	KeyOff uint64
	ValOff uint64
}

// SlotCount returns the number of pointer slots the record encodes.
func (r *Record) SlotCount() int { return int(r.Level) + 2 }

// SlotForLevel maps a skiplist level to its pointer slot index.
// Level 0 reads resolve through LiveLevel0 instead.
func SlotForLevel(level int) int {
	if level == 0 {
		return 0
	}
	return level + 1
}

// PointerAt returns the forward pointer for the given level, resolving
// level 0 through the two-slot rule against end.
func (r *Record) PointerAt(level int, end uint64) uint64 {
	if level == 0 {
		return r.LiveLevel0(end)
	}
	return r.Next[level+1]
}

// LiveLevel0 resolves the twin level-0 slots: the live successor is the
// greater of the two slot values that lie strictly below end. Slots at
// or past end belong to an uncommitted or truncated tail and are
// invisible.
func (r *Record) LiveLevel0(end uint64) uint64 {
	a, b := r.Next[0], r.Next[1]
	if a >= end {
		a = 0
	}
	if b >= end {
		b = 0
	}
	if a > b {
		return a
	}
	return b
}

// Level0Victim picks the twin slot to overwrite when stitching a new
// level-0 pointer: the slot already holding an uncommitted value
// (>= currentSize), or else the slot with the older (smaller) value.
func (r *Record) Level0Victim(currentSize uint64) int {
	if r.Next[0] >= currentSize && r.Next[0] != 0 {
		return 0
	}
	if r.Next[1] >= currentSize && r.Next[1] != 0 {
		return 1
	}
	if r.Next[0] <= r.Next[1] {
		return 0
	}
	return 1
}

// extSize returns the number of extended-length bytes the record encodes.
func (r *Record) extSize() uint64 {
	var n uint64
	if r.KeyLen >= keyLenSentinel {
		n += 8
	}
	if r.ValLen >= valLenSentinel {
		n += 8
	}
	return n
}

// HeadSize returns the encoded size of everything the head CRC covers:
// the fixed prefix, extended lengths and pointer slots.
func (r *Record) HeadSize() uint64 {
	return fixedPrefixSize + r.extSize() + uint64(r.SlotCount())*8
}

// TotalSize returns the full aligned record length for the given key
// and value lengths.
func (r *Record) TotalSize() uint64 {
	return r.HeadSize() + crcPairSize + AlignUp(r.KeyLen+r.ValLen)
}
