package record

import (
	"bytes"
	"testing"

	"gotest.tools/v3/assert"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// encodeAt encodes rec into a fresh buffer laid out at the given file
// offset, preceded by zero filler so Decode sees file-absolute offsets.
func encodeAt(t *testing.T, rec *Record, key, val []byte, off uint64) []byte {
	t.Helper()
	buf := make([]byte, off)
	return append(buf, Encode(rec, key, val)...)
}

// =============================================================================
// SUITE 1: RECORD ROUND-TRIPS
// =============================================================================

func TestRecordRoundTrip(t *testing.T) {
	rec := &Record{Type: TypeKey, Level: 3}
	rec.Next[0] = 1024
	rec.Next[1] = 0
	rec.Next[2] = 2048 // level 1
	rec.Next[3] = 4096 // level 2
	rec.Next[4] = 8192 // level 3

	key := []byte("apple")
	val := []byte("red")
	data := encodeAt(t, rec, key, val, 64)

	got, err := Decode(data, 64, uint64(len(data)))
	assert.NilError(t, err)
	assert.Equal(t, TypeKey, got.Type)
	assert.Equal(t, uint8(3), got.Level)
	assert.Equal(t, uint64(len(key)), got.KeyLen)
	assert.Equal(t, uint64(len(val)), got.ValLen)
	assert.Equal(t, rec.Len, got.Len)
	for i := 0; i < got.SlotCount(); i++ {
		assert.Equal(t, rec.Next[i], got.Next[i])
	}

	assert.NilError(t, CheckTail(data, got))
	assert.Assert(t, bytes.Equal(got.Key(data), key))
	assert.Assert(t, bytes.Equal(got.Val(data), val))
}

func TestRecordAlignment(t *testing.T) {
	for _, n := range []int{0, 1, 7, 8, 9, 255} {
		rec := &Record{Type: TypeKey, Level: 1}
		buf := Encode(rec, bytes.Repeat([]byte{'k'}, n), []byte("v"))
		if uint64(len(buf))%Alignment != 0 {
			t.Fatalf("keylen %d: record length %d not 8-byte aligned", n, len(buf))
		}
		assert.Equal(t, rec.Len, uint64(len(buf)))
	}
}

func TestRecordExtendedLengths(t *testing.T) {
	// A key past the u16 sentinel takes the extended encoding.
	key := bytes.Repeat([]byte{'K'}, 0x10000)
	val := []byte("v")

	rec := &Record{Type: TypeKey, Level: 1}
	data := encodeAt(t, rec, key, val, 0)

	got, err := Decode(data, 0, uint64(len(data)))
	assert.NilError(t, err)
	assert.Equal(t, uint64(len(key)), got.KeyLen)
	assert.Equal(t, uint64(len(val)), got.ValLen)
	assert.NilError(t, CheckTail(data, got))
	assert.Assert(t, bytes.Equal(got.Key(data), key))
}

func TestEncodeVecMatchesEncode(t *testing.T) {
	rec1 := &Record{Type: TypeKey, Level: 2}
	rec2 := &Record{Type: TypeKey, Level: 2}
	key, val := []byte("key"), []byte("value")

	flat := Encode(rec1, key, val)
	var joined []byte
	for _, v := range EncodeVec(rec2, key, val) {
		joined = append(joined, v...)
	}
	assert.Assert(t, bytes.Equal(flat, joined))
}

// =============================================================================
// SUITE 2: CORRUPTION DETECTION
// =============================================================================

func TestRecordHeadCRCMismatch(t *testing.T) {
	rec := &Record{Type: TypeKey, Level: 2}
	rec.Next[2] = 512
	data := encodeAt(t, rec, []byte("k"), []byte("v"), 0)

	// Flip a byte inside the pointer region.
	data[fixedPrefixSize+3] ^= 0xFF
	_, err := Decode(data, 0, uint64(len(data)))
	assert.ErrorContains(t, err, "head crc mismatch")
}

func TestRecordTailCRCMismatch(t *testing.T) {
	rec := &Record{Type: TypeKey, Level: 1}
	data := encodeAt(t, rec, []byte("key"), []byte("value"), 0)

	got, err := Decode(data, 0, uint64(len(data)))
	assert.NilError(t, err)

	data[got.ValOff] ^= 0xFF
	assert.ErrorContains(t, CheckTail(data, got), "tail crc mismatch")
}

func TestRecordBoundsAndType(t *testing.T) {
	rec := &Record{Type: TypeKey, Level: 1}
	data := encodeAt(t, rec, []byte("k"), []byte("v"), 0)

	// Truncated view.
	_, err := Decode(data, 0, uint64(len(data)-8))
	assert.Assert(t, err != nil)

	// Unaligned offset.
	_, err = Decode(data, 3, uint64(len(data)))
	assert.ErrorContains(t, err, "aligned")

	// Bad type byte (CRC would also fail, but type is rejected first).
	bad := append([]byte(nil), data...)
	bad[0] = 0x77
	_, err = Decode(bad, 0, uint64(len(bad)))
	assert.ErrorContains(t, err, "invalid type")

	// Level past the cap.
	bad = append(bad[:0], data...)
	bad[1] = MaxLevel + 1
	_, err = Decode(bad, 0, uint64(len(bad)))
	assert.ErrorContains(t, err, "level")
}

// =============================================================================
// SUITE 3: TWO-SLOT LEVEL-0 RULE
// =============================================================================

func TestLiveLevel0(t *testing.T) {
	r := &Record{Type: TypeKey, Level: 1}

	// Committed pair: greater offset wins.
	r.Next[0], r.Next[1] = 100, 200
	assert.Equal(t, uint64(200), r.LiveLevel0(1000))

	// Uncommitted value is invisible below end.
	r.Next[0], r.Next[1] = 100, 2000
	assert.Equal(t, uint64(100), r.LiveLevel0(1000))

	// ...but visible to the transaction that wrote it.
	assert.Equal(t, uint64(2000), r.LiveLevel0(4096))

	// Empty slots resolve to zero.
	r.Next[0], r.Next[1] = 0, 0
	assert.Equal(t, uint64(0), r.LiveLevel0(1000))
}

func TestLevel0Victim(t *testing.T) {
	r := &Record{Type: TypeKey, Level: 1}

	// The uncommitted slot is always re-targeted.
	r.Next[0], r.Next[1] = 100, 2000
	assert.Equal(t, 1, r.Level0Victim(1000))
	r.Next[0], r.Next[1] = 2000, 100
	assert.Equal(t, 0, r.Level0Victim(1000))

	// Otherwise the older (smaller) value loses.
	r.Next[0], r.Next[1] = 100, 200
	assert.Equal(t, 0, r.Level0Victim(1000))
	r.Next[0], r.Next[1] = 200, 100
	assert.Equal(t, 1, r.Level0Victim(1000))

	// An empty slot is the victim over a committed pointer.
	r.Next[0], r.Next[1] = 300, 0
	assert.Equal(t, 1, r.Level0Victim(1000))
}

func TestChecksumVec(t *testing.T) {
	whole := []byte("the quick brown fox")
	split := ChecksumVec(whole[:5], whole[5:11], whole[11:])
	assert.Equal(t, Checksum(whole), split)
	assert.Equal(t, Checksum(whole), ChecksumVec(whole))
}
