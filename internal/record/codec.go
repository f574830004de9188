package record

import (
	"fmt"
)

// ===========================================================================
// RECORD CODEC
// ===========================================================================
//
// Decode validates everything it can before trusting a byte: bounds
// against the mapped size, the level cap, the computed total length,
// and finally the head CRC over the decoded header region. The tail
// CRC covers key+value+padding and is verified separately, because
// navigation often only needs the header.
//
// ===========================================================================

// Decode reads the record at off from the mapped file contents, whose
// readable extent is end bytes. The tail CRC is not verified here; call
// CheckTail once the key/value region is consumed.
func Decode(data []byte, off, end uint64) (*Record, error) {
	if off%Alignment != 0 {
		return nil, fmt.Errorf("record offset %d is not 8-byte aligned", off)
	}
	if off+fixedPrefixSize > end || off+fixedPrefixSize > uint64(len(data)) {
		return nil, fmt.Errorf("record at offset %d: header past end %d", off, end)
	}

	r := &Record{Offset: off}
	buf := data[off:]

	r.Type = Type(buf[0])
	r.Level = buf[1]
	switch r.Type {
	case TypeDummy, TypeKey, TypeDelete, TypeCommit:
	default:
		return nil, fmt.Errorf("record at offset %d: invalid type %d", off, buf[0])
	}
	if r.Level > MaxLevel {
		return nil, fmt.Errorf("record at offset %d: level %d exceeds max %d", off, r.Level, MaxLevel)
	}

	r.KeyLen = uint64(ByteOrder.Uint16(buf[2:4]))
	r.ValLen = uint64(ByteOrder.Uint32(buf[4:8]))

	// Extended lengths follow the fixed prefix when a sentinel appears.
	pos := uint64(fixedPrefixSize)
	ext := r.extSize()
	if off+fixedPrefixSize+ext > end {
		return nil, fmt.Errorf("record at offset %d: extended lengths past end %d", off, end)
	}
	if r.KeyLen == keyLenSentinel {
		r.KeyLen = ByteOrder.Uint64(buf[pos : pos+8])
		pos += 8
	}
	if r.ValLen == valLenSentinel {
		r.ValLen = ByteOrder.Uint64(buf[pos : pos+8])
		pos += 8
	}

	r.Len = r.TotalSize()
	if r.Len > MaxRecordSize {
		return nil, fmt.Errorf("record at offset %d: length %d exceeds max %d", off, r.Len, MaxRecordSize)
	}
	if off+r.Len > end || off+r.Len > uint64(len(data)) {
		return nil, fmt.Errorf("record at offset %d: length %d past end %d", off, r.Len, end)
	}

	for i := 0; i < r.SlotCount(); i++ {
		r.Next[i] = ByteOrder.Uint64(buf[pos : pos+8])
		pos += 8
	}

	r.HeadCRC = ByteOrder.Uint32(buf[pos : pos+4])
	if got := Checksum(buf[:pos]); got != r.HeadCRC {
		return nil, fmt.Errorf("record at offset %d: head crc mismatch: expected %08x, got %08x", off, r.HeadCRC, got)
	}
	pos += 4
	r.TailCRC = ByteOrder.Uint32(buf[pos : pos+4])
	pos += 4

	r.KeyOff = off + pos
	r.ValOff = r.KeyOff + r.KeyLen
	return r, nil
}

// CheckTail verifies the tail CRC over key, value and alignment padding.
func CheckTail(data []byte, r *Record) error {
	span := AlignUp(r.KeyLen + r.ValLen)
	if r.KeyOff+span > uint64(len(data)) {
		return fmt.Errorf("record at offset %d: tail past mapped size", r.Offset)
	}
	if got := Checksum(data[r.KeyOff : r.KeyOff+span]); got != r.TailCRC {
		return fmt.Errorf("record at offset %d: tail crc mismatch: expected %08x, got %08x", r.Offset, r.TailCRC, got)
	}
	return nil
}

// Key returns the record's key bytes inside data. The slice aliases the
// mapped file and is only valid while the map is.
func (r *Record) Key(data []byte) []byte {
	return data[r.KeyOff : r.KeyOff+r.KeyLen]
}

// Val returns the record's value bytes inside data. The slice aliases
// the mapped file and is only valid while the map is.
func (r *Record) Val(data []byte) []byte {
	return data[r.ValOff : r.ValOff+r.ValLen]
}

// EncodeVec serializes the record with the given key and value as an
// I/O vector: the header region (including both CRCs), the key, the
// value, and the alignment padding. r.Len is updated to the encoded
// length; both CRCs are computed here. r.Offset is not consulted;
// records encode the same wherever they land.
func EncodeVec(r *Record, key, val []byte) [][]byte {
	r.KeyLen = uint64(len(key))
	r.ValLen = uint64(len(val))
	r.Len = r.TotalSize()

	head := make([]byte, r.HeadSize()+crcPairSize)
	head[0] = byte(r.Type)
	head[1] = r.Level

	shortKey := r.KeyLen
	if shortKey >= keyLenSentinel {
		shortKey = keyLenSentinel
	}
	shortVal := r.ValLen
	if shortVal >= valLenSentinel {
		shortVal = valLenSentinel
	}
	ByteOrder.PutUint16(head[2:4], uint16(shortKey))
	ByteOrder.PutUint32(head[4:8], uint32(shortVal))

	pos := uint64(fixedPrefixSize)
	if shortKey == keyLenSentinel {
		ByteOrder.PutUint64(head[pos:pos+8], r.KeyLen)
		pos += 8
	}
	if shortVal == valLenSentinel {
		ByteOrder.PutUint64(head[pos:pos+8], r.ValLen)
		pos += 8
	}

	for i := 0; i < r.SlotCount(); i++ {
		ByteOrder.PutUint64(head[pos:pos+8], r.Next[i])
		pos += 8
	}

	r.HeadCRC = Checksum(head[:pos])
	ByteOrder.PutUint32(head[pos:pos+4], r.HeadCRC)

	pad := make([]byte, AlignUp(r.KeyLen+r.ValLen)-(r.KeyLen+r.ValLen))
	r.TailCRC = ChecksumVec(key, val, pad)
	ByteOrder.PutUint32(head[pos+4:pos+8], r.TailCRC)

	return [][]byte{head, key, val, pad}
}

// Encode is EncodeVec flattened into one contiguous buffer.
func Encode(r *Record, key, val []byte) []byte {
	buf := make([]byte, 0, r.TotalSize())
	for _, v := range EncodeVec(r, key, val) {
		buf = append(buf, v...)
	}
	return buf
}

// EncodeHead re-serializes only the header region (fixed prefix,
// extended lengths, pointer slots and head CRC) after a pointer slot
// changed. The tail CRC and the key/value region are untouched, so the
// returned buffer is written back over [r.Offset, r.Offset+len).
func EncodeHead(r *Record) []byte {
	headSize := r.HeadSize()
	buf := make([]byte, headSize+4)
	buf[0] = byte(r.Type)
	buf[1] = r.Level

	shortKey := r.KeyLen
	if shortKey >= keyLenSentinel {
		shortKey = keyLenSentinel
	}
	shortVal := r.ValLen
	if shortVal >= valLenSentinel {
		shortVal = valLenSentinel
	}
	ByteOrder.PutUint16(buf[2:4], uint16(shortKey))
	ByteOrder.PutUint32(buf[4:8], uint32(shortVal))

	pos := uint64(fixedPrefixSize)
	if shortKey == keyLenSentinel {
		ByteOrder.PutUint64(buf[pos:pos+8], r.KeyLen)
		pos += 8
	}
	if shortVal == valLenSentinel {
		ByteOrder.PutUint64(buf[pos:pos+8], r.ValLen)
		pos += 8
	}

	for i := 0; i < r.SlotCount(); i++ {
		ByteOrder.PutUint64(buf[pos:pos+8], r.Next[i])
		pos += 8
	}

	r.HeadCRC = Checksum(buf[:pos])
	ByteOrder.PutUint32(buf[pos:pos+4], r.HeadCRC)
	return buf
}
