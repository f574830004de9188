package record

import (
	"bytes"
	"fmt"
)

// headerCRCOffset is where the header CRC sits; the CRC covers
// everything before it.
const headerCRCOffset = 60

// DecodeHeader reads and validates the 64-byte file header.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("file too short for header: %d bytes", len(data))
	}
	if !bytes.Equal(data[:MagicSize], Magic[:]) {
		return nil, fmt.Errorf("bad magic: not a skiplog file")
	}

	h := &Header{
		Version:     ByteOrder.Uint32(data[20:24]),
		Flags:       ByteOrder.Uint32(data[24:28]),
		Generation:  ByteOrder.Uint64(data[28:36]),
		NumRecords:  ByteOrder.Uint64(data[36:44]),
		RepackSize:  ByteOrder.Uint64(data[44:52]),
		CurrentSize: ByteOrder.Uint64(data[52:60]),
	}
	if h.Version > Version {
		return nil, fmt.Errorf("unsupported version %d (max %d)", h.Version, Version)
	}

	crc := ByteOrder.Uint32(data[headerCRCOffset : headerCRCOffset+4])
	if got := Checksum(data[:headerCRCOffset]); got != crc {
		return nil, fmt.Errorf("header crc mismatch: expected %08x, got %08x", crc, got)
	}
	return h, nil
}

// EncodeHeader serializes the header into a fresh 64-byte buffer,
// computing its CRC.
func EncodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[:MagicSize], Magic[:])
	ByteOrder.PutUint32(buf[20:24], h.Version)
	ByteOrder.PutUint32(buf[24:28], h.Flags)
	ByteOrder.PutUint64(buf[28:36], h.Generation)
	ByteOrder.PutUint64(buf[36:44], h.NumRecords)
	ByteOrder.PutUint64(buf[44:52], h.RepackSize)
	ByteOrder.PutUint64(buf[52:60], h.CurrentSize)
	ByteOrder.PutUint32(buf[headerCRCOffset:headerCRCOffset+4], Checksum(buf[:headerCRCOffset]))
	return buf
}
