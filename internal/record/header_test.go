package record

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Version:     Version,
		Flags:       FlagDirty,
		Generation:  7,
		NumRecords:  42,
		RepackSize:  4096,
		CurrentSize: 8192,
	}
	buf := EncodeHeader(h)
	assert.Equal(t, HeaderSize, len(buf))

	got, err := DecodeHeader(buf)
	assert.NilError(t, err)
	assert.DeepEqual(t, h, got)
	assert.Assert(t, got.Dirty())
}

func TestHeaderRejectsBadMagic(t *testing.T) {
	buf := EncodeHeader(&Header{Version: Version})
	buf[0] ^= 0xFF
	_, err := DecodeHeader(buf)
	assert.ErrorContains(t, err, "bad magic")
}

func TestHeaderRejectsFutureVersion(t *testing.T) {
	h := &Header{Version: Version + 1}
	_, err := DecodeHeader(EncodeHeader(h))
	assert.ErrorContains(t, err, "unsupported version")
}

func TestHeaderRejectsBadCRC(t *testing.T) {
	buf := EncodeHeader(&Header{Version: Version, Generation: 1})
	buf[30] ^= 0xFF
	_, err := DecodeHeader(buf)
	assert.ErrorContains(t, err, "header crc mismatch")
}

func TestHeaderRejectsShortBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	assert.ErrorContains(t, err, "too short")
}
