package record

import "hash/crc32"

// Checksum computes the CRC32 (IEEE) of a contiguous byte range.
func Checksum(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}

// ChecksumVec computes the CRC32 (IEEE) over a vector of byte ranges,
// as if they were contiguous.
func ChecksumVec(vecs ...[]byte) uint32 {
	var crc uint32
	for _, v := range vecs {
		crc = crc32.Update(crc, crc32.IEEETable, v)
	}
	return crc
}
