package engine

import "bytes"

// CompareFunc is a strict weak order over keys, fixed at open time for
// the lifetime of the file.
type CompareFunc func(a, b []byte) int

// CompareRaw orders keys by raw byte value.
func CompareRaw(a, b []byte) int { return bytes.Compare(a, b) }

// mboxRank permutes byte values so the hierarchy separator '.' sorts
// before every printable byte.
var mboxRank = func() [256]int {
	var r [256]int
	for i := range r {
		r[i] = i + 2
	}
	r['.'] = 1
	return r
}()

// CompareMbox orders keys in mailbox-hierarchy order: '.' sorts before
// all other bytes so parents group ahead of their children.
func CompareMbox(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if mboxRank[a[i]] < mboxRank[b[i]] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
