package engine

import (
	"github.com/leengari/skiplog/internal/record"
)

// ===========================================================================
// LOCATOR & NAVIGATOR
// ===========================================================================
//
// The locator caches the last search: the requested key, the matched
// record (if any), and per-level back/forward offsets framing the
// position. It is valid only while the observed (generation, end) pair
// matches the engine's; any mutation advances end, any compaction or
// recovery advances generation, and the next navigation re-relocates.
//
// The back/forward frame is what the mutator stitches with, so it is
// only trusted when built by a full relocate (framed). Advancing for
// iteration keeps the frame cheap and unframed.
//
// ===========================================================================

type locator struct {
	key   []byte
	exact bool
	rec   *record.Record // the matched record when exact

	back    [record.MaxLevel + 1]uint64 // predecessor offset per level
	forward [record.MaxLevel + 1]uint64 // successor offset per level

	generation uint64
	end        uint64
	valid      bool
	framed     bool // back/forward arrays are stitch-grade
}

// current reports whether the locator still matches the engine state.
func (l *locator) current(e *Engine) bool {
	return l.valid && l.generation == e.hdr.Generation && l.end == e.end
}

func (l *locator) setKey(key []byte) {
	l.key = append(l.key[:0], key...)
}

// relocate performs a full search from the dummy, leaving the locator
// framed at key's position (exact or the insertion gap).
func (e *Engine) relocate(key []byte) error {
	l := &e.loc
	l.valid = false
	l.exact = false
	l.rec = nil
	l.setKey(key)

	dummy, err := e.readRecord(record.DummyOffset)
	if err != nil {
		return err
	}

	cur := dummy
	if len(key) == 0 {
		// Empty key: frame the very beginning of the list.
		for i := 0; i <= record.MaxLevel; i++ {
			l.back[i] = dummy.Offset
			l.forward[i] = dummy.PointerAt(i, e.end)
		}
	} else {
		for level := record.MaxLevel; level >= 0; level-- {
			for {
				nextOff := cur.PointerAt(level, e.end)
				if nextOff == 0 {
					break
				}
				next, err := e.readRecord(nextOff)
				if err != nil {
					return err
				}
				if e.compar(next.Key(e.mf.Base()), key) < 0 {
					cur = next
					continue
				}
				break
			}
			l.back[level] = cur.Offset
			l.forward[level] = cur.PointerAt(level, e.end)
		}

		if f0 := l.forward[0]; f0 != 0 {
			match, err := e.readRecord(f0)
			if err != nil {
				return err
			}
			if e.compar(match.Key(e.mf.Base()), key) == 0 {
				if err := e.checkTail(match); err != nil {
					return err
				}
				l.exact = true
				l.rec = match
				// The matched record's own pointers become the
				// forward frame at its levels, so a replacement or
				// delete links past it.
				for i := 0; i <= int(match.Level); i++ {
					l.forward[i] = match.PointerAt(i, e.end)
				}
			}
		}
	}

	l.generation = e.hdr.Generation
	l.end = e.end
	l.valid = true
	l.framed = true
	return nil
}

// findLoc positions the locator at key, reusing the cached frame when
// the requested key is the cached one or falls inside the gap between
// the cached position and its level-0 successor.
func (e *Engine) findLoc(key []byte) error {
	l := &e.loc
	if !l.current(e) || !l.framed || len(key) == 0 || len(l.key) == 0 {
		return e.relocate(key)
	}

	cmp := e.compar(key, l.key)
	if cmp == 0 {
		return nil
	}
	if cmp < 0 {
		return e.relocate(key)
	}

	// key > cached key. If it sits before the cached level-0
	// successor, the frame shifts without a traversal: there are no
	// records strictly between the cached key and key, so every
	// predecessor stays a predecessor.
	var gapNext *record.Record
	if next0 := l.forward[0]; next0 != 0 {
		next, err := e.readRecord(next0)
		if err != nil {
			return err
		}
		c := e.compar(key, next.Key(e.mf.Base()))
		if c > 0 {
			return e.relocate(key)
		}
		if c == 0 {
			gapNext = next
		}
	}

	if prev := l.rec; l.exact && prev != nil {
		// The previously matched record now precedes key at all of
		// its levels.
		for i := 0; i <= int(prev.Level); i++ {
			l.back[i] = prev.Offset
		}
	}
	l.setKey(key)
	if gapNext != nil {
		if err := e.checkTail(gapNext); err != nil {
			return err
		}
		l.exact = true
		l.rec = gapNext
		for i := 0; i <= int(gapNext.Level); i++ {
			l.forward[i] = gapNext.PointerAt(i, e.end)
		}
	} else {
		l.exact = false
		l.rec = nil
	}
	return nil
}

// advance steps the locator to the next key in comparator order,
// returning its record, or nil at the end of the list. The locator is
// re-relocated first if the engine mutated underneath it.
func (e *Engine) advance() (*record.Record, error) {
	l := &e.loc
	if !l.current(e) {
		if err := e.relocate(l.key); err != nil {
			return nil, err
		}
	}

	var nextOff uint64
	if l.exact && l.rec != nil {
		nextOff = l.rec.PointerAt(0, e.end)
	} else {
		nextOff = l.forward[0]
	}

	for nextOff != 0 {
		next, err := e.readRecord(nextOff)
		if err != nil {
			return nil, err
		}
		if next.Type == record.TypeDelete {
			nextOff = next.PointerAt(0, e.end)
			continue
		}
		if err := e.checkTail(next); err != nil {
			return nil, err
		}
		if l.exact && l.rec != nil {
			l.back[0] = l.rec.Offset
		}
		l.setKey(next.Key(e.mf.Base()))
		l.exact = true
		l.rec = next
		l.forward[0] = next.PointerAt(0, e.end)
		l.framed = false
		return next, nil
	}
	return nil, nil
}
