package engine

import (
	"fmt"

	"github.com/leengari/skiplog/internal/record"
)

// ===========================================================================
// MUTATOR
// ===========================================================================
//
// All mutation is append-then-stitch: the new record lands at the end
// of the file, then the predecessors' forward pointers are rewritten
// to reach it. Level 0 stitches into the twin-slot pair so the
// committed chain survives a crash or abort untouched; higher levels
// are repaired by recovery, which relinks them from the surviving
// level-0 chain.
//
// Both entry points require a framed locator (a preceding findLoc on
// the same handle with no intervening mutation by someone else).
//
// ===========================================================================

// storeHere appends a Key record for the locator's key and stitches it
// into the list, replacing any existing record for the same key.
func (e *Engine) storeHere(val []byte) error {
	l := &e.loc
	if !l.valid || !l.framed {
		return fmt.Errorf("%w: store on an unframed locator", ErrInternal)
	}

	oldLevel := 0
	if l.exact {
		oldLevel = int(l.rec.Level)
		e.hdr.NumRecords--
	}
	newLevel := e.randomLevel()

	rec := &record.Record{Type: record.TypeKey, Level: uint8(newLevel)}
	rec.Next[0] = l.forward[0]
	for i := 1; i <= newLevel; i++ {
		rec.Next[i+1] = l.forward[i]
	}

	// The key aliases the locator's buffer; appendRecord copies it to
	// disk before anything else moves.
	if err := e.appendRecord(rec, l.key, val); err != nil {
		return err
	}

	// Stitch the predecessors onto the new record, then restore the
	// forward frame to the record's own successors so the locator
	// matches what a fresh exact relocate would build.
	var succ [record.MaxLevel + 1]uint64
	for i := 0; i <= newLevel; i++ {
		succ[i] = l.forward[i]
		l.forward[i] = rec.Offset
	}
	maxLevel := newLevel
	if oldLevel > maxLevel {
		maxLevel = oldLevel
	}
	if err := e.stitch(maxLevel); err != nil {
		return err
	}
	for i := 0; i <= newLevel; i++ {
		l.forward[i] = succ[i]
	}

	e.hdr.NumRecords++
	l.exact = true
	l.rec = rec
	l.end = e.end
	return nil
}

// deleteHere unlinks the locator's matched record at every level and
// appends a tombstone carrying the key, so rebuild-from-commits can
// replay the deletion.
func (e *Engine) deleteHere() error {
	l := &e.loc
	if !l.valid || !l.framed || !l.exact {
		return fmt.Errorf("%w: delete on a non-matching locator", ErrInternal)
	}
	victim := l.rec

	tomb := &record.Record{Type: record.TypeDelete, Level: 0}
	tomb.Next[0] = l.forward[0] // level-0 successor of the victim
	if err := e.appendRecord(tomb, l.key, nil); err != nil {
		return err
	}

	// The forward frame already points past the victim (relocate
	// snapshots the matched record's own pointers), so stitching its
	// levels removes it from the list.
	if err := e.stitch(int(victim.Level)); err != nil {
		return err
	}

	e.hdr.NumRecords--
	l.exact = false
	l.rec = nil
	l.end = e.end
	return nil
}

// stitch rewrites the back-pointer chain for every level up to and
// including maxLevel, pointing each predecessor at the locator's
// forward offset for that level. Predecessors at consecutive levels
// coincide in runs, so each distinct record is loaded and rewritten
// once.
func (e *Engine) stitch(maxLevel int) error {
	l := &e.loc
	for i := 0; i <= maxLevel; {
		predOff := l.back[i]
		pred, err := e.readRecord(predOff)
		if err != nil {
			return err
		}
		j := i
		for j <= maxLevel && l.back[j] == predOff {
			if j == 0 {
				slot := pred.Level0Victim(e.hdr.CurrentSize)
				pred.Next[slot] = l.forward[0]
			} else {
				pred.Next[j+1] = l.forward[j]
			}
			j++
		}
		if err := e.rewriteHead(pred); err != nil {
			return err
		}
		i = j
	}
	return nil
}
