package ot

import "github.com/kolabsync/otserver/pkg/shiftindex"

// lessClientID reports whether a wins the tie-break against b: the smaller
// client id goes first. Both the DocumentSession and ClientSync call this
// exact function so the two can never diverge on concurrent same-position
// inserts (spec.md §4.3, §9).
func lessClientID(a, b string) bool {
	return a < b
}

// Transform rebases a as if b had already been applied to their common
// base, returning a' per the case tables in spec.md §4.3.
func Transform(a, b Operation) Operation {
	switch a.Kind {
	case KindInsert:
		switch b.Kind {
		case KindInsert:
			return transformInsertInsert(a, b)
		case KindDelete:
			return transformInsertDelete(a, b)
		}
	case KindDelete:
		switch b.Kind {
		case KindInsert:
			return transformDeleteInsert(a, b)
		case KindDelete:
			return transformDeleteDelete(a, b)
		}
	}
	return a
}

// transformInsertInsert implements spec.md §4.3 Insert–Insert.
func transformInsertInsert(a, b Operation) Operation {
	switch {
	case a.Pos < b.Pos:
		return a
	case a.Pos > b.Pos:
		a.Pos += b.InsertLen()
		return a
	default:
		// Same position: tie-break by client id. The smaller id wins (goes
		// first); if b wins, a shifts right past b's inserted text.
		if lessClientID(b.ClientID, a.ClientID) {
			a.Pos += b.InsertLen()
		}
		return a
	}
}

// transformInsertDelete implements spec.md §4.3 Insert–Delete.
func transformInsertDelete(a, b Operation) Operation {
	de := b.Pos + b.Len
	switch {
	case a.Pos <= b.Pos:
		return a
	case a.Pos >= de:
		a.Pos -= b.Len
		return a
	default:
		// b.Pos < a.Pos < de: insert lands inside a concurrently deleted
		// range; collapse to the delete's start.
		a.Pos = b.Pos
		return a
	}
}

// transformDeleteInsert implements spec.md §4.3 Delete–Insert.
func transformDeleteInsert(a, b Operation) Operation {
	ae := a.Pos + a.Len
	switch {
	case b.Pos <= a.Pos:
		a.Pos += b.InsertLen()
		return a
	case b.Pos >= ae:
		return a
	default:
		// a.Pos < b.Pos < ae: insert lands inside the range a deletes; the
		// delete absorbs the inserted text.
		a.Len += b.InsertLen()
		return a
	}
}

// transformDeleteDelete implements spec.md §4.3 Delete–Delete, evaluating
// the six cases top-to-bottom exactly as specified.
func transformDeleteDelete(a, b Operation) Operation {
	ae := a.Pos + a.Len
	be := b.Pos + b.Len

	switch {
	case be <= a.Pos:
		// 1: b entirely left of a.
		a.Pos -= b.Len
		return a
	case b.Pos >= ae:
		// 2: b entirely right of a.
		return a
	case b.Pos <= a.Pos && be >= ae:
		// 3: b contains a.
		a.Pos = b.Pos
		a.Len = 0
		return a
	case a.Pos <= b.Pos && ae >= be:
		// 4: a contains b.
		a.Len -= b.Len
		return a
	case b.Pos < a.Pos && a.Pos < be && be < ae:
		// 5: b overlaps a from the left.
		a.Pos = b.Pos
		a.Len = ae - be
		return a
	case a.Pos < b.Pos && b.Pos < ae && ae <= be:
		// 6: b overlaps a from the right.
		a.Len = b.Pos - a.Pos
		return a
	default:
		return a
	}
}

// TransformAgainst folds Transform(a, ·) over batch in order, as spec.md
// §4.3's "Batched transform" requires: a is transformed against batch[0],
// then the result against batch[1], and so on. Order matters and must match
// the server's apply order — this is the authoritative rebase path.
func TransformAgainst(a Operation, batch []Operation) Operation {
	for _, b := range batch {
		a = Transform(a, b)
	}
	return a
}

// RebaseShift rebases a against batch using a ShiftIndex of cumulative
// position deltas instead of a pairwise fold. Per spec.md §4.5/§9 this is
// an O(n log n) optimization that is equivalent to TransformAgainst only
// when no operation in batch straddles or collapses a's position — callers
// must not use it when that cannot be guaranteed (e.g. overlapping
// concurrent deletes around a's insertion point). TransformAgainst is
// authoritative when correctness is required.
func RebaseShift(a Operation, batch []Operation, docLen int) Operation {
	idx := shiftindex.New(docLen + 1)
	for _, b := range batch {
		switch b.Kind {
		case KindInsert:
			idx.AddInsert(int(b.Pos), int(b.InsertLen()))
		case KindDelete:
			idx.AddDelete(int(b.Pos), int(b.DeleteLen()))
		}
	}
	if a.Pos == 0 {
		return a
	}
	shift := idx.Query(int(a.Pos) - 1)
	newPos := int64(a.Pos) + shift
	if newPos < 0 {
		newPos = 0
	}
	a.Pos = uint32(newPos)
	return a
}

// TransformIndex rebases a plain code-point position (e.g. a cursor) past
// op, the same way an insert operation's own Pos would be rebased, except
// that a position equal to an insert's Pos always shifts right (there is no
// client-id tie-break for a bare position). Ported
// from the teacher's Retain/Insert/Delete transformIndex walk
// (pkg/server/kolabpad.go) to this spec's pos/len algebra.
func TransformIndex(op Operation, pos uint32) uint32 {
	switch op.Kind {
	case KindInsert:
		if op.Pos <= pos {
			return pos + op.InsertLen()
		}
		return pos
	case KindDelete:
		de := op.Pos + op.Len
		switch {
		case pos <= op.Pos:
			return pos
		case pos >= de:
			return pos - op.Len
		default:
			return op.Pos
		}
	default:
		return pos
	}
}
