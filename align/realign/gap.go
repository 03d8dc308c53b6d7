// Package realign rewrites a fragment's CIGAR against a per-bin catalog of
// observed gaps, picking the non-conflicting subset of gaps that lowers
// alignment cost without raising the mismatch rate above the original.
package realign

import (
	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/biopb"
)

// Gap is one observed indel: a reference position and a signed length.
// Positive length is a deletion from the reference; negative is an
// insertion into the reference; zero marks a position with no length (used
// only as a search key, never stored in a catalog).
type Gap struct {
	Pos    biopb.Coord
	Length int
}

// IsInsertion reports whether g is an insertion: read bases with no
// reference counterpart (negative Length).
func (g Gap) IsInsertion() bool { return g.Length < 0 }

// IsDeletion reports whether g removes bases from the reference.
func (g Gap) IsDeletion() bool { return g.Length > 0 }

// Len returns the gap's unsigned length.
func (g Gap) Len() int {
	if g.Length < 0 {
		return -g.Length
	}
	return g.Length
}

// OpType returns the CIGAR opcode this gap contributes when applied.
func (g Gap) OpType() cigar.OpType {
	if g.IsInsertion() {
		return cigar.Insert
	}
	return cigar.Delete
}

// BeginPos returns the reference position the gap starts at.
func (g Gap) BeginPos() biopb.Coord { return g.Pos }

// EndPos returns the reference position just past the gap's reference span.
// An insertion has zero reference span unless fatInsertions requests that
// it be treated as occupying Len() reference positions from its start (used
// by the catalog's coverage index and overlap scan).
func (g Gap) EndPos(fatInsertions bool) biopb.Coord {
	if g.IsDeletion() || fatInsertions {
		return g.Pos.Add(int32(g.Len()))
	}
	return g.Pos
}

// DeletionEndPos returns the position just past a deletion's reference
// span. Only valid for deletions.
func (g Gap) DeletionEndPos() biopb.Coord {
	return g.Pos.Add(int32(g.Len()))
}

// Overlaps reports whether g and other conflict per the catalog's
// overlap rule: they share reference span and are not both insertions
// anchored at the same position, or they are a same-start insertion and
// deletion pair.
func (g Gap) Overlaps(other Gap) bool {
	if g.IsInsertion() && other.IsInsertion() {
		// Insertions have no reference span; two at the same point combine.
		return false
	}
	if g.Pos.EQ(other.Pos) {
		return true
	}
	return biopb.Range{Start: g.BeginPos(), Limit: g.EndPos(false)}.
		Intersects(biopb.Range{Start: other.BeginPos(), Limit: other.EndPos(false)})
}
