package realign

import (
	"sort"

	"github.com/biogo/store/llrb"

	"github.com/grailbio/bioalign/biopb"
)

// gapKey orders Gap values by (start position, signed length), matching the
// catalog's primary sort order. Used only while the catalog is being built;
// llrb.Tree needs a Comparable wrapper since Gap itself carries no ordering.
type gapKey Gap

func (k gapKey) Compare(c llrb.Comparable) int {
	o := c.(gapKey)
	if d := k.Pos.Compare(o.Pos); d != 0 {
		return d
	}
	return k.Length - o.Length
}

// RealignerGaps is the full set of gaps observed in one genomic bin,
// accumulated via AddGap and queried after FinalizeGaps sorts them. It is
// built once per bin and then read by every fragment realigned in that bin.
type RealignerGaps struct {
	tree llrb.Tree
	n    int

	byStart  []Gap // sorted by (Pos, Length)
	byDelEnd []Gap // deletions only, sorted by DeletionEndPos

	// coverage answers "does any gap touch this span" in O(log n), letting
	// the realigner skip the per-fragment overlap scan for the overwhelming
	// majority of fragments that no catalog gap goes near.
	coverage *gapCoverage
}

// NewRealignerGaps returns an empty catalog.
func NewRealignerGaps() *RealignerGaps {
	return &RealignerGaps{}
}

// AddGap records one observed gap. May be called any number of times before
// FinalizeGaps; a gap equal to one already recorded is ignored (a gap
// observed by more reads is not distinguished from one observed once, the
// catalog only records presence).
func (g *RealignerGaps) AddGap(gap Gap) {
	k := gapKey(gap)
	if g.tree.Get(k) != nil {
		return
	}
	g.tree.Insert(k)
	g.n++
}

// FinalizeGaps derives the two sorted views and the coverage index;
// Overlapping reads byStart, and no query reads byDelEnd. Must be
// called once, after every AddGap call and before any query method.
func (g *RealignerGaps) FinalizeGaps() {
	g.byStart = make([]Gap, 0, g.n)
	g.tree.Do(func(c llrb.Comparable) bool {
		g.byStart = append(g.byStart, Gap(c.(gapKey)))
		return false
	})
	g.byDelEnd = make([]Gap, 0, g.n)
	for _, gap := range g.byStart {
		if gap.IsDeletion() {
			g.byDelEnd = append(g.byDelEnd, gap)
		}
	}
	sort.Slice(g.byDelEnd, func(i, j int) bool {
		return g.byDelEnd[i].DeletionEndPos().LT(g.byDelEnd[j].DeletionEndPos())
	})

	begins := make([]pos, 0, len(g.byStart))
	ends := make([]pos, 0, len(g.byStart))
	for _, gap := range g.byStart {
		begins = append(begins, pos(gap.Pos.Pos))
		// Insertions get their fat span here; with no reference span of
		// their own they would otherwise be dropped from the index.
		ends = append(ends, pos(gap.EndPos(true).Pos))
	}
	g.coverage = newGapCoverage(begins, ends)
}

// SpanOverlapsGap reports whether any catalog gap touches [begin, end). A
// bin's catalog covers a single contig, so only offsets are compared.
func (g *RealignerGaps) SpanOverlapsGap(begin, end biopb.Coord) bool {
	return g.coverage != nil && g.coverage.Intersects(pos(begin.Pos), pos(end.Pos))
}

// Len returns the number of distinct gaps in the catalog.
func (g *RealignerGaps) Len() int { return len(g.byStart) }

// Overlapping returns every gap whose reference span intersects
// [begin, end), in (Pos, Length) order. The caller truncates this to
// MaxGapsAtATime before enumerating subsets.
func (g *RealignerGaps) Overlapping(begin, end biopb.Coord) []Gap {
	span := biopb.Range{Start: begin, Limit: end}
	// byStart is ordered by start, not by end, so a long gap starting well
	// before begin can still reach into the span; the scan starts at the
	// first gap and stops at the first one starting at or past end.
	lo := 0
	var out []Gap
	for i := lo; i < len(g.byStart); i++ {
		gap := g.byStart[i]
		if gap.BeginPos().GE(end) {
			break
		}
		if span.Intersects(biopb.Range{Start: gap.BeginPos(), Limit: gap.EndPos(true)}) ||
			(gap.IsInsertion() && span.Contains(gap.Pos)) {
			out = append(out, gap)
		}
	}
	return out
}
