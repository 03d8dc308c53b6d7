package realign

import (
	"encoding/binary"

	"github.com/minio/highwayhash"
	"v.io/x/lib/vlog"

	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/align/fragment"
	"github.com/grailbio/bioalign/biopb"
	"github.com/grailbio/bioalign/reference"
)

type subsetHashKey = [highwayhash.Size]uint8

var subsetZeroSeed = subsetHashKey{}

// subsetHash hashes a candidate's resulting CIGAR ops, used to skip
// re-scoring a gap choice whose result was already visited by an earlier
// choice in the same enumeration.
func subsetHash(buf *[]uint8, ops []cigar.Op) subsetHashKey {
	*buf = (*buf)[:0]
	var tmp [4]byte
	for _, op := range ops {
		binary.LittleEndian.PutUint32(tmp[:], uint32(op))
		*buf = append(*buf, tmp[:]...)
	}
	return highwayhash.Sum(*buf, subsetZeroSeed[:])
}

// Costs holds the per-mismatch, per-gap-open, and per-gap-extend costs the
// realigner minimizes over.
type Costs struct {
	Mismatch  int
	GapOpen   int
	GapExtend int
}

// DefaultCosts mirrors fragment.DefaultScores, expressed as the realigner's
// unsigned cost terms (cost = -score for a worse outcome).
var DefaultCosts = Costs{Mismatch: 8, GapOpen: 15, GapExtend: 3}

// Bin is the reference window one realignment pass is confined to; a chosen
// CIGAR that would place the read outside [Start, End) is rejected so reads
// are never double-realigned across adjacent bins.
type Bin struct {
	Start, End biopb.Coord
}

// Realigner rewrites fragment CIGARs against a per-bin gap catalog.
type Realigner struct {
	Ref   *reference.Reference
	Gaps  *RealignerGaps
	Bin   Bin
	Costs Costs

	// Vigorous re-runs the enumeration after every accepted rewrite until no
	// further improvement is found, instead of stopping after one pass.
	Vigorous bool
}

// New returns a Realigner for one bin's catalog.
func New(ref *reference.Reference, gaps *RealignerGaps, bin Bin, costs Costs) *Realigner {
	return &Realigner{Ref: ref, Gaps: gaps, Bin: bin, Costs: costs}
}

// candidate is one scored CIGAR rewrite considered during subset
// enumeration. ops is already compacted: flanking deletes are folded into
// position (leadDel) and flanking inserts into soft-clip (leadIns/trailIns).
type candidate struct {
	ops          []cigar.Op
	position     int
	leadDel      int
	leadIns      int
	trailIns     int
	mismatches   int
	gapCount     int
	gapLength    int
	editDistance int
	cost         float64
}

// Realign attempts to rewrite f's CIGAR using a non-conflicting subset of
// the bin's catalog gaps overlapping f's extent. It returns true if it found
// and applied a strictly better CIGAR; f is left unmodified otherwise.
//
// Gate conditions (skip and return false): f is unmapped, has zero edit
// distance, is a singleton whose mate lies in another bin, is dodgy (unless
// the caller has already decided to realign dodgy alignments), or has
// clipping that pushes it to a negative position.
func (r *Realigner) Realign(f *fragment.FragmentMetadata, mateInSameBin, dodgy, allowDodgy bool, arena *cigar.Arena) bool {
	if f.Unmapped || f.EditDistance == 0 {
		return false
	}
	if !mateInSameBin {
		return false
	}
	if dodgy && !allowDodgy {
		return false
	}
	improved := false
	for r.realignOnce(f, arena) {
		improved = true
		if !r.Vigorous {
			break
		}
	}
	return improved
}

func (r *Realigner) realignOnce(f *fragment.FragmentMetadata, arena *cigar.Arena) bool {
	if f.UnclippedPosition() < 0 {
		return false
	}

	beginPos := f.Coord().Add(int32(-f.LeftSoftClip))
	endPos := beginPos.Add(int32(f.ObservedLength))
	if !r.Gaps.SpanOverlapsGap(beginPos, endPos) {
		return false
	}
	overlapping := r.Gaps.Overlapping(beginPos, endPos)
	if len(overlapping) > MaxGapsAtATime {
		overlapping = overlapping[:MaxGapsAtATime]
	}
	if len(overlapping) == 0 {
		return false
	}

	filter := NewOverlappingGapsFilter(overlapping)
	originalRate := mismatchRate(f.Mismatches, f.ObservedLength)
	originalCost := r.costOf(f.Mismatches, f.GapCount, f.GapLength)

	var best *candidate
	seen := make(map[subsetHashKey]bool)
	var hashBuf []uint8
	for choice, ok := filter.First(), true; ok; choice, ok = filter.Next(choice) {
		if choice == 0 {
			continue
		}
		chosen := selectGaps(overlapping, choice)
		if !validChoice(chosen) {
			continue
		}
		cand := r.buildCandidate(f, chosen)
		if cand == nil {
			continue
		}
		if h := subsetHash(&hashBuf, cand.ops); seen[h] {
			continue
		} else {
			seen[h] = true
		}
		// Compaction may have moved the read's start; the result must still
		// lie inside this bin or the choice is abandoned, not applied.
		newUnclipped := cand.position + cand.leadDel - cand.leadIns
		if newUnclipped < int(r.Bin.Start.Pos) || newUnclipped >= int(r.Bin.End.Pos) {
			continue
		}
		alignStart := f.Position + cand.leadDel
		if alignStart+cigar.ObservedLength(cand.ops) > r.Ref.Len(f.ContigID) {
			continue
		}
		if mismatchRate(cand.mismatches, cigar.ObservedLength(cand.ops)) > originalRate {
			continue
		}
		if best == nil || cand.cost < best.cost || (cand.cost == best.cost && cand.editDistance < best.editDistance) {
			best = cand
			vlog.VI(2).Infof("realign: bin [%v,%v) fragment at %d: new best choice %#x cost=%.1f edits=%d", r.Bin.Start, r.Bin.End, f.UnclippedPosition(), choice, cand.cost, cand.editDistance)
		}
	}

	if best == nil || best.cost >= originalCost {
		return false
	}

	rng := arena.AppendRange(best.ops)
	f.Position += best.leadDel
	f.LeftSoftClip += best.leadIns
	f.RightSoftClip += best.trailIns
	f.CigarRange = rng
	f.Mismatches = best.mismatches
	f.GapCount = best.gapCount
	f.GapLength = best.gapLength
	f.EditDistance = best.editDistance
	f.ObservedLength = cigar.ObservedLength(best.ops)
	return true
}

func mismatchRate(mismatches, observedLength int) float64 {
	if observedLength <= 0 {
		return 0
	}
	return float64(mismatches) / float64(observedLength)
}

func (r *Realigner) costOf(mismatches, gapCount, gapLength int) float64 {
	extend := gapLength - gapCount
	return float64(mismatches*r.Costs.Mismatch + gapCount*r.Costs.GapOpen + extend*r.Costs.GapExtend)
}

func selectGaps(gaps []Gap, choice uint32) []Gap {
	var out []Gap
	for i := 0; i < len(gaps); i++ {
		if choice&(1<<uint(i)) != 0 {
			out = append(out, gaps[i])
		}
	}
	return out
}

// validChoice re-checks the subset-level constraints the conflict-mask
// filter doesn't already encode: deletions may not overlap each other, and
// no two gaps may start at the same position unless both are insertions.
func validChoice(gaps []Gap) bool {
	for i := range gaps {
		for j := i + 1; j < len(gaps); j++ {
			a, b := gaps[i], gaps[j]
			if a.IsDeletion() && b.IsDeletion() && a.Overlaps(b) {
				return false
			}
			if a.Pos.EQ(b.Pos) && a.IsInsertion() != b.IsInsertion() {
				return false
			}
		}
	}
	return true
}

// buildCandidate walks f's read against the reference with the chosen gaps
// applied instead of the original CIGAR's indels, via verifyGapsChoice, then
// compacts the result and prices it. Returns nil if applying the gaps at the
// fragment's current anchor would walk the read off either end.
func (r *Realigner) buildCandidate(f *fragment.FragmentMetadata, chosen []Gap) *candidate {
	if len(chosen) == 0 {
		return nil
	}
	sortByPos(chosen)

	ops, mismatches := r.verifyGapsChoice(f, chosen)
	if ops == nil {
		return nil
	}
	compacted, leadDel, leadIns, trailIns := compactCigar(ops)
	gapCount, gapLength := 0, 0
	for _, op := range compacted {
		if t := op.Type(); t == cigar.Insert || t == cigar.Delete {
			gapCount++
			gapLength += op.Len()
		}
	}
	return &candidate{
		ops:          compacted,
		position:     f.UnclippedPosition(),
		leadDel:      leadDel,
		leadIns:      leadIns,
		trailIns:     trailIns,
		mismatches:   mismatches,
		gapCount:     gapCount,
		gapLength:    gapLength,
		editDistance: mismatches + gapLength,
		cost:         r.costOf(mismatches, gapCount, gapLength),
	}
}

func sortByPos(gaps []Gap) {
	for i := 1; i < len(gaps); i++ {
		for j := i; j > 0 && gaps[j].Pos.LT(gaps[j-1].Pos); j-- {
			gaps[j], gaps[j-1] = gaps[j-1], gaps[j]
		}
	}
}

// verifyGapsChoice walks the read segment-by-segment between chosen gaps,
// counting mismatches in each ALIGN stretch, and returns the resulting
// (merged, uncompacted) CIGAR ops along with the tallied mismatch count.
func (r *Realigner) verifyGapsChoice(f *fragment.FragmentMetadata, chosen []Gap) (ops []cigar.Op, mismatches int) {
	vlog.VI(2).Infof("realign: verifying %d-gap choice at %v for fragment at %d", len(chosen), chosen, f.UnclippedPosition())
	read := &f.Cluster.Reads[f.ReadIndex]
	bases := read.StrandBases(f.Reverse)
	contig := r.Ref.Contig(f.ContigID)

	readPos := f.LeftSoftClip
	refPos := int32(f.UnclippedPosition()) + int32(f.LeftSoftClip)

	if f.LeftSoftClip > 0 {
		ops = append(ops, cigar.Encode(f.LeftSoftClip, cigar.SoftClip))
	}

	emitAlign := func(refEnd int32) {
		n := int(refEnd - refPos)
		if n <= 0 {
			return
		}
		for k := 0; k < n; k++ {
			rp := readPos + k
			if rp >= 0 && rp < len(bases) && bases[rp] != contig.Base(int(refPos)+k) {
				mismatches++
			}
		}
		ops = append(ops, cigar.Encode(n, cigar.Align))
		refPos = refEnd
		readPos += n
	}

	for _, g := range chosen {
		if g.Pos.RefID != int32(f.ContigID) {
			continue
		}
		if g.Pos.Pos < refPos {
			return nil, 0
		}
		emitAlign(g.Pos.Pos)
		ops = append(ops, cigar.Encode(g.Len(), g.OpType()))
		if g.IsDeletion() {
			refPos += int32(g.Len())
		} else {
			readPos += g.Len()
		}
	}

	readEnd := len(bases) - f.RightSoftClip
	remaining := readEnd - readPos
	if remaining < 0 {
		return nil, 0
	}
	emitAlign(refPos + int32(remaining))

	if f.RightSoftClip > 0 {
		ops = append(ops, cigar.Encode(f.RightSoftClip, cigar.SoftClip))
	}

	return cigar.Merge(nil, ops), mismatches
}

// compactCigar folds flanking indels into the record's position and
// soft-clip counters, matching the BAM convention that a CIGAR never begins
// or ends with an indel: a leading delete becomes a position shift (leadDel),
// a leading/trailing insert becomes soft-clip (leadIns/trailIns), and a
// trailing delete simply shortens the reference span. Pre-existing soft-clip
// ops on either end are preserved and merged with the new clip.
func compactCigar(ops []cigar.Op) (compacted []cigar.Op, leadDel, leadIns, trailIns int) {
	var leadSoft, trailSoft int
	if len(ops) > 0 && ops[0].Type() == cigar.SoftClip {
		leadSoft = ops[0].Len()
		ops = ops[1:]
	}
	if n := len(ops); n > 0 && ops[n-1].Type() == cigar.SoftClip {
		trailSoft = ops[n-1].Len()
		ops = ops[:n-1]
	}
	for len(ops) > 0 && ops[0].Type() != cigar.Align {
		if ops[0].Type() == cigar.Delete {
			leadDel += ops[0].Len()
		} else {
			leadIns += ops[0].Len()
		}
		ops = ops[1:]
	}
	for len(ops) > 0 && ops[len(ops)-1].Type() != cigar.Align {
		if ops[len(ops)-1].Type() == cigar.Insert {
			trailIns += ops[len(ops)-1].Len()
		}
		ops = ops[:len(ops)-1]
	}

	if leadSoft+leadIns > 0 {
		compacted = append(compacted, cigar.Encode(leadSoft+leadIns, cigar.SoftClip))
	}
	compacted = cigar.Merge(compacted, ops)
	if trailSoft+trailIns > 0 {
		compacted = cigar.Merge(compacted, []cigar.Op{cigar.Encode(trailSoft+trailIns, cigar.SoftClip)})
	}
	return compacted, leadDel, leadIns, trailIns
}
