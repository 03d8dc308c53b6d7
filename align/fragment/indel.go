package fragment

import (
	"github.com/dgryski/go-farm"

	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/align/sw"
	"github.com/grailbio/bioalign/reference"
)

// GapFlankBases is the number of bases on each side of a candidate indel
// position re-counted for mismatches when sweeping the legal offset window.
const GapFlankBases = 32

// GapFlankMismatchesMax rejects a candidate indel position if either flank
// has more mismatches than this.
const GapFlankMismatchesMax = 8

// MaxSemialignedGap is the largest |Δ| the simple-indel aligner will
// attempt to explain with a single insertion or deletion; it mirrors the
// banded Smith-Waterman band's own gap limit, so a candidate the
// simple-indel aligner accepts is always one the gapped aligner could also
// have produced.
const MaxSemialignedGap = sw.MaxGap

// SimpleIndelAligner reconciles head and tail, two already ungapped-aligned
// candidates of the same read anchored by different seeds whose positions
// disagree, by inserting a single insertion or deletion between the two
// seeds' read offsets. It rewrites tail's CIGAR in place and returns true if
// it found an acceptable placement that strictly improves on tail's current
// score.
func SimpleIndelAligner(ref *reference.Reference, head, tail *FragmentMetadata, headSeedEnd, tailSeedStart int, arena *cigar.Arena, scores Scores) bool {
	delta := tail.UnclippedPosition() - head.UnclippedPosition()
	if delta == 0 {
		return false
	}
	isDeletion := delta > 0
	gapLen := delta
	if !isDeletion {
		gapLen = -gapLen
	}
	if gapLen > MaxSemialignedGap {
		return false
	}

	windowBegin := headSeedEnd
	windowEnd := tailSeedStart
	if !isDeletion {
		// The inserted bases themselves must fit between the two seeds.
		windowEnd -= gapLen
	}
	if windowEnd < windowBegin {
		return false
	}

	// The head seed anchors the read: base 0 sits at head's unclipped
	// position, and everything after the gap is shifted by its length.
	readStart := head.UnclippedPosition()
	if readStart < 0 {
		return false
	}

	read := &tail.Cluster.Reads[tail.ReadIndex]
	bases := read.StrandBases(tail.Reverse)
	contig := ref.Contig(tail.ContigID)

	refShift := gapLen
	if !isDeletion {
		refShift = -gapLen
	}

	bestOffset := -1
	bestTotal := GapFlankMismatchesMax*2 + 1
	for offset := windowBegin; offset <= windowEnd; offset++ {
		left := flankMismatches(bases, contig, readStart, offset-GapFlankBases, offset, 0)
		rightBegin := offset
		if !isDeletion {
			rightBegin += gapLen
		}
		right := flankMismatches(bases, contig, readStart, rightBegin, rightBegin+GapFlankBases, refShift)
		if left > GapFlankMismatchesMax || right > GapFlankMismatchesMax {
			continue
		}
		if total := left + right; total < bestTotal {
			bestTotal = total
			bestOffset = offset
		}
	}
	if bestOffset < 0 {
		return false
	}

	saved := *tail
	begin := arena.Len()
	arena.Add(bestOffset, cigar.Align)
	if isDeletion {
		arena.Add(gapLen, cigar.Delete)
	} else {
		arena.Add(gapLen, cigar.Insert)
	}
	tailAlign := len(bases) - bestOffset
	if !isDeletion {
		tailAlign -= gapLen
	}
	if tailAlign > 0 {
		arena.Add(tailAlign, cigar.Align)
	}

	tail.Position = readStart
	tail.LeftSoftClip = 0
	tail.RightSoftClip = 0
	AlignerBase(ref, tail, readStart, arena, begin, scores)

	improves := tail.SWScore < saved.SWScore || (tail.SWScore == saved.SWScore && tail.Mismatches < saved.Mismatches)
	if !improves {
		*tail = saved
		arena.Truncate(begin)
		return false
	}

	tail.CigarRange = cigar.Range{Begin: begin, End: arena.Len()}
	return true
}

// flankMismatches counts read/reference disagreements over read indices
// [begin, end), with read base r placed at reference offset
// readStart+r+refShift; indices outside the read are skipped.
func flankMismatches(bases []byte, contig *reference.Contig, readStart, begin, end, refShift int) int {
	n := 0
	for r := begin; r < end; r++ {
		if r < 0 || r >= len(bases) {
			continue
		}
		if bases[r] != contig.Base(readStart+r+refShift) {
			n++
		}
	}
	return n
}

// kmerVotes counts, per implied read-start offset, how many unique
// query-7-mer database hits support it; used by GappedAligner's cost gate.
type kmerVotes map[int]int

const gappedKmerLen = 7

func hash7(b []byte) uint64 { return farm.Hash64(b) }

// hasMultipleAnchors reports whether query's 7-mers hit database at ≥2
// distinct implied offsets with ≥8 votes each, the signal that a gap (not a
// simple mismatch pile-up) explains the fragment's elevated mismatch count.
func hasMultipleAnchors(query, database []byte) bool {
	if len(query) < gappedKmerLen || len(database) < gappedKmerLen {
		return false
	}
	queryPos := make(map[uint64]int, len(query))
	for i := 0; i+gappedKmerLen <= len(query); i++ {
		h := hash7(query[i : i+gappedKmerLen])
		if _, seen := queryPos[h]; seen {
			queryPos[h] = -1
		} else {
			queryPos[h] = i
		}
	}

	votes := make(kmerVotes)
	for i := 0; i+gappedKmerLen <= len(database); i++ {
		h := hash7(database[i : i+gappedKmerLen])
		qi, ok := queryPos[h]
		if !ok || qi < 0 {
			continue
		}
		votes[i-qi]++
	}

	distinct := 0
	for _, v := range votes {
		if v >= 8 {
			distinct++
		}
	}
	return distinct >= 2
}

// GappedAligner attempts to improve f by replacing its ALIGN region with a
// banded Smith-Waterman alignment over a window centered on f's current
// position. It rewrites f's CIGAR/position and returns true only if the
// result strictly improves on the original per the acceptance rule: new
// mismatch count is lower and at most maxMismatches (0 = unlimited), new
// log-probability is higher, and the new alignment covers at least as much
// of the read as before (within the band's own width).
func GappedAligner(scorer *sw.Scorer, ref *reference.Reference, f *FragmentMetadata, arena *cigar.Arena, scores Scores, maxMismatches int) bool {
	read := &f.Cluster.Reads[f.ReadIndex]
	bases := read.StrandBases(f.Reverse)
	readLen := len(bases)

	contig := ref.Contig(f.ContigID)
	windowStart := f.UnclippedPosition() - sw.Width/2
	if windowStart < 0 {
		windowStart = 0
	}
	if windowStart+readLen+sw.Width-1 > contig.Len() {
		windowStart = contig.Len() - (readLen + sw.Width - 1)
		if windowStart < 0 {
			windowStart = 0
		}
	}
	if contig.Len() < readLen+sw.Width-1 {
		return false
	}

	database := make([]byte, readLen+sw.Width-1)
	for i := range database {
		database[i] = contig.Base(windowStart + i)
	}

	if !hasMultipleAnchors(bases, database) {
		return false
	}

	saved := *f

	begin := arena.Len()
	_, offset, err := scorer.Align(bases, database, arena)
	if err != nil {
		arena.Truncate(begin)
		return false
	}

	candidatePosition := windowStart + offset
	matches := AlignerBase(ref, f, candidatePosition, arena, begin, scores)

	accept := matches+sw.Width >= saved.ObservedLength &&
		f.Mismatches < saved.Mismatches &&
		(maxMismatches <= 0 || f.Mismatches <= maxMismatches) &&
		f.LogProbability > saved.LogProbability

	if !accept {
		*f = saved
		arena.Truncate(begin)
		return false
	}

	f.Position = candidatePosition
	f.LeftSoftClip = 0
	f.RightSoftClip = 0
	f.CigarRange = cigar.Range{Begin: begin, End: arena.Len()}
	return true
}
