// Package fragment builds and scores per-read candidate alignments: the
// ungapped placement from a seed match, adapter and gapped refinement of
// it, and the simple-indel reconciliation of two disagreeing candidates.
package fragment

import (
	"math"

	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/biopb"
	"github.com/grailbio/bioalign/biosimd"
	"github.com/grailbio/bioalign/cluster"
	"github.com/grailbio/bioalign/reference"
)

// Scores holds the match/mismatch/gap-open/gap-extend values every
// component in this package scores alignments with.
type Scores struct {
	Match     int
	Mismatch  int
	GapOpen   int
	GapExtend int
}

// DefaultScores matches the values the upstream aligner core ships with.
var DefaultScores = Scores{Match: 2, Mismatch: -8, GapOpen: -15, GapExtend: -3}

// GappedCutoff is the mismatch count above which the fragment builder
// attempts a gapped (Smith-Waterman) realignment of a candidate.
const GappedCutoff = 5

// FragmentMetadata is one candidate alignment of one read.
type FragmentMetadata struct {
	Cluster *cluster.Cluster

	ReadIndex int
	ContigID  int
	Position  int // leftmost forward-strand reference position, may be negative before clipping resolves it
	Reverse   bool

	CigarRange cigar.Range

	ObservedLength int
	Mismatches     int
	EditDistance   int
	GapCount       int
	GapLength      int
	SWScore        int
	LogProbability float64
	LongestMatch   int

	LeftSoftClip  int
	RightSoftClip int

	// FirstSeedIndex is the index into the seedMetadata slice of the seed
	// that first produced this fragment.
	FirstSeedIndex  int
	UniqueSeedCount int

	LeftAdapterClip  int
	RightAdapterClip int

	// BamTlen and MateFStrandPosition are the pair-level fields the template
	// builder keeps in sync; a realignment that moves either mate invalidates
	// them until the builder's UpdatePairFields recomputes them.
	BamTlen             int
	MateFStrandPosition int

	Unmapped bool
}

// UnclippedPosition returns the position the read would start at if its
// leading soft-clip were alignment instead.
func (f *FragmentMetadata) UnclippedPosition() int {
	return f.Position - f.LeftSoftClip
}

// Key is the (contigId, position, reverse) identity fragments are
// deduplicated by.
type Key struct {
	ContigID int
	Position int
	Reverse  bool
}

// Key returns f's dedup identity.
func (f *FragmentMetadata) Key() Key {
	return Key{ContigID: f.ContigID, Position: f.Position, Reverse: f.Reverse}
}

// phredMatchLogProb and phredMismatchLogProb give log P(observation | Q)
// for a match/mismatch at phred quality q, using the standard phred
// error-probability definition e = 10^(-q/10).
func phredMatchLogProb(q byte) float64 {
	e := math.Pow(10, -float64(q)/10)
	if e >= 1 {
		e = 1 - 1e-9
	}
	return math.Log(1 - e)
}

func phredMismatchLogProb(q byte) float64 {
	e := math.Pow(10, -float64(q)/10)
	if e <= 0 {
		e = 1e-9
	}
	// A mismatch may be any of the 3 other bases; split the error mass
	// evenly, matching the standard phred-quality interpretation.
	return math.Log(e / 3)
}

// AlignerBase walks the CIGAR ops in [cigarBegin, arena end) against the
// read (on the strand the fragment is placed on) and the reference
// starting at strandPosition, and fills in every derived field on f. It
// returns the number of matching bases found.
func AlignerBase(ref *reference.Reference, f *FragmentMetadata, strandPosition int, arena *cigar.Arena, cigarBegin int, scores Scores) int {
	ops := arena.Slice(cigar.Range{Begin: cigarBegin, End: arena.Len()})
	read := &f.Cluster.Reads[f.ReadIndex]
	bases := read.StrandBases(f.Reverse)
	quals := read.StrandQuals(f.Reverse)
	contig := ref.Contig(f.ContigID)

	readPos := 0
	refPos := strandPosition

	matches := 0
	mismatches := 0
	gapCount := 0
	gapLength := 0
	observedLength := 0
	logProb := 0.0
	longestMatch := 0
	runMatch := 0

	// If the read carries no 'N' at all, rb can never equal 'N', so the
	// per-base check below is redundant; skip it for the common case.
	noN := !biosimd.IsNonACGTPresent(bases)

	for _, op := range ops {
		switch op.Type() {
		case cigar.Align:
			for i := 0; i < op.Len(); i++ {
				rb := bases[readPos]
				db := contig.Base(refPos)
				q := quals[readPos]
				if rb == db && (noN || rb != 'N') {
					matches++
					runMatch++
					logProb += phredMatchLogProb(q)
				} else {
					mismatches++
					runMatch = 0
					logProb += phredMismatchLogProb(q)
				}
				if runMatch > longestMatch {
					longestMatch = runMatch
				}
				readPos++
				refPos++
			}
			observedLength += op.Len()
		case cigar.Insert:
			gapCount++
			gapLength += op.Len()
			readPos += op.Len()
			runMatch = 0
		case cigar.Delete:
			gapCount++
			gapLength += op.Len()
			refPos += op.Len()
			observedLength += op.Len()
			runMatch = 0
		case cigar.SoftClip:
			for i := 0; i < op.Len(); i++ {
				logProb += phredMatchLogProb(quals[readPos])
				readPos++
			}
			runMatch = 0
		}
	}

	f.Mismatches = mismatches
	f.GapCount = gapCount
	f.GapLength = gapLength
	f.EditDistance = mismatches + gapLength
	f.ObservedLength = observedLength
	f.LogProbability = logProb
	f.LongestMatch = longestMatch
	f.SWScore = normalizedSWScore(mismatches, gapCount, gapLength, scores)

	return matches
}

// normalizedSWScore computes the teacher's "higher is worse" SW score, with
// gap-extend contribution capped so a very long single gap can't dominate
// a fragment of otherwise-good mismatches.
func normalizedSWScore(mismatches, gaps, gapLengths int, s Scores) int {
	const maxGapExtendBases = 20
	extendBases := gapLengths - gaps
	if extendBases > maxGapExtendBases*gaps {
		extendBases = maxGapExtendBases * gaps
	}
	return (s.Match-s.Mismatch)*mismatches + (s.Match-s.GapOpen)*gaps + (s.Match-s.GapExtend)*extendBases
}

// ClipToContig applies the reference-clipping rule: a negative position is
// folded into leading soft-clip (advancing position to 0), and a read
// overrunning the contig's end is folded into trailing soft-clip, with the
// usual off-by-one rollback when the read is entirely beyond the contig.
func ClipToContig(ref *reference.Reference, contigID, position, readLength int) (clippedPosition, leadingClip, trailingClip int) {
	contigLen := ref.Len(contigID)
	clippedPosition = position
	if position < 0 {
		leadingClip = -position
		clippedPosition = 0
	}
	remaining := readLength - leadingClip
	overrun := (clippedPosition + remaining) - contigLen
	if overrun > 0 {
		if overrun >= remaining {
			overrun = remaining - 1
			if overrun < 0 {
				overrun = 0
			}
		}
		trailingClip = overrun
	}
	return clippedPosition, leadingClip, trailingClip
}

// Coord returns f's aligned position as a comparable reference coordinate.
func (f *FragmentMetadata) Coord() biopb.Coord {
	return biopb.Coord{RefID: int32(f.ContigID), Pos: int32(f.Position)}
}
