package fragment

import (
	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/reference"
)

// UngappedAligner places a fragment at its current (contigId, position),
// applies adapter clipping and reference clipping, emits a
// {leftSoftClip?, ALIGN(mappedLen), rightSoftClip?} CIGAR, and scores it.
// It marks f unmapped (and returns false) if the resulting match count is
// zero.
func UngappedAligner(ref *reference.Reference, f *FragmentMetadata, adapters []Adapter, arena *cigar.Arena, scores Scores) bool {
	read := &f.Cluster.Reads[f.ReadIndex]
	readLen := read.Length()

	leftAdapter, rightAdapter := ClipAdapters(ref, f.ContigID, f.Position, read, f.Reverse, adapters)
	f.LeftAdapterClip = leftAdapter
	f.RightAdapterClip = rightAdapter

	readMaskedLeft := read.LeftClipped
	readMaskedRight := read.RightClipped
	if f.Reverse {
		readMaskedLeft, readMaskedRight = readMaskedRight, readMaskedLeft
	}

	leftClip := maxInt(leftAdapter, readMaskedLeft)
	rightClip := maxInt(rightAdapter, readMaskedRight)

	position := f.Position + leftClip
	mappedLen := readLen - leftClip - rightClip
	if mappedLen <= 0 {
		f.Unmapped = true
		return false
	}

	clippedPosition, refLeadClip, refTrailClip := ClipToContig(ref, f.ContigID, position, mappedLen)
	leftClip += refLeadClip
	mappedLen -= refLeadClip + refTrailClip
	rightClip += refTrailClip

	f.Position = clippedPosition
	f.LeftSoftClip = leftClip
	f.RightSoftClip = rightClip

	begin := arena.Len()
	if leftClip > 0 {
		arena.Add(leftClip, cigar.SoftClip)
	}
	if mappedLen > 0 {
		arena.Add(mappedLen, cigar.Align)
	}
	if rightClip > 0 {
		arena.Add(rightClip, cigar.SoftClip)
	}

	matches := AlignerBase(ref, f, clippedPosition, arena, begin, scores)
	f.CigarRange = cigar.Range{Begin: begin, End: arena.Len()}

	if matches == 0 {
		f.Unmapped = true
		return false
	}
	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
