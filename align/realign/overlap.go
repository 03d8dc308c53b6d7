package realign

import "math/bits"

// MaxGapsAtATime caps how many catalog gaps the realigner considers at
// once; a bin with more overlapping gaps than this only has its first
// MaxGapsAtATime considered.
const MaxGapsAtATime = 30

// maxTrackedOverlaps caps the number of conflict masks recorded per filter;
// once it is reached no further masks are recorded. Each gap contributes at
// most one mask and a filter holds at most MaxGapsAtATime gaps, so the cap
// is reached only at the last gap and no mask is dropped.
const maxTrackedOverlaps = 30

// OverlappingGapsFilter enumerates every subset (represented as a bitmask
// over a gap slice) containing no two mutually conflicting gaps, pruning
// the walk past whole conflicting subtrees instead of visiting every
// combination.
type OverlappingGapsFilter struct {
	overlaps  []uint32
	maxChoice uint32
}

// NewOverlappingGapsFilter precomputes the conflict masks for gaps, which
// must already be the (at most MaxGapsAtATime) set the caller intends to
// enumerate subsets of.
func NewOverlappingGapsFilter(gaps []Gap) *OverlappingGapsFilter {
	f := &OverlappingGapsFilter{}
	n := len(gaps)
	if n > MaxGapsAtATime {
		f.maxChoice = 0
		return f
	}
	f.maxChoice = uint32(1)<<uint(n) - 1
	for i := 0; i < n; i++ {
		var mask uint32
		for j := 0; j < n; j++ {
			if i != j && gaps[i].Overlaps(gaps[j]) {
				mask |= 1 << uint(j)
			}
		}
		if mask != 0 {
			f.overlaps = append(f.overlaps, mask|(1<<uint(i)))
			if len(f.overlaps) >= maxTrackedOverlaps {
				break
			}
		}
	}
	return f
}

// findConflict returns the first recorded conflict mask that shares more
// than one bit with choice, or 0 if none does.
func (f *OverlappingGapsFilter) findConflict(choice uint32) uint32 {
	for _, overlap := range f.overlaps {
		if bits.OnesCount32(choice&overlap) > 1 {
			return overlap
		}
	}
	return 0
}

// First returns the first choice to enumerate: the empty subset (no gaps
// applied), which is always conflict-free.
func (f *OverlappingGapsFilter) First() uint32 { return 0 }

// Next returns the next non-conflicting choice after choice, or 0 (with ok
// false) once the enumeration is exhausted. 0 itself is a valid choice
// (the empty subset) only as the very first value returned by First; the
// caller must stop iterating the moment Next reports ok == false.
func (f *OverlappingGapsFilter) Next(choice uint32) (next uint32, ok bool) {
	if choice >= f.maxChoice {
		return 0, false
	}
	choice++
	for {
		conflict := f.findConflict(choice)
		if conflict == 0 {
			return choice, true
		}
		choice += 1 << uint(bits.TrailingZeros32(conflict))
		if choice > f.maxChoice {
			return 0, false
		}
	}
}
