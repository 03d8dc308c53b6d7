// Package sw implements a fixed-width banded Smith-Waterman aligner: given a
// query and a database window exactly Width-1 bases longer than it, it
// finds the highest-scoring global (end-to-end in the query) alignment
// whose implied gaps never exceed the band, and appends the resulting CIGAR
// to an arena.
//
// The three-matrix (G/E/F) recurrence below is written as a plain scalar
// dynamic program. The upstream algorithm this is modeled on processes the
// Width-wide band with SIMD lanes per query base; that's an optimization of
// the same recurrence, not a different one, so it is not reproduced here.
package sw

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"

	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/biosimd"
)

const (
	// Width is the fixed band width: for query index i, the database
	// positions i..i+Width-1 are considered.
	Width = 16
	// MaxGap is the longest insertion or deletion the band can express.
	MaxGap = Width - 1
)

const negInf int32 = math.MinInt32 / 2

// Scorer holds the match/mismatch/gap scoring parameters for one banded
// Smith-Waterman aligner instance. A Scorer is reused across many Align
// calls; it carries no per-call state.
type Scorer struct {
	Match         int
	Mismatch      int
	GapOpen       int
	GapExtend     int
	MaxReadLength int
}

// New returns a Scorer with the given scoring parameters.
func New(match, mismatch, gapOpen, gapExtend, maxReadLength int) *Scorer {
	return &Scorer{
		Match:         match,
		Mismatch:      mismatch,
		GapOpen:       gapOpen,
		GapExtend:     gapExtend,
		MaxReadLength: maxReadLength,
	}
}

type state uint8

const (
	stG state = iota
	stE
	stF
)

func matchScore(q, d byte, match, mismatch int32) int32 {
	if q != 'N' && d != 'N' && q == d {
		return match
	}
	return mismatch
}

// matchScoreNoN is matchScore specialized for the common case where neither
// query nor database contains an 'N', so the per-base N-check can be
// skipped entirely.
func matchScoreNoN(q, d byte, match, mismatch int32) int32 {
	if q == d {
		return match
	}
	return mismatch
}

// Align computes the best banded alignment of query against database
// (len(database) must equal len(query)+Width-1) and appends its CIGAR to
// arena. It returns the appended range and the offset (0..Width-1) within
// database where the alignment's first reference base lies; the caller adds
// this offset to the position it used to build database's left edge. The
// returned CIGAR never begins or ends with a DELETE and never has two
// adjacent ops of the same type.
func (s *Scorer) Align(query, database []byte, arena *cigar.Arena) (cigar.Range, int, error) {
	L := len(query)
	if L == 0 {
		return cigar.Range{}, 0, nil
	}
	if L > s.MaxReadLength {
		return cigar.Range{}, 0, errors.E("sw: query length", L, "exceeds MaxReadLength", s.MaxReadLength)
	}
	if len(database) != L+Width-1 {
		return cigar.Range{}, 0, errors.E("sw: database length", len(database), "want", L+Width-1)
	}

	// A read/database window free of 'N' (the overwhelming common case) can
	// skip the per-base N-check in the recurrence's inner loop entirely.
	scoreFn := matchScore
	if !biosimd.IsNonACGTPresent(query) && !biosimd.IsNonACGTPresent(database) {
		scoreFn = matchScoreNoN
	}

	rows := L + 1
	G := make([]int32, rows*Width)
	E := make([]int32, rows*Width)
	F := make([]int32, rows*Width)
	backG := make([]state, rows*Width)
	backE := make([]state, rows*Width)
	backF := make([]state, rows*Width)

	idx := func(i, j int) int { return i*Width + j }

	// GapOpen and GapExtend are non-positive scores, like Mismatch; open and
	// ext are the matching penalties the recurrence below subtracts.
	open := -int32(s.GapOpen)
	ext := -int32(s.GapExtend)
	match := int32(s.Match)
	mismatch := int32(s.Mismatch)

	// Row 0 (no query bases consumed yet): G is free at every column, since
	// database offset j is exactly the unpenalized leading skip the caller
	// may return; F is unreachable (no query consumed, nothing to have
	// inserted); E chains off the free G column to represent a leading
	// deletion that overruns the free band, priced at the normal gap cost.
	for j := 0; j < Width; j++ {
		G[idx(0, j)] = 0
		F[idx(0, j)] = negInf
	}
	E[idx(0, 0)] = negInf
	backE[idx(0, 0)] = stG
	for j := 1; j < Width; j++ {
		eBest, eSrc := G[idx(0, j-1)]-open, stG
		if v := E[idx(0, j-1)] - ext; v > eBest {
			eBest, eSrc = v, stE
		}
		E[idx(0, j)] = eBest
		backE[idx(0, j)] = eSrc
	}

	// Column j is the running offset between consumed-database-count and
	// consumed-query-count (i.e. net deletions so far). A diagonal (G) step
	// consumes one base of each, so it leaves j unchanged and its predecessor
	// sits at the same column one row up. An insertion (F) consumes a query
	// base only, which decreases the column by one going forward, so its
	// predecessor sits one column to the right, one row up. A deletion (E)
	// consumes a database base only and so increases the column by one
	// within the same row, with its predecessor one column to the left.
	for i := 1; i <= L; i++ {
		qi := query[i-1]
		prev := i - 1
		for j := 0; j < Width; j++ {
			fBest, fSrc := negInf, stG
			if j+1 < Width {
				fBest, fSrc = G[idx(prev, j+1)]-open, stG
				if v := E[idx(prev, j+1)] - open; v > fBest {
					fBest, fSrc = v, stE
				}
				if v := F[idx(prev, j+1)] - ext; v > fBest {
					fBest, fSrc = v, stF
				}
			}
			F[idx(i, j)] = fBest
			backF[idx(i, j)] = fSrc

			gBest, gSrc := G[idx(prev, j)], stG
			if v := E[idx(prev, j)]; v > gBest {
				gBest, gSrc = v, stE
			}
			if v := F[idx(prev, j)]; v > gBest {
				gBest, gSrc = v, stF
			}
			refBase := database[prev+j]
			G[idx(i, j)] = gBest + scoreFn(qi, refBase, match, mismatch)
			backG[idx(i, j)] = gSrc
		}
		E[idx(i, 0)] = negInf
		backE[idx(i, 0)] = stG
		for j := 1; j < Width; j++ {
			eBest, eSrc := G[idx(i, j-1)]-open, stG
			if v := E[idx(i, j-1)] - ext; v > eBest {
				eBest, eSrc = v, stE
			}
			if v := F[idx(i, j-1)] - open; v > eBest {
				eBest, eSrc = v, stF
			}
			E[idx(i, j)] = eBest
			backE[idx(i, j)] = eSrc
		}
	}

	bestScore, bestJ, bestState := negInf, 0, stG
	for j := 0; j < Width; j++ {
		if v := G[idx(L, j)]; v > bestScore {
			bestScore, bestJ, bestState = v, j, stG
		}
		if v := E[idx(L, j)]; v > bestScore {
			bestScore, bestJ, bestState = v, j, stE
		}
		if v := F[idx(L, j)]; v > bestScore {
			bestScore, bestJ, bestState = v, j, stF
		}
	}

	var rev []cigar.Op
	i, j, st := L, bestJ, bestState
	for i > 0 {
		switch st {
		case stG:
			rev = append(rev, cigar.Encode(1, cigar.Align))
			st = backG[idx(i, j)]
			i--
		case stF:
			rev = append(rev, cigar.Encode(1, cigar.Insert))
			st = backF[idx(i, j)]
			i--
			j++
		case stE:
			rev = append(rev, cigar.Encode(1, cigar.Delete))
			st = backE[idx(i, j)]
			j--
		}
		if j < 0 || j >= Width {
			panic(fmt.Sprintf("sw: traceback left the band (j=%d)", j))
		}
	}
	leadingSkip := j

	for l, r := 0, len(rev)-1; l < r; l, r = l+1, r-1 {
		rev[l], rev[r] = rev[r], rev[l]
	}

	merged := cigar.Merge(nil, rev)
	merged, extraLead, _ := cigar.TrimFlankingDeletes(merged)
	leadingSkip += extraLead

	rng := arena.AppendRange(merged)
	return rng, leadingSkip, nil
}
