// Package template builds per-cluster templates (paired or single-end) from
// the candidate fragments the fragment package produces, and accumulates
// the template-length model that drives shadow-aligner windowing and
// proper-pair classification.
package template

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/klauspost/compress/gzip"

	"github.com/grailbio/base/log"

	"github.com/grailbio/bioalign/align/fragment"
)

// AlignmentModel names one of the 8 (relative order x read-1 strand x
// read-2 strand) combinations a mate pair can be observed in.
type AlignmentModel int

const (
	FFp AlignmentModel = iota
	FFm
	FRp
	FRm
	RFp
	RFm
	RRp
	RRm
	numModels
)

// CheckResult classifies an observed pair against the fitted model.
type CheckResult int

const (
	NoMatch CheckResult = iota
	Nominal
	Oversized
	Undersized
)

// MaxTemplateLength rejects any candidate template longer than this from
// the length-statistics accumulator.
const MaxTemplateLength = 50000

// alpha is the two-sided three-sigma tail fraction, (1 - erf(3/sqrt2))/2.
var alpha = (1 - math.Erf(3/math.Sqrt2)) / 2

// oneSigmaAlpha is the one-sided one-sigma tail fraction, used for the
// low/high standard-deviation proxies.
var oneSigmaAlpha = (1 - math.Erf(1/math.Sqrt2)) / 2

func modelOf(read1Reverse, read2Reverse bool, read1Upstream bool) AlignmentModel {
	idx := 0
	if read1Reverse {
		idx |= 4
	}
	if read2Reverse {
		idx |= 2
	}
	if !read1Upstream {
		idx |= 1
	}
	// The 8 combinations map onto the named constants in declaration order:
	// bit 2 is the read-1 strand, bit 1 the read-2 strand, and bit 0 the
	// relative order (set when read 1 is not upstream, the "m" models).
	return AlignmentModel(idx)
}

// modelSnapshot is one finalized model's fitted range, used both to report
// results and to detect re-finalization stability.
type modelSnapshot struct {
	low, median, high     int
	lowStdDev, highStdDev int
}

// Stats is an online accumulator of accepted template lengths, bucketed by
// AlignmentModel, that periodically finalizes into a two-model length
// distribution.
type Stats struct {
	lengths [numModels][]int

	bestModels [2]AlignmentModel
	fitted     [2]modelSnapshot
	finalized  bool

	stable     bool
	sinceCheck int
}

// NewStats returns an empty accumulator.
func NewStats() *Stats { return &Stats{} }

// Record offers one candidate template (both mates uniquely placed on the
// same contig) to the accumulator. It is accepted only if both mates are
// fully contained within the contig and the implied template length is at
// most MaxTemplateLength.
func (s *Stats) Record(f1, f2 *fragment.FragmentMetadata, contigLen int) bool {
	if f1.ContigID != f2.ContigID || f1.Unmapped || f2.Unmapped {
		return false
	}
	if f1.UniqueSeedCount != 1 || f2.UniqueSeedCount != 1 {
		return false
	}
	begin, end := templateSpan(f1, f2)
	if begin < 0 || end > contigLen {
		return false
	}
	length := end - begin
	if length <= 0 || length > MaxTemplateLength {
		return false
	}

	read1Upstream := f1.UnclippedPosition() <= f2.UnclippedPosition()
	model := modelOf(f1.Reverse, f2.Reverse, read1Upstream)
	s.lengths[model] = append(s.lengths[model], length)

	s.sinceCheck++
	if s.sinceCheck >= 10000 {
		s.sinceCheck = 0
		prev := s.fitted
		s.Finalize()
		s.stable = prev == s.fitted && s.finalized
	}
	return true
}

func templateSpan(f1, f2 *fragment.FragmentMetadata) (begin, end int) {
	b1, e1 := f1.UnclippedPosition(), f1.UnclippedPosition()+f1.ObservedLength
	b2, e2 := f2.UnclippedPosition(), f2.UnclippedPosition()+f2.ObservedLength
	begin = b1
	if b2 < begin {
		begin = b2
	}
	end = e1
	if e2 > end {
		end = e2
	}
	return begin, end
}

// Finalize picks the two most-populated buckets as the template's alignment
// models and fits a length distribution to each from its quantiles.
func (s *Stats) Finalize() {
	type bucket struct {
		model AlignmentModel
		count int
	}
	var buckets []bucket
	for m := AlignmentModel(0); m < numModels; m++ {
		buckets = append(buckets, bucket{m, len(s.lengths[m])})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].count > buckets[j].count })

	s.bestModels = [2]AlignmentModel{buckets[0].model, buckets[1].model}
	for i, b := range s.bestModels {
		s.fitted[i] = fitModel(s.lengths[b])
	}
	s.finalized = true

	if log.At(log.Debug) {
		snapshot := s.Freeze()
		log.Debug.Printf("template length models finalized: %d bytes frozen (models %v)", len(snapshot), s.bestModels)
	}
}

// Freeze gzip-encodes a small diagnostic snapshot of the currently-fitted
// models (bucket counts and chosen models), suitable for inclusion in a
// debug dump without holding onto the raw per-model length slices.
func (s *Stats) Freeze() []byte {
	var plain bytes.Buffer
	for m := AlignmentModel(0); m < numModels; m++ {
		fmt.Fprintf(&plain, "model=%d count=%d\n", m, len(s.lengths[m]))
	}
	for i, m := range s.bestModels {
		fmt.Fprintf(&plain, "chosen[%d]=%d fit=%+v\n", i, m, s.fitted[i])
	}

	var out bytes.Buffer
	w := gzip.NewWriter(&out)
	_, _ = w.Write(plain.Bytes())
	_ = w.Close()
	return out.Bytes()
}

func fitModel(lengths []int) modelSnapshot {
	if len(lengths) == 0 {
		return modelSnapshot{}
	}
	sorted := append([]int(nil), lengths...)
	sort.Ints(sorted)
	n := len(sorted)

	at := func(q float64) int {
		idx := int(float64(n) * q)
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		return sorted[idx]
	}

	median := at(0.5)
	return modelSnapshot{
		low:        at(alpha),
		median:     median,
		high:       at(1 - alpha),
		lowStdDev:  median - at(oneSigmaAlpha),
		highStdDev: at(1-oneSigmaAlpha) - median,
	}
}

// Stable reports whether the last two 10,000-sample re-finalizations agreed.
func (s *Stats) Stable() bool { return s.stable }

// Finalized reports whether Finalize has run at least once, i.e. whether
// CheckModel can classify pairs at all.
func (s *Stats) Finalized() bool { return s.finalized }

// CheckModel classifies the observed pair (f1, f2) against the fitted
// two-model distribution.
func (s *Stats) CheckModel(f1, f2 *fragment.FragmentMetadata) CheckResult {
	if !s.finalized {
		return NoMatch
	}
	read1Upstream := f1.UnclippedPosition() <= f2.UnclippedPosition()
	model := modelOf(f1.Reverse, f2.Reverse, read1Upstream)

	var fit *modelSnapshot
	for i, m := range s.bestModels {
		if m == model {
			fit = &s.fitted[i]
			break
		}
	}
	if fit == nil {
		return NoMatch
	}

	_, length := templateSpanOrdered(f1, f2)
	switch {
	case length < fit.low:
		return Undersized
	case length > fit.high:
		return Oversized
	default:
		return Nominal
	}
}

func templateSpanOrdered(f1, f2 *fragment.FragmentMetadata) (begin, length int) {
	begin, end := templateSpan(f1, f2)
	return begin, end - begin
}

// MateWindow returns the reference window (forward-strand offsets, may
// extend past contig bounds; callers clamp) a mate at readLength bases is
// expected to fall within, given the other mate's placement, per the two
// best-fit models.
func (s *Stats) MateWindow(reverse bool, position, readLength int) (min, max int) {
	if !s.finalized {
		return position, position + readLength
	}
	min, max = math.MaxInt32, math.MinInt32
	for _, fit := range s.fitted {
		lo := position - fit.high
		hi := position + fit.high + readLength
		if lo < min {
			min = lo
		}
		if hi > max {
			max = hi
		}
	}
	return min, max
}
