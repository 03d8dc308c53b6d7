package fragment

import (
	"sort"

	"blainsmith.com/go/seahash"

	"github.com/grailbio/bioalign/biosimd"
	"github.com/grailbio/bioalign/cluster"
	"github.com/grailbio/bioalign/reference"
)

// Adapter is the adapter type the clipper in this package looks for; it is
// the cluster package's adapter description, not a copy of it.
type Adapter = cluster.Adapter

// indexedAdapter pairs an Adapter with its 5-mer index, built once per
// ClipAdapters call.
type indexedAdapter struct {
	Adapter
	kmerIndex map[uint64]int // seahash.Sum64(5-mer) -> unique position in Sequence, or -1 if repeated
}

const adapterKmerLen = 5

// kmerKey returns the seahash of the 5-mer at pos, rejecting windows
// containing a base outside {A,C,G,T} (biosimd.IsNonACGTPresent is a fast
// whole-window check rather than a per-base scan).
func kmerKey(seq []byte, pos int) (uint64, bool) {
	window := seq[pos : pos+adapterKmerLen]
	if biosimd.IsNonACGTPresent(window) {
		return 0, false
	}
	return seahash.Sum64(window), true
}

// buildIndex populates a's 5-mer index, marking repeated 5-mers as
// non-unique (sentinel -1) per the clipping contract.
func (a *indexedAdapter) buildIndex() {
	a.kmerIndex = make(map[uint64]int)
	for i := 0; i+adapterKmerLen <= len(a.Sequence); i++ {
		k, ok := kmerKey(a.Sequence, i)
		if !ok {
			continue
		}
		if _, seen := a.kmerIndex[k]; seen {
			a.kmerIndex[k] = -1
		} else {
			a.kmerIndex[k] = i
		}
	}
}

// clipInterval is a half-open [begin, end) match interval on the read,
// found on a given strand.
type clipInterval struct {
	begin, end int
}

// prepareAdapters builds the 5-mer index for every adapter compatible with
// the strand being clipped. A bounded adapter is a read-through artifact and
// may show up on either strand; an unbounded one only ever appears in its
// declared orientation.
func prepareAdapters(adapters []Adapter, reverse bool) []indexedAdapter {
	out := make([]indexedAdapter, 0, len(adapters))
	for _, a := range adapters {
		if !a.Bounded() && a.Reverse != reverse {
			continue
		}
		ia := indexedAdapter{Adapter: a}
		ia.buildIndex()
		out = append(out, ia)
	}
	return out
}

// extendsFullMatch verifies a 5-mer hit really is the adapter: every read
// base overlapping the implied adapter placement must match it. The portion
// of the adapter falling before or after the read simply doesn't overlap
// and is not checked.
func extendsFullMatch(bases, adapter []byte, readStart, begin, end int) bool {
	for i := begin; i < end; i++ {
		if bases[i] != adapter[i-readStart] {
			return false
		}
	}
	return true
}

// findMatches scans bases for every adapter compatible with this strand and
// returns the union of matching intervals. A 5-mer hit contributes an
// interval only once it extends to a full-length adapter match at the
// implied placement.
func findMatches(bases []byte, adapters []indexedAdapter) []clipInterval {
	var hits []clipInterval
	for i := range adapters {
		a := &adapters[i]
		for readPos := 0; readPos+adapterKmerLen <= len(bases); readPos++ {
			k, ok := kmerKey(bases, readPos)
			if !ok {
				continue
			}
			adapterPos, found := a.kmerIndex[k]
			if !found || adapterPos < 0 {
				continue
			}
			readStart := readPos - adapterPos
			readEnd := readStart + len(a.Sequence)
			clipBegin, clipEnd := maxInt(readStart, 0), minInt(readEnd, len(bases))
			if clipEnd <= clipBegin {
				continue
			}
			if !extendsFullMatch(bases, a.Sequence, readStart, clipBegin, clipEnd) {
				continue
			}
			hits = append(hits, clipInterval{begin: clipBegin, end: clipEnd})
		}
	}
	return mergeIntervals(hits)
}

func mergeIntervals(hits []clipInterval) []clipInterval {
	if len(hits) == 0 {
		return nil
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].begin != hits[j].begin {
			return hits[i].begin < hits[j].begin
		}
		return hits[i].end < hits[j].end
	})
	merged := []clipInterval{hits[0]}
	for _, h := range hits[1:] {
		last := &merged[len(merged)-1]
		if h.begin <= last.end {
			if h.end > last.end {
				last.end = h.end
			}
			continue
		}
		merged = append(merged, h)
	}
	return merged
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// countRefMatches counts read/reference agreements in read range [begin,end)
// for the clip-side decision, with the read's base 0 placed at position on
// the contig; this is a read-only pass, independent of any CIGAR.
func countRefMatches(contig *reference.Contig, position int, bases []byte, begin, end int) int {
	n := 0
	for i := begin; i < end && i < len(bases); i++ {
		b := bases[i]
		if b != 'N' && b == contig.Base(position+i) {
			n++
		}
	}
	return n
}

// ClipAdapters decides the adapter-driven left/right clip lengths for one
// read placed on the given strand with its first base at position, per the
// clipping decision rule: prefer whichever side, once clipped, leaves more of
// the read matching the reference (tiebreak toward the longer remaining
// half), with a stricter bar (>40% mismatches on the clipped side) when the
// adapter sits flush against either end of the read.
func ClipAdapters(ref *reference.Reference, contigID, position int, read *cluster.Read, reverse bool, adapters []Adapter) (left, right int) {
	if len(adapters) == 0 {
		return 0, 0
	}
	prepared := prepareAdapters(adapters, reverse)
	bases := read.StrandBases(reverse)

	intervals := findMatches(bases, prepared)
	if len(intervals) == 0 {
		return 0, 0
	}

	contig := ref.Contig(contigID)
	readLen := len(bases)
	for _, iv := range intervals {
		prefixKeep := countRefMatches(contig, position, bases, iv.end, readLen)
		suffixKeep := countRefMatches(contig, position, bases, 0, iv.begin)
		clipPrefix := prefixKeep > suffixKeep ||
			(prefixKeep == suffixKeep && readLen-iv.end >= iv.begin)

		if iv.begin == 0 || iv.end >= readLen {
			clipped := clipInterval{iv.begin, readLen}
			if clipPrefix {
				clipped = clipInterval{0, iv.end}
			}
			total := clipped.end - clipped.begin
			mismatches := total - countRefMatches(contig, position, bases, clipped.begin, clipped.end)
			if total == 0 || float64(mismatches)/float64(total) <= 0.4 {
				continue
			}
		}
		if clipPrefix {
			if iv.end > left {
				left = iv.end
			}
		} else {
			if readLen-iv.begin > right {
				right = readLen - iv.begin
			}
		}
	}
	return left, right
}
