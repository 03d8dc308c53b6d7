package realign

import "sort"

// pos is a reference offset used for sorted-endpoint scanning; int32 is
// wide enough for any contig this module aligns against.
type pos int32

// searchPos returns the index of x in a, or where x would be inserted.
func searchPos(a []pos, x pos) int {
	return sort.Search(len(a), func(i int) bool { return a[i] >= x })
}

// endpointIndex is an index into a sorted endpoint-pair slice (each
// interval contributing two endpoints), used to answer "what covers this
// position" without re-scanning from the start each time.
type endpointIndex int

// newEndpointIndex returns the index for p: searchPos(endpoints, p+1).
func newEndpointIndex(p pos, endpoints []pos) endpointIndex {
	return endpointIndex(searchPos(endpoints, p+1))
}

// contained reports whether p, encoded by ei, falls inside one of the
// covered intervals.
func (ei endpointIndex) contained() bool { return ei&1 != 0 }

// gapCoverage answers point-coverage queries against a bin's gap catalog:
// "does any gap span this reference position." FinalizeGaps builds it once
// per bin from the [begin,end) spans of every gap in the catalog
// (insertions given their fat span), and the realigner queries it once per
// fragment through SpanOverlapsGap, which is why it precomputes sorted
// endpoints rather than re-scanning the gap list per query.
type gapCoverage struct {
	endpoints []pos
}

// newGapCoverage builds a coverage index from the reference spans
// [begins[i], ends[i]); empty spans are skipped.
func newGapCoverage(begins, ends []pos) *gapCoverage {
	type endpoint struct {
		p     pos
		opens bool
	}
	n := len(begins)
	eps := make([]endpoint, 0, 2*n)
	for i := 0; i < n; i++ {
		if ends[i] <= begins[i] {
			continue
		}
		eps = append(eps, endpoint{begins[i], true}, endpoint{ends[i], false})
	}
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].p != eps[j].p {
			return eps[i].p < eps[j].p
		}
		// Closing endpoints sort before opening ones at the same position so
		// adjacent, non-overlapping spans don't appear to merge.
		return !eps[i].opens && eps[j].opens
	})

	var merged []pos
	depth := 0
	for _, e := range eps {
		if e.opens {
			if depth == 0 {
				merged = append(merged, e.p)
			}
			depth++
		} else {
			depth--
			if depth == 0 {
				merged = append(merged, e.p)
			}
		}
	}
	return &gapCoverage{endpoints: merged}
}

// Covers reports whether p falls within any of the merged spans.
func (g *gapCoverage) Covers(p pos) bool {
	if len(g.endpoints) == 0 {
		return false
	}
	return newEndpointIndex(p, g.endpoints).contained()
}

// Intersects reports whether [begin, end) touches any of the merged spans.
func (g *gapCoverage) Intersects(begin, end pos) bool {
	if end <= begin || len(g.endpoints) == 0 {
		return false
	}
	idx := searchPos(g.endpoints, begin+1)
	if idx&1 == 1 {
		return true
	}
	return idx < len(g.endpoints) && g.endpoints[idx] < end
}
