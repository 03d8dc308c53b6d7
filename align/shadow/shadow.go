// Package shadow rescues a mate ("shadow") of an already-mapped read
// ("orphan") by scanning the reference window the template-length model
// implies, rather than relying on the shadow read having its own seed hit.
package shadow

import (
	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/align/fragment"
	"github.com/grailbio/bioalign/cluster"
	"github.com/grailbio/bioalign/reference"
)

const kmerLen = 7
const tableSize = 1 << (2 * kmerLen) // 4^7 = 16384

// MaxWindowBases hard-caps the reference window scanned for a shadow,
// regardless of how wide the template-length model's flanks are.
const MaxWindowBases = 10000

// kmerTable maps every 7-mer (2 bits/base, A/C/G/T only) to the first
// read-offset it was seen at, or -1 if absent. A recurring 7-mer keeps its
// first-seen offset; repeats are recorded only once, never invalidated.
type kmerTable [tableSize]int32

func kmerCode(b byte) (uint32, bool) {
	switch b {
	case 'A':
		return 0, true
	case 'C':
		return 1, true
	case 'G':
		return 2, true
	case 'T':
		return 3, true
	default:
		return 0, false
	}
}

func kmerAt(seq []byte, pos int) (uint32, bool) {
	var k uint32
	for i := 0; i < kmerLen; i++ {
		c, ok := kmerCode(seq[pos+i])
		if !ok {
			return 0, false
		}
		k = k<<2 | c
	}
	return k, true
}

// buildTable indexes every 7-mer of seq by its first-seen read offset.
func buildTable(seq []byte) *kmerTable {
	var t kmerTable
	for i := range t {
		t[i] = -1
	}
	for i := 0; i+kmerLen <= len(seq); i++ {
		k, ok := kmerAt(seq, i)
		if !ok {
			continue
		}
		if t[k] == -1 {
			t[k] = int32(i)
		}
	}
	return &t
}

// Window is the reference span (forward-strand coordinates) a shadow search
// covers.
type Window struct {
	ContigID   int
	Begin, End int
}

// Search scans window for candidate start positions of shadowRead (on the
// given strand), ungapped-aligns each candidate, and returns the resulting
// fragments that aligned (Unmapped == false), deduplicated by position.
func Search(ref *reference.Reference, c *cluster.Cluster, shadowReadIndex int, reverse bool, window Window, adapters []fragment.Adapter, arena *cigar.Arena, scores fragment.Scores) []*fragment.FragmentMetadata {
	if window.End-window.Begin > MaxWindowBases {
		return nil
	}
	read := &c.Reads[shadowReadIndex]
	bases := read.StrandBases(reverse)
	if len(bases) < kmerLen {
		return nil
	}
	table := buildTable(bases)

	contig := ref.Contig(window.ContigID)
	begin := window.Begin
	if begin < 0 {
		begin = 0
	}
	end := window.End
	if end > contig.Len() {
		end = contig.Len()
	}

	seen := make(map[int]bool)
	var candidates []int
	for refPos := begin; refPos+kmerLen <= end; refPos++ {
		k, ok := kmerAt(contig.Bases, refPos)
		if !ok {
			continue
		}
		readOffset := table[k]
		if readOffset < 0 {
			continue
		}
		start := refPos - int(readOffset)
		if seen[start] {
			continue
		}
		seen[start] = true
		candidates = append(candidates, start)
	}

	var out []*fragment.FragmentMetadata
	for _, start := range candidates {
		f := &fragment.FragmentMetadata{
			Cluster:   c,
			ReadIndex: shadowReadIndex,
			ContigID:  window.ContigID,
			Position:  start,
			Reverse:   reverse,
		}
		if fragment.UngappedAligner(ref, f, adapters, arena, scores) {
			out = append(out, f)
		}
	}
	return out
}
