package fragment

import (
	"strings"
	"testing"

	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRead(bases string) *cluster.Read {
	quals := make([]byte, len(bases))
	for i := range quals {
		quals[i] = 30
	}
	return cluster.NewRead(0, []byte(bases), quals)
}

func TestClipAdaptersTrimsSuffixMatch(t *testing.T) {
	adapter := Adapter{Sequence: []byte("AGATCGGAAGAGC")}
	genomic := "ACGTACGTACGTACGTACGT"
	read := makeRead(genomic + "AGATCGGAAGAGC")
	// The reference matches the genomic prefix and diverges where the
	// adapter begins.
	ref := makeContig(genomic + strings.Repeat("T", 13))

	left, right := ClipAdapters(ref, 0, 0, read, false, []Adapter{adapter})
	assert.Equal(t, 0, left)
	assert.Equal(t, 13, right)
}

func TestClipAdaptersKeepsCoincidentalEndMatch(t *testing.T) {
	adapter := Adapter{Sequence: []byte("AGATCGGAAGAGC")}
	genomic := "ACGTACGTACGTACGTACGT" + "AGATCGGAAGAGC"
	read := makeRead(genomic)
	// The whole read, adapter-looking tail included, matches the reference:
	// the tail fails the >40% mismatch bar and must not be clipped.
	ref := makeContig(genomic)

	left, right := ClipAdapters(ref, 0, 0, read, false, []Adapter{adapter})
	assert.Equal(t, 0, left)
	assert.Equal(t, 0, right)
}

func TestClipAdaptersTrimsInteriorReadThrough(t *testing.T) {
	fwd := Adapter{Sequence: []byte("CTGTCTCTTATACACATCT"), ClipLength: 19}
	rev := Adapter{Sequence: []byte("AGATGTGTATAAGAGACAG"), Reverse: true, ClipLength: 19}
	genomic := "TGGTTAAGGTAGCGGTAAAAGCGTGTTACCGCAATGTTAA"
	read := makeRead(genomic + "CTGTCTCTTATACACATCTAGATGTGTATAAGAGACAG" + "GTGCACCGCC")
	ref := makeContig(genomic + strings.Repeat("T", 48))

	left, right := ClipAdapters(ref, 0, 0, read, false, []Adapter{fwd, rev})
	assert.Equal(t, 0, left)
	// Everything from the adapter's first base onward goes.
	assert.Equal(t, read.Length()-len(genomic), right)
}

func TestUngappedAlignerClipsMatePairReadThrough(t *testing.T) {
	fwd := Adapter{Sequence: []byte("CTGTCTCTTATACACATCT"), ClipLength: 19}
	rev := Adapter{Sequence: []byte("AGATGTGTATAAGAGACAG"), Reverse: true, ClipLength: 19}
	genomic := "CGATTGTCTTTGCTGCCAATTTTAGCGTTGGCGTTAACGTCATGCTTAAGC"
	readBases := genomic + "CTGTCTCTTATACACATCT" + "AGATGTGTATAAGAGACAG" + "CTGCTACGCCA"
	// The reference matches the first 51 bases and diverges from there on.
	ref := makeContig(genomic + strings.Repeat("T", 49))

	read := makeRead(readBases)
	c := &cluster.Cluster{}
	c.Reads[0] = *read

	f := &FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 0}
	arena := cigar.NewArena()
	ok := UngappedAligner(ref, f, []Adapter{fwd, rev}, arena, DefaultScores)
	require.True(t, ok)
	assert.Equal(t, "51M49S", cigar.String(arena.Slice(f.CigarRange)))
	assert.Equal(t, 0, f.Position)
	assert.Equal(t, 0, f.Mismatches)
	assert.Equal(t, 51, f.ObservedLength)
}

func TestClipAdaptersNoMatchIsNoOp(t *testing.T) {
	adapter := Adapter{Sequence: []byte("AGATCGGAAGAGC")}
	read := makeRead("ACGTACGTACGTACGTACGTACGTACGTACGTA")
	ref := makeContig("ACGTACGTACGTACGTACGTACGTACGTACGTA")

	left, right := ClipAdapters(ref, 0, 0, read, false, []Adapter{adapter})
	assert.Equal(t, 0, left)
	assert.Equal(t, 0, right)
}

func TestClipAdaptersEmptyAdapterListIsNoOp(t *testing.T) {
	read := makeRead("ACGTACGTACGTACGTACGT")
	ref := makeContig("ACGTACGTACGTACGTACGT")
	left, right := ClipAdapters(ref, 0, 0, read, false, nil)
	assert.Equal(t, 0, left)
	assert.Equal(t, 0, right)
}

func TestClipAdaptersRespectsStrandFlag(t *testing.T) {
	adapter := Adapter{Sequence: []byte("AGATCGGAAGAGC"), Reverse: true}
	read := makeRead("ACGTACGTACGTACGTACGTAGATCGGAAGAGC")
	ref := makeContig("ACGTACGTACGTACGTACGT" + strings.Repeat("T", 13))

	// The adapter is unbounded and flagged reverse-only; it must not fire on
	// the forward strand even though the forward bases contain a literal
	// match.
	left, right := ClipAdapters(ref, 0, 0, read, false, []Adapter{adapter})
	assert.Equal(t, 0, left)
	assert.Equal(t, 0, right)
}

func TestAdapterBoundedReflectsClipLength(t *testing.T) {
	adapter := Adapter{Sequence: []byte("AGATCGGAAGAGC"), ClipLength: 13}
	assert.True(t, adapter.Bounded())

	unbounded := Adapter{Sequence: []byte("AGATCGGAAGAGC")}
	assert.False(t, unbounded.Bounded())
}
