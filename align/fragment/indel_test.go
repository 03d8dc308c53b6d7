package fragment

import (
	"strings"
	"testing"

	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/cluster"
	"github.com/grailbio/bioalign/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeContig(bases string) *reference.Reference {
	return &reference.Reference{Contigs: []reference.Contig{{ID: 0, Name: "chr1", Bases: []byte(bases)}}}
}

func TestSimpleIndelAlignerFindsDeletion(t *testing.T) {
	refBases := "ACGTACGTACGTACGTACGT" + "TTT" + "GGGGCCCCAAAATTTTGGGG"
	ref := makeContig(refBases)

	readBases := "ACGTACGTACGTACGTACGT" + "GGGGCCCCAAAATTTTGGGG"
	quals := make([]byte, len(readBases))
	for i := range quals {
		quals[i] = 30
	}
	c := &cluster.Cluster{}
	c.Reads[0] = *cluster.NewRead(0, []byte(readBases), quals)

	arena := cigar.NewArena()
	// The head seed (read offset 0) anchors the read at 0; the tail seed
	// (read offset 20) hits reference offset 23, implying position 3.
	head := &FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 0}
	tail := &FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 3}

	UngappedAligner(ref, head, nil, arena, DefaultScores)
	UngappedAligner(ref, tail, nil, arena, DefaultScores)

	ok := SimpleIndelAligner(ref, head, tail, 20, 20, arena, DefaultScores)
	require.True(t, ok)
	assert.Equal(t, "20M3D20M", cigar.String(arena.Slice(tail.CigarRange)))
	assert.Equal(t, 0, tail.Position)
	assert.Equal(t, 0, tail.Mismatches)
	assert.Equal(t, 3, tail.EditDistance)
}

func TestSimpleIndelAlignerFindsFourteenBaseDeletion(t *testing.T) {
	readBases := "ATTTGGTTAAGGTAGCGGTAAAAGCGTGTTACCGCAATGTT" +
		"CTGTCTCTTATACAACATCTAGATGTGTATAAGAGACAG" +
		"GTGCACCGCCTATACACATCTAGAATAAGAGACAG" +
		"GTGCACCGCCTATACACATCTAGA"
	// The reference carries a 14-base insertion relative to the read, inside
	// the poly-A stretch after read offset 71.
	refBases := "ATTTGGTTAAGGTAGCGGTAAAAGCGTGTTACCGCAATGTT" +
		"CTGTCTCTTATACAACATCTAGATGTGTATA" + strings.Repeat("A", 14) +
		"AGAGACAG" +
		"GTGCACCGCCTATACACATCTAGAATAAGAGACAG" +
		"GTGCACCGCCTATACACATCTAGA"
	ref := makeContig(refBases)

	quals := make([]byte, len(readBases))
	for i := range quals {
		quals[i] = 30
	}
	c := &cluster.Cluster{}
	c.Reads[0] = *cluster.NewRead(0, []byte(readBases), quals)

	arena := cigar.NewArena()
	// A leading seed (read offsets 0-31) anchors the read at 0; a seed past
	// the deletion (read offsets 100-131) hits reference offset 114,
	// implying position 14.
	head := &FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 0}
	tail := &FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 14}

	UngappedAligner(ref, head, nil, arena, DefaultScores)
	UngappedAligner(ref, tail, nil, arena, DefaultScores)

	ok := SimpleIndelAligner(ref, head, tail, 32, 100, arena, DefaultScores)
	require.True(t, ok)
	assert.Equal(t, "71M14D68M", cigar.String(arena.Slice(tail.CigarRange)))
	assert.Equal(t, 0, tail.Position)
	assert.Equal(t, 0, tail.Mismatches)
	assert.Equal(t, 14, tail.EditDistance)
}

func TestSimpleIndelAlignerRejectsOversizedGap(t *testing.T) {
	ref := makeContig("ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT")
	bases := []byte("ACGTACGTACGTACGTACGT")
	quals := make([]byte, len(bases))
	c := &cluster.Cluster{}
	c.Reads[0] = *cluster.NewRead(0, bases, quals)

	head := &FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 0}
	tail := &FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 0 + MaxSemialignedGap + 1}
	arena := cigar.NewArena()

	ok := SimpleIndelAligner(ref, head, tail, 10, 10, arena, DefaultScores)
	assert.False(t, ok)
}

func TestSimpleIndelAlignerNoOpWhenPositionsAgree(t *testing.T) {
	ref := makeContig("ACGTACGTACGTACGTACGTACGTACGTACGT")
	bases := []byte("ACGTACGTACGTACGTACGT")
	quals := make([]byte, len(bases))
	c := &cluster.Cluster{}
	c.Reads[0] = *cluster.NewRead(0, bases, quals)

	head := &FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 0}
	tail := &FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 0}
	arena := cigar.NewArena()

	ok := SimpleIndelAligner(ref, head, tail, 10, 10, arena, DefaultScores)
	assert.False(t, ok)
}
