package realign

import (
	"testing"

	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/align/fragment"
	"github.com/grailbio/bioalign/biopb"
	"github.com/grailbio/bioalign/cluster"
	"github.com/grailbio/bioalign/reference"
	"github.com/grailbio/bioalign/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coord(pos int32) biopb.Coord { return biopb.Coord{RefID: 0, Pos: pos} }

func TestOverlappingGapsFilterEnumeratesNonConflicting(t *testing.T) {
	gaps := []Gap{
		{Pos: coord(10), Length: 3},
		{Pos: coord(20), Length: -2},
		{Pos: coord(10), Length: 3}, // duplicate position, same gap: conflicts with gap 0
	}
	f := NewOverlappingGapsFilter(gaps)

	seen := map[uint32]bool{}
	for choice, ok := f.First(), true; ok; choice, ok = f.Next(choice) {
		seen[choice] = true
	}
	assert.True(t, seen[0])
	// {0,1} (gap 0 + gap 1, no conflict) must be reachable.
	assert.True(t, seen[1|2])
}

func TestRealignerAppliesCatalogDeletion(t *testing.T) {
	refBases := "ACGTACGTAC" + "TTT" + "GGGGCCCCAAAAGGGGCCCC"
	ref := &reference.Reference{Contigs: []reference.Contig{{ID: 0, Name: "chr1", Bases: []byte(refBases)}}}

	readBases := []byte("ACGTACGTAC" + "GGGGCCCCAAAAGGGGCCCC")
	quals := make([]byte, len(readBases))
	for i := range quals {
		quals[i] = 30
	}
	c := &cluster.Cluster{}
	c.Reads[0] = *cluster.NewRead(0, readBases, quals)

	f := &fragment.FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 0}
	arena := cigar.NewArena()
	fragment.UngappedAligner(ref, f, nil, arena, fragment.DefaultScores)
	require.Greater(t, f.Mismatches, 0)

	catalog := NewRealignerGaps()
	catalog.AddGap(Gap{Pos: coord(10), Length: 3})
	catalog.FinalizeGaps()

	r := New(ref, catalog, Bin{Start: coord(0), End: coord(1000)}, DefaultCosts)
	ok := r.Realign(f, true, false, false, arena)
	assert.True(t, ok)
	assert.Equal(t, 0, f.Mismatches)
	assert.Equal(t, "10M3D20M", cigar.String(arena.Slice(f.CigarRange)))
	assert.Equal(t, len(readBases)+3, f.ObservedLength)

	// The realigned edit distance matches the plain Levenshtein distance
	// between the read and the reference span it now covers.
	assert.Equal(t, util.Levenshtein(readBases, []byte(refBases)[:f.ObservedLength]), f.EditDistance)

	// A second pass finds nothing further to improve.
	assert.False(t, r.Realign(f, true, false, false, arena))
}

func TestRealignerSkipsUnmappedFragment(t *testing.T) {
	ref := &reference.Reference{Contigs: []reference.Contig{{ID: 0, Bases: make([]byte, 100)}}}
	catalog := NewRealignerGaps()
	catalog.FinalizeGaps()
	r := New(ref, catalog, Bin{Start: coord(0), End: coord(1000)}, DefaultCosts)

	f := &fragment.FragmentMetadata{Unmapped: true}
	arena := cigar.NewArena()
	assert.False(t, r.Realign(f, true, false, false, arena))
}

func TestRealignerRejectsChoiceOutsideBin(t *testing.T) {
	refBases := "ACGTACGTAC" + "TTT" + "GGGGCCCCAAAAGGGGCCCC"
	ref := &reference.Reference{Contigs: []reference.Contig{{ID: 0, Bases: []byte(refBases)}}}
	readBases := []byte("ACGTACGTAC" + "GGGGCCCCAAAAGGGGCCCC")
	quals := make([]byte, len(readBases))
	c := &cluster.Cluster{}
	c.Reads[0] = *cluster.NewRead(0, readBases, quals)

	f := &fragment.FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 0}
	arena := cigar.NewArena()
	fragment.UngappedAligner(ref, f, nil, arena, fragment.DefaultScores)

	catalog := NewRealignerGaps()
	catalog.AddGap(Gap{Pos: coord(10), Length: 3})
	catalog.FinalizeGaps()

	// A bin that starts after the fragment's unclipped position can never
	// accept any candidate for it.
	r := New(ref, catalog, Bin{Start: coord(5), End: coord(1000)}, DefaultCosts)
	assert.False(t, r.Realign(f, true, false, false, arena))
}

func TestRealignerRejectsContigOverrun(t *testing.T) {
	refBases := "ACGTACGTAC" + "TTT" + "GGGGCCCCAAAAGGGGCCCC"
	ref := &reference.Reference{Contigs: []reference.Contig{{ID: 0, Bases: []byte(refBases)}}}
	readBases := []byte("ACGTACGTAC" + "GGGGCCCCAAAAGGGGCCCC")
	quals := make([]byte, len(readBases))
	c := &cluster.Cluster{}
	c.Reads[0] = *cluster.NewRead(0, readBases, quals)

	f := &fragment.FragmentMetadata{Cluster: c, ReadIndex: 0, ContigID: 0, Position: 0}
	arena := cigar.NewArena()
	fragment.UngappedAligner(ref, f, nil, arena, fragment.DefaultScores)
	require.Greater(t, f.Mismatches, 0)

	// The only catalog deletion would push the read's tail past the contig
	// end; the realigner must leave the fragment untouched.
	catalog := NewRealignerGaps()
	catalog.AddGap(Gap{Pos: coord(10), Length: 10})
	catalog.FinalizeGaps()

	r := New(ref, catalog, Bin{Start: coord(0), End: coord(1000)}, DefaultCosts)
	before := *f
	assert.False(t, r.Realign(f, true, false, false, arena))
	assert.Equal(t, before.ObservedLength, f.ObservedLength)
	assert.Equal(t, before.Position, f.Position)
}

func TestCompactCigarFoldsFlankingIndels(t *testing.T) {
	ops := []cigar.Op{
		cigar.Encode(5, cigar.SoftClip),
		cigar.Encode(3, cigar.Delete),
		cigar.Encode(10, cigar.Align),
		cigar.Encode(2, cigar.Insert),
	}
	compacted, leadDel, leadIns, trailIns := compactCigar(ops)
	assert.Equal(t, "5S10M2S", cigar.String(compacted))
	assert.Equal(t, 3, leadDel)
	assert.Equal(t, 0, leadIns)
	assert.Equal(t, 2, trailIns)

	// Read-length accounting survives compaction: the folded insert bases
	// reappear as soft-clip.
	assert.Equal(t, cigar.ReadLength(ops), cigar.ReadLength(compacted))
}

func TestGapCoverageIntersects(t *testing.T) {
	cov := newGapCoverage([]pos{10, 30}, []pos{20, 35})
	assert.True(t, cov.Covers(10))
	assert.True(t, cov.Covers(19))
	assert.False(t, cov.Covers(20))
	assert.False(t, cov.Intersects(0, 10))
	assert.True(t, cov.Intersects(0, 11))
	assert.False(t, cov.Intersects(25, 30))
	assert.True(t, cov.Intersects(25, 31))
	assert.False(t, cov.Intersects(35, 100))
}
