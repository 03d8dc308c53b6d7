package fragment

import (
	"testing"

	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/biopb"
	"github.com/grailbio/bioalign/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDedupesMergedFragments(t *testing.T) {
	ref := makeContig("ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT")
	bases := []byte("ACGTACGTACGTACGTACGT")
	quals := make([]byte, len(bases))
	for i := range quals {
		quals[i] = 30
	}
	c := &cluster.Cluster{}
	c.Reads[0] = *cluster.NewRead(0, bases, quals)

	seedMeta := []cluster.SeedMetadata{
		{Offset: 0, Length: 10, ReadIndex: 0, SeedIndex: 0},
		{Offset: 10, Length: 10, ReadIndex: 0, SeedIndex: 1},
	}
	matches := []cluster.Match{
		cluster.NewMatch(0, biopb.Coord{RefID: 0, Pos: 0}, false),
		cluster.NewMatch(1, biopb.Coord{RefID: 0, Pos: 10}, false),
		cluster.NoMatchTerminator(),
	}

	b := NewBuilder(DefaultScores, 0, 0, nil)
	arena := cigar.NewArena()
	result := b.Build(ref, seedMeta, nil, matches, c, false, arena)

	require.Len(t, result[0], 1)
	assert.Equal(t, 2, result[0][0].UniqueSeedCount)
	assert.False(t, result[0][0].Unmapped)
}

func TestBuilderRemovesRepeatExceededSeeds(t *testing.T) {
	ref := makeContig("ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT")
	bases := []byte("ACGTACGTACGTACGTACGT")
	quals := make([]byte, len(bases))
	c := &cluster.Cluster{}
	c.Reads[0] = *cluster.NewRead(0, bases, quals)

	seedMeta := []cluster.SeedMetadata{{Offset: 0, Length: 10, ReadIndex: 0, SeedIndex: 0}}
	matches := []cluster.Match{
		cluster.NewMatch(0, biopb.Coord{RefID: 0, Pos: 0}, false),
		cluster.TooManyMatch(0),
		cluster.NoMatchTerminator(),
	}

	b := NewBuilder(DefaultScores, 0, 0, nil)
	arena := cigar.NewArena()
	result := b.Build(ref, seedMeta, nil, matches, c, false, arena)

	assert.Empty(t, result[0])
}
