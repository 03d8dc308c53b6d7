package sw

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/bioalign/align/cigar"
)

func makeDatabase(t *testing.T, leftFlank string, body string, rightFlank string) []byte {
	t.Helper()
	db := leftFlank + body + rightFlank
	require.True(t, len(db) >= len(body))
	return []byte(db)
}

func TestAlignGaplessPerfectMatch(t *testing.T) {
	s := New(1, -4, -6, -1, 300)
	arena := cigar.NewArena()

	query := []byte(strings.Repeat("ACGT", 10)) // 40 bases
	skip := 5
	database := makeDatabase(t, strings.Repeat("N", skip), string(query), strings.Repeat("N", Width-1-skip))
	require.Equal(t, len(query)+Width-1, len(database))

	rng, offset, err := s.Align(query, database, arena)
	require.NoError(t, err)
	assert.Equal(t, skip, offset)
	ops := arena.Slice(rng)
	require.Len(t, ops, 1)
	assert.Equal(t, cigar.Align, ops[0].Type())
	assert.Equal(t, len(query), ops[0].Len())
}

func TestAlignSingleDeletion(t *testing.T) {
	s := New(1, -4, -6, -1, 300)
	arena := cigar.NewArena()

	// Query omits 3 bases that the reference carries.
	left := "ACGTACGTAC"
	gap := "TTT"
	right := "GTACGTACGT"
	query := []byte(left + right)
	database := makeDatabase(t, "", left+gap+right, strings.Repeat("N", Width-1-len(gap)))
	require.Equal(t, len(query)+Width-1, len(database))

	rng, offset, err := s.Align(query, database, arena)
	require.NoError(t, err)
	assert.Equal(t, 0, offset)
	ops := arena.Slice(rng)
	require.Len(t, ops, 3)
	assert.Equal(t, cigar.Align, ops[0].Type())
	assert.Equal(t, len(left), ops[0].Len())
	assert.Equal(t, cigar.Delete, ops[1].Type())
	assert.Equal(t, len(gap), ops[1].Len())
	assert.Equal(t, cigar.Align, ops[2].Type())
	assert.Equal(t, len(right), ops[2].Len())
}

func TestAlignSingleInsertion(t *testing.T) {
	s := New(1, -4, -6, -1, 300)
	arena := cigar.NewArena()

	left := "ACGTACGTAC"
	inserted := "TTT"
	right := "GTACGTACGT"
	query := []byte(left + inserted + right)
	// Each inserted base moves the alignment one band column down, so the
	// alignment has to start len(inserted) columns into the database.
	database := makeDatabase(t, strings.Repeat("N", len(inserted)), left+right, strings.Repeat("N", Width-1))
	require.Equal(t, len(query)+Width-1, len(database))

	rng, offset, err := s.Align(query, database, arena)
	require.NoError(t, err)
	assert.Equal(t, len(inserted), offset)
	ops := arena.Slice(rng)
	require.Len(t, ops, 3)
	assert.Equal(t, cigar.Align, ops[0].Type())
	assert.Equal(t, len(left), ops[0].Len())
	assert.Equal(t, cigar.Insert, ops[1].Type())
	assert.Equal(t, len(inserted), ops[1].Len())
	assert.Equal(t, cigar.Align, ops[2].Type())
	assert.Equal(t, len(right), ops[2].Len())
}

func TestAlignNeverEmitsFlankingDelete(t *testing.T) {
	s := New(1, -4, -6, -1, 300)
	arena := cigar.NewArena()

	query := []byte(strings.Repeat("ACGT", 5))
	database := makeDatabase(t, "", string(query), strings.Repeat("N", Width-1))

	_, _, err := s.Align(query, database, arena)
	require.NoError(t, err)
	ops := arena.Slice(cigar.Range{Begin: 0, End: arena.Len()})
	if len(ops) > 0 {
		assert.NotEqual(t, cigar.Delete, ops[0].Type())
		assert.NotEqual(t, cigar.Delete, ops[len(ops)-1].Type())
	}
}

func TestAlignRejectsWrongDatabaseLength(t *testing.T) {
	s := New(1, -4, -6, -1, 300)
	arena := cigar.NewArena()
	query := []byte("ACGTACGT")
	_, _, err := s.Align(query, query, arena)
	require.Error(t, err)
}

func TestAlignRejectsOverlongQuery(t *testing.T) {
	s := New(1, -4, -6, -1, 4)
	arena := cigar.NewArena()
	query := []byte("ACGTACGT")
	database := make([]byte, len(query)+Width-1)
	_, _, err := s.Align(query, database, arena)
	require.Error(t, err)
}

func TestAlignEmptyQuery(t *testing.T) {
	s := New(1, -4, -6, -1, 300)
	arena := cigar.NewArena()
	rng, offset, err := s.Align(nil, nil, arena)
	require.NoError(t, err)
	assert.Equal(t, 0, offset)
	assert.True(t, rng.Empty())
}
